// File: dif/dix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DixGenerate/DixVerify implement the DIX form, where PI tuples live
// in a second, separate metadata buffer laid out as N x md_size bytes
// (§4.3 "dix_generate / dix_verify").

package dif

import "fmt"

var errBadLength = fmt.Errorf("dif: total length not a whole multiple of block size")

// DixGenerate stamps a PI tuple into each md_size-sized slot of md,
// one per cfg.BlockSize-sized block of data.
func DixGenerate(data Iovecs, md Iovecs, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PIType == TypeDisabled {
		return nil
	}
	if data.TotalLen()%cfg.BlockSize != 0 {
		return errBadLength
	}
	nblocks := data.TotalLen() / cfg.BlockSize
	if md.TotalLen() != nblocks*cfg.MDSize {
		return errBadLength
	}

	dataScratch := make([]byte, cfg.BlockSize)
	mdScratch := make([]byte, cfg.MDSize)
	refTag := cfg.InitRefTag
	guardLen := cfg.BlockSize

	for i := 0; i < nblocks; i++ {
		dOff := i * cfg.BlockSize
		mOff := i * cfg.MDSize

		dblock, _ := blockView(data, dOff, cfg.BlockSize, dataScratch)
		mblock, mFromScratch := blockView(md, mOff, cfg.MDSize, mdScratch)

		tag := PITuple{AppTag: cfg.AppTag, RefTag: refTag}
		if cfg.Flags&CheckGuard != 0 {
			tag.Guard = CRC16T10DIF(0, dblock[:guardLen])
		}
		piOff := 0
		if !cfg.MDStart {
			piOff = cfg.MDSize - PITupleSize
		}
		tag.Marshal(mblock[piOff : piOff+PITupleSize])

		if mFromScratch {
			writeBack(md, mOff, mblock)
		}
		if cfg.PIType == Type1 || cfg.PIType == Type2 {
			refTag++
		}
	}
	return nil
}

// DixVerify recomputes and compares PI tuples held in the separate md
// buffer against the data blocks.
func DixVerify(data Iovecs, md Iovecs, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PIType == TypeDisabled {
		return nil
	}
	if data.TotalLen()%cfg.BlockSize != 0 {
		return errBadLength
	}
	nblocks := data.TotalLen() / cfg.BlockSize
	if md.TotalLen() != nblocks*cfg.MDSize {
		return errBadLength
	}

	dataScratch := make([]byte, cfg.BlockSize)
	mdScratch := make([]byte, cfg.MDSize)
	refTag := cfg.InitRefTag

	for i := 0; i < nblocks; i++ {
		dOff := i * cfg.BlockSize
		mOff := i * cfg.MDSize

		dblock, _ := blockView(data, dOff, cfg.BlockSize, dataScratch)
		mblock, _ := blockView(md, mOff, cfg.MDSize, mdScratch)

		piOff := 0
		if !cfg.MDStart {
			piOff = cfg.MDSize - PITupleSize
		}
		tag := UnmarshalPITuple(mblock[piOff : piOff+PITupleSize])

		if err := verifyTuple(cfg, tag, dblock, refTag, i, dOff); err != nil {
			return err
		}
		if cfg.PIType == Type1 || cfg.PIType == Type2 {
			refTag++
		}
	}
	return nil
}

// InjectError corrupts the guard field of the PI tuple belonging to
// blockIdx in an interleaved (DIF) buffer, used by tests to exercise
// the verify path.
func InjectError(vs Iovecs, cfg Config, blockIdx int) error {
	ext := cfg.extendedBlockSize()
	offset := blockIdx*ext + cfg.piOffset()
	if offset+PITupleSize > vs.TotalLen() {
		return errBadLength
	}
	var buf [PITupleSize]byte
	CopyToContig(vs, offset, PITupleSize, buf[:])
	tag := UnmarshalPITuple(buf[:])
	tag.Guard ^= 0xFFFF
	tag.Marshal(buf[:])
	CopyFromContig(vs, offset, PITupleSize, buf[:])
	return nil
}
