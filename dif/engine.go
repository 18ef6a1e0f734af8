// File: dif/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Generate/Verify implement the interleaved (DIF) form, where each
// protection-information tuple sits inside the same buffer as the
// block's data, at BlockSize+MDSize granularity (§4.3).

package dif

// Generate stamps a PI tuple into every logical block of vs in place.
// vs must be laid out as consecutive (data+metadata) extended blocks
// of size cfg.extendedBlockSize().
func Generate(vs Iovecs, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PIType == TypeDisabled {
		return nil
	}
	ext := cfg.extendedBlockSize()
	total := vs.TotalLen()
	if total%ext != 0 {
		return errBadLength
	}
	nblocks := total / ext
	scratch := make([]byte, ext)
	refTag := cfg.InitRefTag

	for i := 0; i < nblocks; i++ {
		offset := i * ext
		block, fromScratch := blockView(vs, offset, ext, scratch)

		tag := PITuple{AppTag: cfg.AppTag, RefTag: refTag}
		if cfg.Flags&CheckGuard != 0 {
			tag.Guard = CRC16T10DIF(0, block[:cfg.guardInterval()])
		}
		piOff := cfg.piOffset()
		tag.Marshal(block[piOff : piOff+PITupleSize])

		if fromScratch {
			writeBack(vs, offset, block)
		}
		if cfg.PIType == Type1 || cfg.PIType == Type2 {
			refTag++
		}
	}
	return nil
}

// Verify recomputes and compares the PI tuple of every logical block
// in vs, returning a *CheckError describing the first failing block.
func Verify(vs Iovecs, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PIType == TypeDisabled {
		return nil
	}
	ext := cfg.extendedBlockSize()
	total := vs.TotalLen()
	if total%ext != 0 {
		return errBadLength
	}
	nblocks := total / ext
	scratch := make([]byte, ext)
	refTag := cfg.InitRefTag

	for i := 0; i < nblocks; i++ {
		offset := i * ext
		block, _ := blockView(vs, offset, ext, scratch)

		piOff := cfg.piOffset()
		tag := UnmarshalPITuple(block[piOff : piOff+PITupleSize])

		if err := verifyTuple(cfg, tag, block[:cfg.guardInterval()], refTag, i, offset); err != nil {
			return err
		}
		if cfg.PIType == Type1 || cfg.PIType == Type2 {
			refTag++
		}
	}
	return nil
}

func verifyTuple(cfg Config, tag PITuple, guardData []byte, expectRefTag uint32, blockIdx, offset int) error {
	if skipChecks(cfg, tag) {
		return nil
	}
	if cfg.Flags&CheckGuard != 0 {
		want := CRC16T10DIF(0, guardData)
		if want != tag.Guard {
			return &CheckError{Kind: ErrorGuard, BlockIndex: blockIdx, ByteOffset: offset}
		}
	}
	if cfg.Flags&CheckAppTag != 0 {
		if (tag.AppTag & cfg.AppTagMask) != (cfg.AppTag & cfg.AppTagMask) {
			return &CheckError{Kind: ErrorAppTag, BlockIndex: blockIdx, ByteOffset: offset}
		}
	}
	if cfg.Flags&CheckRefTag != 0 && cfg.PIType != Type3 {
		if tag.RefTag != expectRefTag {
			return &CheckError{Kind: ErrorRefTag, BlockIndex: blockIdx, ByteOffset: offset}
		}
	}
	return nil
}
