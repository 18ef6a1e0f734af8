// File: dif/iovec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scatter/gather iteration over an ordered sequence of byte regions
// (C1). Two traversal regimes are supported: a fast path when every
// iovec is a whole multiple of the block size, and a slow path that
// copies into a temporary contiguous buffer when blocks straddle
// iovec boundaries.

package dif

// Iovec is one scatter/gather region, analogous to a POSIX struct iovec.
type Iovec struct {
	Base []byte
}

// Len returns the length of the region.
func (v Iovec) Len() int { return len(v.Base) }

// Iovecs is an ordered sequence of regions treated as one logical
// byte stream.
type Iovecs []Iovec

// TotalLen returns the sum of all region lengths.
func (vs Iovecs) TotalLen() int {
	n := 0
	for _, v := range vs {
		n += v.Len()
	}
	return n
}

// IsBlockAligned reports whether every iovec's length is itself a
// whole multiple of blockSize, enabling the fast per-iovec path.
func (vs Iovecs) IsBlockAligned(blockSize int) bool {
	for _, v := range vs {
		if v.Len()%blockSize != 0 {
			return false
		}
	}
	return true
}

// blockView returns a view onto the logical block at [offset,
// offset+blockSize) within vs. When the block lies entirely within a
// single iovec (the fast path) it returns a direct slice into that
// iovec's backing array and fromScratch=false, so in-place writes by
// the caller are reflected immediately. Otherwise it copies the block
// into scratch (which must be at least blockSize bytes) and returns
// fromScratch=true; the caller must call writeBack to propagate any
// in-place mutation back to vs.
func blockView(vs Iovecs, offset, blockSize int, scratch []byte) (buf []byte, fromScratch bool) {
	pos := 0
	for _, v := range vs {
		if offset >= pos && offset+blockSize <= pos+v.Len() {
			start := offset - pos
			return v.Base[start : start+blockSize], false
		}
		pos += v.Len()
	}
	scratch = scratch[:blockSize]
	CopyToContig(vs, offset, blockSize, scratch)
	return scratch, true
}

// writeBack writes data back into the underlying iovecs starting at
// logical byte offset logicalOffset, used after the slow straddling
// path mutated a scratch copy of a block (e.g. stamping a PI tuple)
// and the change must be reflected in the source buffers.
func writeBack(vs Iovecs, logicalOffset int, data []byte) {
	CopyFromContig(vs, logicalOffset, len(data), data)
}

// CopyToContig copies length bytes starting at byte offset in vs into
// dst (which must be at least length bytes).
func CopyToContig(vs Iovecs, offset, length int, dst []byte) int {
	pos := 0
	copied := 0
	for _, v := range vs {
		if copied >= length {
			break
		}
		if pos+v.Len() <= offset {
			pos += v.Len()
			continue
		}
		start := offset - pos
		if start < 0 {
			start = 0
		}
		avail := v.Len() - start
		n := avail
		if n > length-copied {
			n = length - copied
		}
		copy(dst[copied:copied+n], v.Base[start:start+n])
		copied += n
		pos += v.Len()
	}
	return copied
}

// CopyFromContig copies length bytes from src into vs starting at byte
// offset offset.
func CopyFromContig(vs Iovecs, offset, length int, src []byte) int {
	pos := 0
	written := 0
	for _, v := range vs {
		if written >= length {
			break
		}
		if pos+v.Len() <= offset {
			pos += v.Len()
			continue
		}
		start := offset - pos
		if start < 0 {
			start = 0
		}
		avail := v.Len() - start
		n := avail
		if n > length-written {
			n = length - written
		}
		copy(v.Base[start:start+n], src[written:written+n])
		written += n
		pos += v.Len()
	}
	return written
}
