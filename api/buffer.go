// File: api/buffer.go
// Package api defines Buffer and BufferPool for registered RDMA memory.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Buffer represents a slice of registered memory backing an RDMA
// local/remote key pair. Converted to a struct to avoid interface
// boxing on the hot path.
type Buffer struct {
	Data  []byte
	LKey  uint32
	RKey  uint32
	Pool  Releaser
	Class int // io_unit_size class this buffer was drawn from
}

// Releaser decouples Buffer from a concrete pool implementation.
type Releaser interface {
	Put(Buffer)
}

// Bytes returns the full byte slice backing this Buffer.
func (b Buffer) Bytes() []byte { return b.Data }

// Copy returns a heap copy of the buffer's data.
func (b Buffer) Copy() []byte {
	dup := make([]byte, len(b.Data))
	copy(dup, b.Data)
	return dup
}

// Slice returns a new Buffer view sharing the same underlying memory
// and registration keys.
func (b Buffer) Slice(from, to int) Buffer {
	if from < 0 || to > len(b.Data) || from > to {
		return Buffer{LKey: b.LKey, RKey: b.RKey, Class: b.Class, Pool: b.Pool}
	}
	return Buffer{
		Data:  b.Data[from:to],
		LKey:  b.LKey,
		RKey:  b.RKey,
		Pool:  b.Pool,
		Class: b.Class,
	}
}

// Release returns the buffer to its owning pool.
func (b Buffer) Release() {
	if b.Pool != nil {
		b.Pool.Put(b)
	}
}

// Capacity returns the capacity of the underlying slice.
func (b Buffer) Capacity() int {
	return cap(b.Data)
}

// BufferPool provides registered-memory buffer allocation, sized in
// io_unit_size classes (§3 Transport options).
type BufferPool interface {
	Get(size int) (Buffer, error)
	Put(b Buffer)
	Stats() BufferPoolStats
}

// BufferPoolStats summarizes pool usage.
type BufferPoolStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
	Capacity   int64
}
