// File: nvme/completion.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// 16-byte NVMe completion queue entry (CQE), carried in a RECV buffer
// on initiator I/O/admin queues, and emitted by the target on the
// send-capsule path once a request completes.

package nvme

import "encoding/binary"

// CompletionSize is the fixed size of an NVMe completion queue entry.
const CompletionSize = 16

// Completion is the 16-byte NVMe CQE.
type Completion struct {
	DW0    uint32 // command-specific result
	DW1    uint32 // reserved for NVMe-oF; repurposed by some command sets
	SQHD   uint16 // submission queue head pointer
	SQID   uint16 // submission queue identifier
	CID    uint16 // command identifier, echoes the submitted command
	Status uint16 // phase tag (bit0) | status field (bits 1:15)
}

// Phase returns the completion's phase tag bit.
func (c *Completion) Phase() bool { return c.Status&0x1 != 0 }

// StatusField returns the 15-bit status field (SC, SCT, M, DNR, CRD).
func (c *Completion) StatusField() uint16 { return c.Status >> 1 }

// StatusCode returns the status code (SC) byte of the status field.
func (c *Completion) StatusCode() uint8 { return uint8(c.StatusField() & 0xFF) }

// StatusCodeType returns the status code type (SCT) field.
func (c *Completion) StatusCodeType() uint8 { return uint8((c.StatusField() >> 8) & 0x7) }

// SetStatus packs sct/sc and a phase bit into the Status field.
func (c *Completion) SetStatus(sct StatusCodeType, sc StatusCode, phase bool) {
	v := uint16(sc) | uint16(sct)<<8
	c.Status = v << 1
	if phase {
		c.Status |= 0x1
	}
}

// Marshal encodes the completion into a 16-byte little-endian buffer.
func (c *Completion) Marshal(dst []byte) {
	_ = dst[:CompletionSize]
	binary.LittleEndian.PutUint32(dst[0:4], c.DW0)
	binary.LittleEndian.PutUint32(dst[4:8], c.DW1)
	binary.LittleEndian.PutUint16(dst[8:10], c.SQHD)
	binary.LittleEndian.PutUint16(dst[10:12], c.SQID)
	binary.LittleEndian.PutUint16(dst[12:14], c.CID)
	binary.LittleEndian.PutUint16(dst[14:16], c.Status)
}

// Unmarshal decodes a 16-byte little-endian buffer into the completion.
func (c *Completion) Unmarshal(src []byte) {
	_ = src[:CompletionSize]
	c.DW0 = binary.LittleEndian.Uint32(src[0:4])
	c.DW1 = binary.LittleEndian.Uint32(src[4:8])
	c.SQHD = binary.LittleEndian.Uint16(src[8:10])
	c.SQID = binary.LittleEndian.Uint16(src[10:12])
	c.CID = binary.LittleEndian.Uint16(src[12:14])
	c.Status = binary.LittleEndian.Uint16(src[14:16])
}
