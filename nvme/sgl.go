// File: nvme/sgl.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NVMe SGL descriptor wire encoding (§3 "SGL forms (wire)").
//
// Byte 0-7 is always the address (or, for the unkeyed OFFSET form, the
// in-capsule offset). Byte 15's nibbles always carry type/subtype.
// The middle 7 bytes (8-14) are interpreted two ways depending on
// subtype: the keyed forms pack a 24-bit length plus a 32-bit rkey
// (length:24 | key:32 = 56 bits, little-endian); the unkeyed
// OFFSET form instead carries a plain 32-bit length in bytes 8-11 and
// reserved bytes 12-14.

package nvme

import "encoding/binary"

// SGLType occupies the high nibble of the descriptor's type byte.
type SGLType uint8

const (
	SGLTypeDataBlock   SGLType = 0x0 // keyed or unkeyed data block
	SGLTypeLastSegment SGLType = 0x3 // last segment of a keyed SGL array
)

// SGLSubtype occupies the low nibble of the descriptor's type byte.
type SGLSubtype uint8

const (
	SGLSubtypeAddress       SGLSubtype = 0x0 // keyed data block, RDMA address+rkey
	SGLSubtypeOffset        SGLSubtype = 0x1 // unkeyed, in-capsule offset
	SGLSubtypeInvalidateKey SGLSubtype = 0xf // keyed, triggers SEND_WITH_INVALIDATE
)

// SGLDescriptor is the 16-byte NVMe SGL descriptor carried in the
// command's single leading SGL slot (DWord6-9), or repeated in a
// trailing last-segment array.
type SGLDescriptor struct {
	Address    uint64     // address (keyed) or in-capsule offset (unkeyed OFFSET)
	Length     uint32     // length in bytes; keyed forms hold 24 significant bits
	Key        uint32     // rkey for keyed forms; unused for the OFFSET subtype
	SubtypeVal SGLSubtype
	TypeVal    SGLType
}

func (d *SGLDescriptor) isKeyedLayout() bool {
	return d.SubtypeVal != SGLSubtypeOffset
}

// Marshal encodes the descriptor into a 16-byte little-endian buffer.
func (d *SGLDescriptor) Marshal(dst []byte) {
	_ = dst[:SGLDescSize]
	binary.LittleEndian.PutUint64(dst[0:8], d.Address)
	if d.isKeyedLayout() {
		length := d.Length & 0x00FFFFFF
		dst[8] = byte(length)
		dst[9] = byte(length >> 8)
		dst[10] = byte(length >> 16)
		dst[11] = byte(d.Key)
		dst[12] = byte(d.Key >> 8)
		dst[13] = byte(d.Key >> 16)
		dst[14] = byte(d.Key >> 24)
	} else {
		binary.LittleEndian.PutUint32(dst[8:12], d.Length)
		dst[12], dst[13], dst[14] = 0, 0, 0
	}
	dst[15] = byte(d.SubtypeVal&0x0F) | byte(d.TypeVal&0x0F)<<4
}

// Unmarshal decodes a 16-byte little-endian buffer into the descriptor.
// The type/subtype byte at offset 15 is read first since it decides
// how to interpret bytes 8-14.
func (d *SGLDescriptor) Unmarshal(src []byte) {
	_ = src[:SGLDescSize]
	d.Address = binary.LittleEndian.Uint64(src[0:8])
	d.SubtypeVal = SGLSubtype(src[15] & 0x0F)
	d.TypeVal = SGLType(src[15] >> 4)
	if d.isKeyedLayout() {
		d.Length = uint32(src[8]) | uint32(src[9])<<8 | uint32(src[10])<<16
		d.Key = uint32(src[11]) | uint32(src[12])<<8 | uint32(src[13])<<16 | uint32(src[14])<<24
	} else {
		d.Length = binary.LittleEndian.Uint32(src[8:12])
		d.Key = 0
	}
}

// IsKeyedDataBlock reports the "keyed data-block" form (§3 form 1).
func (d *SGLDescriptor) IsKeyedDataBlock() bool {
	return d.TypeVal == SGLTypeDataBlock && d.SubtypeVal != SGLSubtypeOffset
}

// IsUnkeyedOffset reports the in-capsule "unkeyed OFFSET" form (§3 form 2).
func (d *SGLDescriptor) IsUnkeyedOffset() bool {
	return d.TypeVal == SGLTypeDataBlock && d.SubtypeVal == SGLSubtypeOffset
}

// IsLastSegment reports the "last segment of keyed SGLs" form (§3 form 3).
func (d *SGLDescriptor) IsLastSegment() bool {
	return d.TypeVal == SGLTypeLastSegment
}

// WantsInvalidate reports whether the keyed descriptor carries the
// INVALIDATE_KEY subtype, requiring a SEND_WITH_INVALIDATE completion.
func (d *SGLDescriptor) WantsInvalidate() bool {
	return d.SubtypeVal == SGLSubtypeInvalidateKey
}
