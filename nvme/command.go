// File: nvme/command.go
// Package nvme carries the byte-exact NVMe/NVMe-oF wire structures
// consumed as a fixed schema by the transport (see SPEC_FULL.md §6).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Layout follows the dswarbrick/go-nvme convention of a fixed-size Go
// struct decoded with encoding/binary, adapted from native-endian
// ioctl passthrough to explicit little-endian wire encoding.

package nvme

import "encoding/binary"

// CommandSize is the fixed size of an NVMe submission queue entry,
// the unit carried in a command capsule.
const CommandSize = 64

// SGLDescSize is the fixed size of one NVMe SGL descriptor.
const SGLDescSize = 16

// Opcode identifies the operation carried by a Command.
type Opcode uint8

// I/O opcodes (NVM command set).
const (
	OpcodeFlush            Opcode = 0x00
	OpcodeWrite            Opcode = 0x01
	OpcodeRead             Opcode = 0x02
	OpcodeWriteUncorrectable Opcode = 0x04
	OpcodeCompare          Opcode = 0x05
	OpcodeWriteZeroes      Opcode = 0x08
	OpcodeDatasetMgmt      Opcode = 0x09
	OpcodeReset            Opcode = 0x0a
	OpcodeCompareAndWrite  Opcode = 0x0b
	OpcodeZoneMgmtSend     Opcode = 0x79
	OpcodeZoneMgmtReceive  Opcode = 0x7a
)

// Admin opcodes.
const (
	OpcodeAdminCreateSQ   Opcode = 0x01
	OpcodeAdminCreateCQ   Opcode = 0x05
	OpcodeAdminIdentify   Opcode = 0x06
	OpcodeAdminAbort      Opcode = 0x08
	OpcodeAdminSetFeatures Opcode = 0x09
	OpcodeAdminGetFeatures Opcode = 0x0a
	OpcodeAdminKeepAlive  Opcode = 0x18
)

// Fabrics-specific opcode, used by both admin and I/O queues to
// carry CONNECT / PROPERTY_GET / PROPERTY_SET / AUTH commands.
const OpcodeFabrics Opcode = 0x7f

// FabricsCommandType occupies CDW0 byte 1 ("fctype") when Opcode ==
// OpcodeFabrics.
type FabricsCommandType uint8

const (
	FabricsTypePropertySet  FabricsCommandType = 0x00
	FabricsTypeConnect      FabricsCommandType = 0x01
	FabricsTypePropertyGet  FabricsCommandType = 0x04
	FabricsTypeAuthSend     FabricsCommandType = 0x05
	FabricsTypeAuthReceive  FabricsCommandType = 0x06
)

// XferDirection classifies a command's data-transfer direction, used
// by the target request state machine (§4.7) to choose the next state.
type XferDirection int

const (
	XferNone XferDirection = iota
	XferHostToController             // H2C: write-like
	XferControllerToHost             // C2H: read-like
	XferBidirectional
)

// XferDirection derives the transfer classification for an opcode.
// Only the opcodes relevant to this transport are classified; any
// other opcode is treated as XferNone (no RDMA data phase) by the
// caller, matching "xfer == NONE -> READY_TO_EXECUTE" in the state
// machine for opcodes that carry no payload.
func (op Opcode) XferDirection() XferDirection {
	switch op {
	case OpcodeWrite, OpcodeCompare, OpcodeCompareAndWrite, OpcodeDatasetMgmt, OpcodeZoneMgmtSend:
		return XferHostToController
	case OpcodeRead, OpcodeZoneMgmtReceive:
		return XferControllerToHost
	case OpcodeFlush, OpcodeWriteZeroes, OpcodeReset, OpcodeWriteUncorrectable:
		return XferNone
	default:
		return XferNone
	}
}

// Command is the 64-byte NVMe submission queue entry. Field names
// follow the NVMe base specification's DWord numbering.
type Command struct {
	OpcodeField Opcode // CDW0 byte0
	FuseAndPSDT uint8  // CDW0 byte1: fuse[1:0], reserved, psdt[1:0]
	CID         uint16 // CDW0 bytes2-3: command identifier
	NSID        uint32 // DWord1
	CDW2        uint32
	CDW3        uint32
	MPTR        uint64 // metadata pointer (DWord4-5)
	SGL         SGLDescriptor // DWord6-9: single SGL/PRP descriptor slot
	CDW10       uint32
	CDW11       uint32
	CDW12       uint32
	CDW13       uint32
	CDW14       uint32
	CDW15       uint32
}

// PSDT returns the PRP/SGL descriptor type field (bits 7:6 of byte1).
// A value of 0 means PRPs are used; 1/2 mean SGL is used. The RDMA
// transport always operates with PSDT indicating SGL use.
func (c *Command) PSDT() uint8 { return (c.FuseAndPSDT >> 6) & 0x3 }

// FabricsType reinterprets CDW0 byte1 as the fabrics command type,
// valid only when OpcodeField == OpcodeFabrics.
func (c *Command) FabricsType() FabricsCommandType {
	return FabricsCommandType(c.FuseAndPSDT)
}

// Marshal encodes the command into a 64-byte little-endian buffer.
func (c *Command) Marshal(dst []byte) {
	_ = dst[:CommandSize]
	dst[0] = byte(c.OpcodeField)
	dst[1] = c.FuseAndPSDT
	binary.LittleEndian.PutUint16(dst[2:4], c.CID)
	binary.LittleEndian.PutUint32(dst[4:8], c.NSID)
	binary.LittleEndian.PutUint32(dst[8:12], c.CDW2)
	binary.LittleEndian.PutUint32(dst[12:16], c.CDW3)
	binary.LittleEndian.PutUint64(dst[16:24], c.MPTR)
	c.SGL.Marshal(dst[24:40])
	binary.LittleEndian.PutUint32(dst[40:44], c.CDW10)
	binary.LittleEndian.PutUint32(dst[44:48], c.CDW11)
	binary.LittleEndian.PutUint32(dst[48:52], c.CDW12)
	binary.LittleEndian.PutUint32(dst[52:56], c.CDW13)
	binary.LittleEndian.PutUint32(dst[56:60], c.CDW14)
	binary.LittleEndian.PutUint32(dst[60:64], c.CDW15)
}

// Unmarshal decodes a 64-byte little-endian buffer into the command.
func (c *Command) Unmarshal(src []byte) {
	_ = src[:CommandSize]
	c.OpcodeField = Opcode(src[0])
	c.FuseAndPSDT = src[1]
	c.CID = binary.LittleEndian.Uint16(src[2:4])
	c.NSID = binary.LittleEndian.Uint32(src[4:8])
	c.CDW2 = binary.LittleEndian.Uint32(src[8:12])
	c.CDW3 = binary.LittleEndian.Uint32(src[12:16])
	c.MPTR = binary.LittleEndian.Uint64(src[16:24])
	c.SGL.Unmarshal(src[24:40])
	c.CDW10 = binary.LittleEndian.Uint32(src[40:44])
	c.CDW11 = binary.LittleEndian.Uint32(src[44:48])
	c.CDW12 = binary.LittleEndian.Uint32(src[48:52])
	c.CDW13 = binary.LittleEndian.Uint32(src[52:56])
	c.CDW14 = binary.LittleEndian.Uint32(src[56:60])
	c.CDW15 = binary.LittleEndian.Uint32(src[60:64])
}

// RWCommand is the DWord10-15 view of a Read/Write/Compare command.
type RWCommand struct {
	SLBA      uint64 // starting LBA, CDW10-11
	NLB       uint16 // number of logical blocks minus 1, CDW12[15:0]
	IOFlags   uint16 // CDW12[31:16]: PRACT/PRCHK/FUA/LR bits
	DSM       uint8  // CDW13[7:0]
	RefTag    uint32 // CDW14 initial/expected reference tag (type 1/2)
	AppTag    uint16 // CDW15[15:0]
	AppMask   uint16 // CDW15[31:16]
}

// I/O flag bits packed into RWCommand.IOFlags (CDW12 bits 16-31).
const (
	IOFlagPRACT      uint16 = 1 << 13
	IOFlagPRCHKGuard uint16 = 1 << 12
	IOFlagPRCHKApp   uint16 = 1 << 11
	IOFlagPRCHKRef   uint16 = 1 << 10
	IOFlagFUA        uint16 = 1 << 14
	IOFlagLR         uint16 = 1 << 15
)

// DecodeRW extracts the Read/Write view from a generic Command.
func DecodeRW(c *Command) RWCommand {
	slba := uint64(c.CDW10) | uint64(c.CDW11)<<32
	return RWCommand{
		SLBA:    slba,
		NLB:     uint16(c.CDW12 & 0xFFFF),
		IOFlags: uint16(c.CDW12 >> 16),
		DSM:     uint8(c.CDW13 & 0xFF),
		RefTag:  c.CDW14,
		AppTag:  uint16(c.CDW15 & 0xFFFF),
		AppMask: uint16(c.CDW15 >> 16),
	}
}

// EncodeRW packs an RWCommand back into CDW10-15.
func EncodeRW(c *Command, rw RWCommand) {
	c.CDW10 = uint32(rw.SLBA & 0xFFFFFFFF)
	c.CDW11 = uint32(rw.SLBA >> 32)
	c.CDW12 = uint32(rw.NLB) | uint32(rw.IOFlags)<<16
	c.CDW13 = uint32(rw.DSM)
	c.CDW14 = rw.RefTag
	c.CDW15 = uint32(rw.AppTag) | uint32(rw.AppMask)<<16
}
