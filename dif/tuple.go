// File: dif/tuple.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dif

import "encoding/binary"

// PITuple is the 8-byte protection-information tuple: guard (CRC16),
// application tag, and reference tag, all big-endian on the wire.
type PITuple struct {
	Guard  uint16
	AppTag uint16
	RefTag uint32
}

// Marshal encodes the tuple into an 8-byte big-endian buffer.
func (t PITuple) Marshal(dst []byte) {
	_ = dst[:PITupleSize]
	binary.BigEndian.PutUint16(dst[0:2], t.Guard)
	binary.BigEndian.PutUint16(dst[2:4], t.AppTag)
	binary.BigEndian.PutUint32(dst[4:8], t.RefTag)
}

// UnmarshalPITuple decodes an 8-byte big-endian buffer into a tuple.
func UnmarshalPITuple(src []byte) PITuple {
	_ = src[:PITupleSize]
	return PITuple{
		Guard:  binary.BigEndian.Uint16(src[0:2]),
		AppTag: binary.BigEndian.Uint16(src[2:4]),
		RefTag: binary.BigEndian.Uint32(src[4:8]),
	}
}

// skipChecks reports whether a block's PI checks should be bypassed
// per the disable-value rules in §4.3.
func skipChecks(cfg Config, tag PITuple) bool {
	switch cfg.PIType {
	case Type1, Type2:
		return tag.AppTag == AppTagDisableValue
	case Type3:
		return tag.AppTag == AppTagDisableValue && tag.RefTag == RefTagDisableValue
	default:
		return true
	}
}
