// File: rdmacm/privdata.go
// Package rdmacm implements the RDMA connection-manager event state
// machine and the NVMe-oF CONNECT private-data wire formats (§6).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rdmacm

import "encoding/binary"

// RecFmt is the private-data record format; only 0 is defined.
const RecFmt = 0

// ConnectRequestSize is the size of the request private-data blob.
const ConnectRequestSize = 32

// ConnectResponseSize is the size of the accept private-data blob.
const ConnectResponseSize = 32

// ConnectRejectSize is the size of the reject private-data blob.
const ConnectRejectSize = 4

// ConnectRequest is the private data carried by the active side's
// RDMA_CM CONNECT request.
type ConnectRequest struct {
	RecFmt  uint16
	QID     uint16
	HRQSize uint16 // host receive queue size
	HSQSize uint16 // host submission queue size
	CntlID  uint16
}

// Marshal encodes the request into a 32-byte buffer; bytes 10-31 are
// reserved and zeroed.
func (r *ConnectRequest) Marshal(dst []byte) {
	_ = dst[:ConnectRequestSize]
	binary.LittleEndian.PutUint16(dst[0:2], r.RecFmt)
	binary.LittleEndian.PutUint16(dst[2:4], r.QID)
	binary.LittleEndian.PutUint16(dst[4:6], r.HRQSize)
	binary.LittleEndian.PutUint16(dst[6:8], r.HSQSize)
	binary.LittleEndian.PutUint16(dst[8:10], r.CntlID)
	for i := 10; i < ConnectRequestSize; i++ {
		dst[i] = 0
	}
}

// Unmarshal decodes a request from a buffer at least ConnectRequestSize long.
func (r *ConnectRequest) Unmarshal(src []byte) error {
	if len(src) < ConnectRequestSize {
		return ErrInvalidPrivateDataLength
	}
	r.RecFmt = binary.LittleEndian.Uint16(src[0:2])
	r.QID = binary.LittleEndian.Uint16(src[2:4])
	r.HRQSize = binary.LittleEndian.Uint16(src[4:6])
	r.HSQSize = binary.LittleEndian.Uint16(src[6:8])
	r.CntlID = binary.LittleEndian.Uint16(src[8:10])
	return nil
}

// ConnectResponse is the private data carried by the passive side's
// RDMA_CM accept.
type ConnectResponse struct {
	RecFmt   uint16
	CRQSize  uint16 // controller receive queue size granted
}

// Marshal encodes the response into a 32-byte buffer.
func (r *ConnectResponse) Marshal(dst []byte) {
	_ = dst[:ConnectResponseSize]
	binary.LittleEndian.PutUint16(dst[0:2], r.RecFmt)
	binary.LittleEndian.PutUint16(dst[2:4], r.CRQSize)
	for i := 4; i < ConnectResponseSize; i++ {
		dst[i] = 0
	}
}

// Unmarshal decodes a response from a buffer at least ConnectResponseSize long.
func (r *ConnectResponse) Unmarshal(src []byte) error {
	if len(src) < ConnectResponseSize {
		return ErrInvalidPrivateDataLength
	}
	r.RecFmt = binary.LittleEndian.Uint16(src[0:2])
	r.CRQSize = binary.LittleEndian.Uint16(src[2:4])
	return nil
}

// RejectStatus enumerates the NVMe-oF RDMA CONNECT reject codes.
type RejectStatus uint16

const (
	RejectNoResources               RejectStatus = 1
	RejectInvalidIRD                RejectStatus = 2
	RejectInvalidORD                RejectStatus = 3
	RejectInvalidQType              RejectStatus = 4
	RejectInvalidRecFmt             RejectStatus = 5
	RejectInvalidQID                RejectStatus = 6
	RejectInvalidHSQSize            RejectStatus = 7
	RejectInvalidHRQSize            RejectStatus = 8
	RejectInvalidCntlID             RejectStatus = 9
	RejectInvalidPKey               RejectStatus = 10
	RejectInvalidPrivateDataLength  RejectStatus = 11
)

// ConnectReject is the private data carried by the passive side's
// RDMA_CM reject.
type ConnectReject struct {
	RecFmt uint16
	Status RejectStatus
}

// Marshal encodes the reject into a 4-byte buffer.
func (r *ConnectReject) Marshal(dst []byte) {
	_ = dst[:ConnectRejectSize]
	binary.LittleEndian.PutUint16(dst[0:2], r.RecFmt)
	binary.LittleEndian.PutUint16(dst[2:4], uint16(r.Status))
}

// Unmarshal decodes a reject from a buffer at least ConnectRejectSize long.
func (r *ConnectReject) Unmarshal(src []byte) error {
	if len(src) < ConnectRejectSize {
		return ErrInvalidPrivateDataLength
	}
	r.RecFmt = binary.LittleEndian.Uint16(src[0:2])
	r.Status = RejectStatus(binary.LittleEndian.Uint16(src[2:4]))
	return nil
}
