// File: tgtreq/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tgtreq

import "github.com/momentics/nvmeof-rdma/nvme"

// BackendOp identifies the back-end operation a request drives in
// EXECUTING (§6 "Back-end (block device) interface").
type BackendOp int

const (
	OpRead BackendOp = iota
	OpWrite
	OpUnmap
	OpFlush
	OpReset
	OpCompare
	OpCompareAndWrite
	OpWriteZeroes
	OpZoneReport
	OpZoneManagement
	OpNVMePassthrough
)

// CompletionFunc is invoked by a Backend once a submitted operation
// finishes, carrying the NVMe status to set on the response capsule.
type CompletionFunc func(sct nvme.StatusCodeType, sc nvme.StatusCode)

// Backend is the narrow block-device contract C9 drives requests
// against (§6). Implemented by package backend; declared here, at the
// consumer, per Go convention.
type Backend interface {
	BlockSize() uint32
	NumBlocks() uint64
	MDSize() uint32
	IsMDInterleaved() bool
	DIFType() int
	IsDIFCheckEnabled() bool

	Submit(req *Request, op BackendOp, cb CompletionFunc) error
	AbortRequest(req *Request) error
}
