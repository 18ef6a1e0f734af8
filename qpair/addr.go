// File: qpair/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package qpair

import "unsafe"

// dataAddr returns the RDMA-registerable address of buf's backing
// array, standing in for the verbs SGE addr field.
func dataAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
