// File: dif/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dif

import "fmt"

// ErrorKind identifies which PI field failed verification.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorGuard
	ErrorAppTag
	ErrorRefTag
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorGuard:
		return "guard check error"
	case ErrorAppTag:
		return "application tag check error"
	case ErrorRefTag:
		return "reference tag check error"
	default:
		return "none"
	}
}

// CheckError reports the first failing block found by Verify/DixVerify,
// matching §4.3's "(err_type, err_offset)" return contract.
type CheckError struct {
	Kind       ErrorKind
	BlockIndex int
	ByteOffset int
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("dif: %s at block %d (offset %d)", e.Kind, e.BlockIndex, e.ByteOffset)
}
