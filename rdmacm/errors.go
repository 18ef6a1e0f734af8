// File: rdmacm/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rdmacm

import "fmt"

var (
	ErrInvalidPrivateDataLength = fmt.Errorf("rdmacm: invalid private data length")
	ErrInvalidRecFmt            = fmt.Errorf("rdmacm: invalid recfmt")
	ErrUnexpectedEvent          = fmt.Errorf("rdmacm: unexpected event for current state")
	ErrStaleConnection          = fmt.Errorf("rdmacm: stale connection, retry")
	ErrDeviceRemoved            = fmt.Errorf("rdmacm: device removal")
)
