// Package api
// Author: momentics <momentics@gmail.com>
//
// Sentinel errors shared by callers that predate a concrete request
// (e.g. a Scheduler rejecting a nil callback); the negated-errno
// taxonomy used once a request exists is internal/errs.

package api

import "fmt"

// ErrInvalidArgument is returned by collaborators (e.g. Scheduler.Schedule)
// for malformed arguments caught before any request-level error path applies.
var ErrInvalidArgument = fmt.Errorf("invalid argument")
