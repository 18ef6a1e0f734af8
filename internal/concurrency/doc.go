// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency provides the single-goroutine timer scheduler
// (Scheduler) that connmgr hands to rdmacm to arm the stale-connection
// retry backoff without blocking its own event-drain loop.
package concurrency
