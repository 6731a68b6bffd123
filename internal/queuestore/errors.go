// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package queuestore

import (
	"fmt"
	"time"
)

// LostMasterError is returned by WaitForMaster when master-status never
// reaches "ready" or "finished" before master_wait_timeout elapses.
type LostMasterError struct {
	ObservedStatus string // empty when the key was never even set
	Timeout        time.Duration
}

func (e *LostMasterError) Error() string {
	status := e.ObservedStatus
	if status == "" {
		status = "<absent>"
	}
	return fmt.Sprintf("master worker is %s after %s waiting", status, e.Timeout)
}
