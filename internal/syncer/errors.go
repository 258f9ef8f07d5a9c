package syncer

import (
	"fmt"
	"time"
)

// ErrorKind tells which sync step failed.
type ErrorKind string

const (
	KindFetch     ErrorKind = "fetch"
	KindSubscribe ErrorKind = "subscribe"
	KindPush      ErrorKind = "push"
)

// SyncError is the sticky error condition reported by Status until it is acknowledged.
type SyncError struct {
	Kind ErrorKind
	Err  error
	At   time.Time
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
