package gateway

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a lane already has both a running and a queued
// task of equal or higher priority.
var ErrBusy = errors.New("inference lane busy")

// ErrPreempted is delivered to a queued background task that lost its slot
// to a user-priority task.
var ErrPreempted = errors.New("queued task preempted")

// PanicError wraps a panic recovered inside a guarded task.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
