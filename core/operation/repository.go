package operation

import (
	"context"
	"errors"
	"time"
)

var (
	// errors
	ErrNotFound  = errors.New("operation not found")
	ErrTerminal  = errors.New("operation already finished")
	ErrQueueFull = errors.New("too many operations in progress; try again later")
)

// ScopeBusyError is returned when an active operation already covers part of the requested scope.
type ScopeBusyError struct {
	Blocking Operation
}

func (e *ScopeBusyError) Error() string {
	return "operation " + e.Blocking.ID + " is " + string(e.Blocking.Status) + " on an overlapping scope"
}

type Repository interface {
	// CreateOperation stores op unless an enqueued or running operation overlaps its scope,
	// in which case it returns a *ScopeBusyError. The check and the insert are atomic.
	CreateOperation(ctx context.Context, op Operation) (Operation, error)
	GetOperation(ctx context.Context, id string) (Operation, error)
	QueryOperations(ctx context.Context, filter QueryFilter) ([]Operation, error)
	// StartOperation moves an enqueued operation to running; ErrTerminal if it already finished.
	StartOperation(ctx context.Context, id string, at time.Time) (Operation, error)
	// FinishOperation stores a terminal op; ErrTerminal if the stored one is already terminal.
	FinishOperation(ctx context.Context, op Operation) error
	// FailActiveOperations fails every enqueued or running operation and returns how many it touched.
	FailActiveOperations(ctx context.Context, reason string, at time.Time) (int, error)
}
