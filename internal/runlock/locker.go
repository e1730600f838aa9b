package runlock

import (
	"context"
	"errors"

	"github.com/attachflow/relay/internal/model"
)

// ErrFlowRunning is returned when a flow already holds an unexpired run lock.
var ErrFlowRunning = errors.New("flow execution already in progress")

// Locker defines the interface for flow run-lock management.
// Implementations guarantee at most one in-flight execution per flow.
type Locker interface {
	// Acquire attempts to take the run lock for a flow. It fails with
	// ErrFlowRunning while another unexpired run holds it.
	Acquire(ctx context.Context, flowID, userID, requestID string) (*model.RunLock, error)

	// Release removes the lock if the given request owns it. Releasing a
	// lock owned by another request is an error.
	Release(ctx context.Context, flowID, requestID string) error

	// Status returns the current lock, or nil when the flow is idle.
	Status(ctx context.Context, flowID string) (*model.RunLock, error)
}
