// Package store persists flow definitions and execution history. The
// Postgres implementation is the production backend; the in-memory one
// serves dev mode and tests.
package store

import (
	"context"
	"errors"

	"github.com/attachflow/relay/internal/model"
)

// ErrFlowNotFound is returned when no flow exists with the requested id for
// the requesting user.
var ErrFlowNotFound = errors.New("flow not found")

// FlowStore persists flow definitions. All reads and writes are scoped to a
// user; a flow is never visible outside its owner.
type FlowStore interface {
	CreateFlow(ctx context.Context, flow *model.FlowConfig) error
	GetFlow(ctx context.Context, userID, flowID string) (*model.FlowConfig, error)
	ListFlows(ctx context.Context, userID string) ([]model.FlowConfig, error)
	UpdateFlow(ctx context.Context, flow *model.FlowConfig) error
	DeleteFlow(ctx context.Context, userID, flowID string) error
}

// RunStore records execution history. Writes are best-effort: a failed
// history insert never fails the run it describes.
type RunStore interface {
	RecordRun(ctx context.Context, run *model.FlowRun) error
	ListRuns(ctx context.Context, userID, flowID string, limit int) ([]model.FlowRun, error)
}

// Store combines flow definitions and run history behind one seam.
type Store interface {
	FlowStore
	RunStore
}
