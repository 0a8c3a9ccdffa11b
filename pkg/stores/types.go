package stores

import (
	"context"
	"time"

	"github.com/openconveyor/conveyor/pkg/dispatch"
)

// ExecutionStatus is the terminal status of one dispatch.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailure ExecutionStatus = "failure"
)

// Execution is one stored dispatch record.
type Execution struct {
	ID          int64           `json:"id"`
	ModuleID    string          `json:"module_id"`
	RequestID   string          `json:"request_id"`
	Status      ExecutionStatus `json:"status"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Attempts    int             `json:"attempts"`
	DurationMS  int64           `json:"duration_ms"`
	Environment string          `json:"environment"`
	StartedAt   time.Time       `json:"started_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ExecutionFilter narrows ListExecutions. Nil fields match everything.
type ExecutionFilter struct {
	ModuleID    *string
	Status      *ExecutionStatus
	Environment *string
}

// Store is the execution history interface.
type Store interface {
	// RecordExecution persists one dispatch record. Satisfies
	// dispatch.Recorder.
	RecordExecution(ctx context.Context, rec dispatch.ExecutionRecord) error

	// GetExecution retrieves a record by request id.
	GetExecution(ctx context.Context, requestID string) (*Execution, error)

	// ListExecutions lists records newest first with pagination.
	ListExecutions(ctx context.Context, filter ExecutionFilter, limit, offset int) ([]*Execution, error)

	// PruneExecutions deletes records started before the cutoff and
	// returns how many were removed.
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)

	// HealthCheck verifies the backing database is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backing database.
	Close() error
}
