package engine

import (
	"context"

	"github.com/aura/underwriting/internal/core"
)

// Store contracts the engine needs from persistence. The postgres
// implementations live in internal/repository; engine tests substitute
// in-memory fakes. Lookups return (nil, nil) when the row does not
// exist.

// UnderwritingStore loads case snapshots.
type UnderwritingStore interface {
	// GetSnapshot returns the underwriting with merchant, owners and
	// documents resolved.
	GetSnapshot(ctx context.Context, id string) (*core.Underwriting, error)
}

// ProcessorStore manages underwriting processor instances and their
// subscription config.
type ProcessorStore interface {
	GetByID(ctx context.Context, id string) (*core.UnderwritingProcessor, error)
	// ListAutoEnabled returns instances with enabled=true AND auto=true
	// for one underwriting.
	ListAutoEnabled(ctx context.Context, underwritingID string) ([]core.UnderwritingProcessor, error)
	// UpdateCurrentExecutions replaces the authoritative execution list.
	UpdateCurrentExecutions(ctx context.Context, id string, executionIDs []string) error
	// GetOrganizationProcessor resolves the owning subscription row.
	GetOrganizationProcessor(ctx context.Context, id string) (*core.OrganizationProcessor, error)
}

// ExecutionStore manages execution rows and their status transitions.
type ExecutionStore interface {
	GetByID(ctx context.Context, id string) (*core.Execution, error)
	// FindByHash returns the non-superseded execution matching
	// (underwriting_processor_id, payload_hash), or nil.
	FindByHash(ctx context.Context, underwritingProcessorID, payloadHash string) (*core.Execution, error)
	// Insert persists a new execution; the id is filled in when empty.
	Insert(ctx context.Context, e *core.Execution) error
	// Supersede links old -> new. The write is a compare-and-set on the
	// old row's updated_execution_id being null; superseding an already
	// superseded row is a no-op returning false.
	Supersede(ctx context.Context, oldID, newID string) (bool, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, res *Result) error
	MarkFailed(ctx context.Context, id string, res *Result) error
	SetStatus(ctx context.Context, id string, status core.ExecutionStatus) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	// ListActive returns executions with enabled=true AND
	// status=completed whose id is in ids, most recently completed first.
	ListActive(ctx context.Context, underwritingProcessorID string, ids []string) ([]core.Execution, error)
}

// FactorUpsertResult classifies what a consolidation upsert did.
type FactorUpsertResult string

const (
	FactorInserted  FactorUpsertResult = "inserted"
	FactorUpdated   FactorUpsertResult = "updated"
	FactorUnchanged FactorUpsertResult = "unchanged"
)

// FactorStore manages the factor table.
type FactorStore interface {
	// Upsert writes one factor keyed by (underwriting_id, factor_key,
	// execution_id). A matching active row with the same factor_hash is
	// a no-op; a differing row is updated in place.
	Upsert(ctx context.Context, f *core.Factor) (FactorUpsertResult, error)
	// DeleteByExecution soft-deletes all active factors attributed to
	// one execution; returns the number of rows flipped.
	DeleteByExecution(ctx context.Context, executionID string) (int64, error)
	// DeleteByProcessor soft-deletes all active factors of one
	// underwriting processor; returns the number of rows flipped.
	DeleteByProcessor(ctx context.Context, underwritingID, underwritingProcessorID string) (int64, error)
	ListActive(ctx context.Context, underwritingID string) ([]core.Factor, error)
}

// WorkflowAudit appends stage records to the workflow log. The log is
// diagnostic only; engine code logs write failures and moves on.
type WorkflowAudit interface {
	LogStage(ctx context.Context, entry *core.WorkflowEntry) error
}
