package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/engine"
)

const executionColumns = `id, organization_id, underwriting_id, underwriting_processor_id,
	processor, status, enabled, payload, payload_hash, factors_delta, run_cost_cents,
	started_at, completed_at, failed_code, failed_reason, updated_execution_id,
	created_at, updated_at`

// ExecutionRepository persists processor execution rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{
		db:     db,
		logger: log.New(log.Writer(), "[EXECUTION-REPO] ", log.LstdFlags),
	}
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*core.Execution, error) {
	q := fmt.Sprintf(`SELECT %s FROM processor_executions WHERE id = $1`, executionColumns)
	e, err := scanExecution(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return e, nil
}

// FindByHash resolves the duplicate-detection lookup: the newest live
// (non-superseded) execution of this processor instance carrying the
// same payload hash. Rerun cloning inserts the clone before superseding
// the original, so two live rows can briefly share a hash.
func (r *ExecutionRepository) FindByHash(ctx context.Context, underwritingProcessorID, payloadHash string) (*core.Execution, error) {
	q := fmt.Sprintf(`SELECT %s FROM processor_executions
		WHERE underwriting_processor_id = $1
		  AND payload_hash = $2
		  AND updated_execution_id IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, executionColumns)
	e, err := scanExecution(r.db.QueryRowContext(ctx, q, underwritingProcessorID, payloadHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find execution by hash: %w", err)
	}
	return e, nil
}

func (r *ExecutionRepository) Insert(ctx context.Context, e *core.Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := marshalMap(e.Payload)
	if err != nil {
		return err
	}
	delta, err := marshalMap(e.FactorsDelta)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO processor_executions (
			id, organization_id, underwriting_id, underwriting_processor_id,
			processor, status, enabled, payload, payload_hash, factors_delta,
			run_cost_cents, started_at, completed_at, failed_code, failed_reason,
			updated_execution_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())`,
		e.ID, e.OrganizationID, e.UnderwritingID, e.UnderwritingProcessorID,
		e.Processor, string(e.Status), e.Enabled, payload, e.PayloadHash, delta,
		e.RunCostCents, e.StartedAt, e.CompletedAt, nullStr(e.FailedCode), nullStr(e.FailedReason),
		nullStr(e.UpdatedExecutionID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", e.ID, err)
	}
	return nil
}

// Supersede is a compare-and-set on updated_execution_id being null, so
// concurrent workflows cannot both claim the same predecessor.
func (r *ExecutionRepository) Supersede(ctx context.Context, oldID, newID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processor_executions
		SET updated_execution_id = $2, updated_at = now()
		WHERE id = $1 AND updated_execution_id IS NULL`,
		oldID, newID)
	if err != nil {
		return false, fmt.Errorf("failed to supersede execution %s: %w", oldID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to supersede execution %s: %w", oldID, err)
	}
	if n > 0 {
		r.logger.Printf("🔁 Execution %s superseded by %s", oldID, newID)
	}
	return n > 0, nil
}

func (r *ExecutionRepository) MarkRunning(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE processor_executions
		SET status = $2, started_at = now(), updated_at = now()
		WHERE id = $1`,
		id, string(core.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("failed to mark execution %s running: %w", id, err)
	}
	return nil
}

func (r *ExecutionRepository) MarkCompleted(ctx context.Context, id string, res *engine.Result) error {
	delta, err := marshalMap(res.Output)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE processor_executions
		SET status = $2, factors_delta = $3, run_cost_cents = $4,
		    started_at = $5, completed_at = $6,
		    failed_code = NULL, failed_reason = NULL, updated_at = now()
		WHERE id = $1`,
		id, string(core.ExecutionCompleted), delta, res.RunCostCents,
		res.StartedAt, res.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to mark execution %s completed: %w", id, err)
	}
	return nil
}

func (r *ExecutionRepository) MarkFailed(ctx context.Context, id string, res *engine.Result) error {
	delta, err := marshalMap(res.Output)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE processor_executions
		SET status = $2, factors_delta = $3, run_cost_cents = $4,
		    started_at = $5, completed_at = $6,
		    failed_code = $7, failed_reason = $8, updated_at = now()
		WHERE id = $1`,
		id, string(core.ExecutionFailed), delta, res.RunCostCents,
		res.StartedAt, res.CompletedAt,
		nullStr(res.FailedCode), nullStr(res.FailedReason))
	if err != nil {
		return fmt.Errorf("failed to mark execution %s failed: %w", id, err)
	}
	return nil
}

func (r *ExecutionRepository) SetStatus(ctx context.Context, id string, status core.ExecutionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE processor_executions SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set execution %s status %s: %w", id, status, err)
	}
	return nil
}

func (r *ExecutionRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE processor_executions SET enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("failed to set execution %s enabled=%t: %w", id, enabled, err)
	}
	return nil
}

// ListActive loads the consolidation working set: enabled, completed
// executions on the current list, most recently completed first.
func (r *ExecutionRepository) ListActive(ctx context.Context, underwritingProcessorID string, ids []string) ([]core.Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM processor_executions
		WHERE underwriting_processor_id = $1
		  AND enabled = true
		  AND status = $2
		  AND id = ANY($3)
		ORDER BY completed_at DESC NULLS LAST, created_at DESC`, executionColumns)
	rows, err := r.db.QueryContext(ctx, q, underwritingProcessorID, string(core.ExecutionCompleted), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list active executions: %w", err)
	}
	defer rows.Close()

	var out []core.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListByUnderwriting returns every execution of an underwriting, newest
// first. Serves the read API.
func (r *ExecutionRepository) ListByUnderwriting(ctx context.Context, underwritingID string) ([]core.Execution, error) {
	q := fmt.Sprintf(`SELECT %s FROM processor_executions
		WHERE underwriting_id = $1
		ORDER BY created_at DESC`, executionColumns)
	rows, err := r.db.QueryContext(ctx, q, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for %s: %w", underwritingID, err)
	}
	defer rows.Close()

	var out []core.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*core.Execution, error) {
	var (
		e            core.Execution
		status       string
		payload      []byte
		delta        []byte
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		failedCode   sql.NullString
		failedReason sql.NullString
		supersededBy sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.UnderwritingID, &e.UnderwritingProcessorID,
		&e.Processor, &status, &e.Enabled, &payload, &e.PayloadHash, &delta, &e.RunCostCents,
		&startedAt, &completedAt, &failedCode, &failedReason, &supersededBy,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = core.ExecutionStatus(status)
	if e.Payload, err = unmarshalMap(payload); err != nil {
		return nil, err
	}
	if e.FactorsDelta, err = unmarshalMap(delta); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		e.CompletedAt = &t
	}
	e.FailedCode = failedCode.String
	e.FailedReason = failedReason.String
	e.UpdatedExecutionID = supersededBy.String
	return &e, nil
}
