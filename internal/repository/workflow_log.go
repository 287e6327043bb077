package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/aura/underwriting/internal/core"
)

// WorkflowLogRepository appends stage records to the test_workflow
// audit table. Writes are best effort from the engine's point of view;
// callers log failures and keep going.
type WorkflowLogRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewWorkflowLogRepository(db *sql.DB) *WorkflowLogRepository {
	return &WorkflowLogRepository{
		db:     db,
		logger: log.New(log.Writer(), "[WORKFLOW-LOG] ", log.LstdFlags),
	}
}

func (r *WorkflowLogRepository) LogStage(ctx context.Context, entry *core.WorkflowEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	payload, err := marshalMap(entry.Payload)
	if err != nil {
		return err
	}
	input, err := marshalMap(entry.Input)
	if err != nil {
		return err
	}
	output, err := marshalMap(entry.Output)
	if err != nil {
		return err
	}
	metadata, err := marshalMap(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO test_workflow (
			id, underwriting_id, workflow_name, stage, payload, input, payload_hash,
			output, status, error_message, execution_time_ms, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		entry.ID, entry.UnderwritingID, entry.WorkflowName, entry.Stage, payload, input,
		nullStr(entry.PayloadHash), output, entry.Status, nullStr(entry.ErrorMessage),
		entry.ExecutionTimeMS, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to log workflow stage %s/%s: %w", entry.WorkflowName, entry.Stage, err)
	}
	return nil
}

// ListByUnderwriting returns the audit trail of one case in the order
// stages ran.
func (r *WorkflowLogRepository) ListByUnderwriting(ctx context.Context, underwritingID string) ([]core.WorkflowEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, underwriting_id, workflow_name, stage, payload, input, payload_hash,
		       output, status, error_message, execution_time_ms, metadata, created_at
		FROM test_workflow
		WHERE underwriting_id = $1
		ORDER BY created_at ASC`, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow entries for %s: %w", underwritingID, err)
	}
	defer rows.Close()

	var out []core.WorkflowEntry
	for rows.Next() {
		var (
			e        core.WorkflowEntry
			payload  []byte
			input    []byte
			output   []byte
			metadata []byte
			hash     sql.NullString
			errMsg   sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.UnderwritingID, &e.WorkflowName, &e.Stage, &payload, &input, &hash,
			&output, &e.Status, &errMsg, &e.ExecutionTimeMS, &metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workflow entry: %w", err)
		}
		if e.Payload, err = unmarshalMap(payload); err != nil {
			return nil, err
		}
		if e.Input, err = unmarshalMap(input); err != nil {
			return nil, err
		}
		if e.Output, err = unmarshalMap(output); err != nil {
			return nil, err
		}
		if e.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, err
		}
		e.PayloadHash = hash.String
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}
