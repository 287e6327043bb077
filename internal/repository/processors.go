package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/lib/pq"

	"github.com/aura/underwriting/internal/core"
)

const underwritingProcessorColumns = `id, organization_id, underwriting_id, organization_processor_id,
	processor, name, auto, enabled, config_override, effective_config, current_executions_list,
	created_at, updated_at`

// ProcessorRepository persists processor subscriptions and their
// per-underwriting instances.
type ProcessorRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewProcessorRepository(db *sql.DB) *ProcessorRepository {
	return &ProcessorRepository{
		db:     db,
		logger: log.New(log.Writer(), "[PROCESSOR-REPO] ", log.LstdFlags),
	}
}

func (r *ProcessorRepository) GetByID(ctx context.Context, id string) (*core.UnderwritingProcessor, error) {
	q := fmt.Sprintf(`SELECT %s FROM underwriting_processors WHERE id = $1`, underwritingProcessorColumns)
	up, err := scanUnderwritingProcessor(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get underwriting processor %s: %w", id, err)
	}
	return up, nil
}

func (r *ProcessorRepository) ListAutoEnabled(ctx context.Context, underwritingID string) ([]core.UnderwritingProcessor, error) {
	q := fmt.Sprintf(`SELECT %s FROM underwriting_processors
		WHERE underwriting_id = $1 AND auto = true AND enabled = true
		ORDER BY created_at`, underwritingProcessorColumns)
	rows, err := r.db.QueryContext(ctx, q, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list processors for %s: %w", underwritingID, err)
	}
	defer rows.Close()

	var out []core.UnderwritingProcessor
	for rows.Next() {
		up, err := scanUnderwritingProcessor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan underwriting processor row: %w", err)
		}
		out = append(out, *up)
	}
	return out, rows.Err()
}

// ListByUnderwriting returns every processor instance of one case,
// enabled or not. Serves the read API.
func (r *ProcessorRepository) ListByUnderwriting(ctx context.Context, underwritingID string) ([]core.UnderwritingProcessor, error) {
	q := fmt.Sprintf(`SELECT %s FROM underwriting_processors
		WHERE underwriting_id = $1
		ORDER BY created_at`, underwritingProcessorColumns)
	rows, err := r.db.QueryContext(ctx, q, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list processors for %s: %w", underwritingID, err)
	}
	defer rows.Close()

	var out []core.UnderwritingProcessor
	for rows.Next() {
		up, err := scanUnderwritingProcessor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan underwriting processor row: %w", err)
		}
		out = append(out, *up)
	}
	return out, rows.Err()
}

func (r *ProcessorRepository) UpdateCurrentExecutions(ctx context.Context, id string, executionIDs []string) error {
	if executionIDs == nil {
		executionIDs = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE underwriting_processors
		SET current_executions_list = $2, updated_at = now()
		WHERE id = $1`,
		id, pq.Array(executionIDs))
	if err != nil {
		return fmt.Errorf("failed to update current executions for %s: %w", id, err)
	}
	r.logger.Printf("💾 Processor %s current_executions_list -> %d entries", id, len(executionIDs))
	return nil
}

func (r *ProcessorRepository) GetOrganizationProcessor(ctx context.Context, id string) (*core.OrganizationProcessor, error) {
	var (
		op     core.OrganizationProcessor
		config []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, processor, name, auto, status, config, price_cents,
		       created_at, updated_at
		FROM organization_processors
		WHERE id = $1`, id).Scan(
		&op.ID, &op.OrganizationID, &op.Processor, &op.Name, &op.Auto, &op.Status,
		&config, &op.PriceCents, &op.CreatedAt, &op.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization processor %s: %w", id, err)
	}
	if op.Config, err = unmarshalMap(config); err != nil {
		return nil, err
	}
	return &op, nil
}

func scanUnderwritingProcessor(row rowScanner) (*core.UnderwritingProcessor, error) {
	var (
		up       core.UnderwritingProcessor
		override []byte
		config   []byte
		list     pq.StringArray
	)
	err := row.Scan(
		&up.ID, &up.OrganizationID, &up.UnderwritingID, &up.OrganizationProcessorID,
		&up.Processor, &up.Name, &up.Auto, &up.Enabled, &override, &config, &list,
		&up.CreatedAt, &up.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if up.ConfigOverride, err = unmarshalMap(override); err != nil {
		return nil, err
	}
	if up.EffectiveConfig, err = unmarshalMap(config); err != nil {
		return nil, err
	}
	up.CurrentExecutionsList = []string(list)
	return &up, nil
}
