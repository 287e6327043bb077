package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/engine"
)

// FactorRepository persists consolidated factors. Deletes are soft:
// rows flip to status=deleted and stay queryable for audit.
type FactorRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewFactorRepository(db *sql.DB) *FactorRepository {
	return &FactorRepository{
		db:     db,
		logger: log.New(log.Writer(), "[FACTOR-REPO] ", log.LstdFlags),
	}
}

// Upsert writes one factor keyed by (underwriting_id, factor_key,
// execution_id, status=active). Consolidation runs under the per-case
// serialization lock, so the select-then-write pair needs no
// transaction.
func (r *FactorRepository) Upsert(ctx context.Context, f *core.Factor) (engine.FactorUpsertResult, error) {
	var existingID, existingHash string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, factor_hash FROM factor
		WHERE underwriting_id = $1 AND factor_key = $2 AND execution_id = $3 AND status = $4`,
		f.UnderwritingID, f.Key, f.ExecutionID, string(core.FactorActive),
	).Scan(&existingID, &existingHash)

	switch {
	case err == sql.ErrNoRows:
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		value, merr := json.Marshal(f.Value)
		if merr != nil {
			return "", fmt.Errorf("failed to marshal factor %s value: %w", f.Key, merr)
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO factor (
				id, organization_id, underwriting_id, underwriting_processor_id,
				execution_id, factor_key, value, unit, source, status, factor_hash,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`,
			f.ID, f.OrganizationID, f.UnderwritingID, f.UnderwritingProcessorID,
			f.ExecutionID, f.Key, value, nullStr(f.Unit), f.Source, string(f.Status), f.FactorHash,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert factor %s: %w", f.Key, err)
		}
		return engine.FactorInserted, nil

	case err != nil:
		return "", fmt.Errorf("failed to look up factor %s: %w", f.Key, err)
	}

	if existingHash == f.FactorHash {
		return engine.FactorUnchanged, nil
	}

	value, merr := json.Marshal(f.Value)
	if merr != nil {
		return "", fmt.Errorf("failed to marshal factor %s value: %w", f.Key, merr)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE factor SET value = $2, factor_hash = $3, unit = $4, updated_at = now()
		WHERE id = $1`,
		existingID, value, f.FactorHash, nullStr(f.Unit))
	if err != nil {
		return "", fmt.Errorf("failed to update factor %s: %w", f.Key, err)
	}
	return engine.FactorUpdated, nil
}

func (r *FactorRepository) DeleteByExecution(ctx context.Context, executionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE factor SET status = $2, updated_at = now()
		WHERE execution_id = $1 AND status = $3`,
		executionID, string(core.FactorDeleted), string(core.FactorActive))
	if err != nil {
		return 0, fmt.Errorf("failed to delete factors for execution %s: %w", executionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete factors for execution %s: %w", executionID, err)
	}
	if n > 0 {
		r.logger.Printf("🗑️ Soft-deleted %d factors for execution %s", n, executionID)
	}
	return n, nil
}

func (r *FactorRepository) DeleteByProcessor(ctx context.Context, underwritingID, underwritingProcessorID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE factor SET status = $2, updated_at = now()
		WHERE underwriting_id = $1 AND underwriting_processor_id = $3 AND status = $4`,
		underwritingID, string(core.FactorDeleted), underwritingProcessorID, string(core.FactorActive))
	if err != nil {
		return 0, fmt.Errorf("failed to delete factors for processor %s: %w", underwritingProcessorID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete factors for processor %s: %w", underwritingProcessorID, err)
	}
	if n > 0 {
		r.logger.Printf("🗑️ Soft-deleted %d factors for processor %s", n, underwritingProcessorID)
	}
	return n, nil
}

func (r *FactorRepository) ListActive(ctx context.Context, underwritingID string) ([]core.Factor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, underwriting_id, underwriting_processor_id,
		       execution_id, factor_key, value, unit, source, status, factor_hash,
		       created_at, updated_at
		FROM factor
		WHERE underwriting_id = $1 AND status = $2
		ORDER BY created_at DESC`,
		underwritingID, string(core.FactorActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list factors for %s: %w", underwritingID, err)
	}
	defer rows.Close()

	var out []core.Factor
	for rows.Next() {
		var (
			f      core.Factor
			value  []byte
			unit   sql.NullString
			status string
		)
		if err := rows.Scan(
			&f.ID, &f.OrganizationID, &f.UnderwritingID, &f.UnderwritingProcessorID,
			&f.ExecutionID, &f.Key, &value, &unit, &f.Source, &status, &f.FactorHash,
			&f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan factor row: %w", err)
		}
		if len(value) > 0 {
			if err := json.Unmarshal(value, &f.Value); err != nil {
				return nil, fmt.Errorf("failed to unmarshal factor %s value: %w", f.Key, err)
			}
		}
		f.Unit = unit.String
		f.Status = core.FactorStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}
