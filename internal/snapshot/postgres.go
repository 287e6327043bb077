package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// PostgresArchiver stores snapshots in the factor_snapshot table next
// to the live data.
type PostgresArchiver struct {
	db      *sql.DB
	factors FactorSource
	logger  *slog.Logger
}

func NewPostgresArchiver(db *sql.DB, factors FactorSource) *PostgresArchiver {
	return &PostgresArchiver{
		db:      db,
		factors: factors,
		logger:  slog.With("component", "snapshot", "backend", BackendPostgres),
	}
}

func (a *PostgresArchiver) Archive(ctx context.Context, underwritingID, workflow string) (*Record, error) {
	list, err := a.factors.ListActive(ctx, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("load active factors: %w", err)
	}
	rec := newRecord(underwritingID, workflow, list)

	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshal factors: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO factor_snapshot (id, underwriting_id, workflow_name, content_hash, factors, factor_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		rec.ID, rec.UnderwritingID, rec.Workflow, rec.ContentHash, raw, rec.FactorCount,
	)
	if err != nil {
		return nil, fmt.Errorf("insert factor snapshot: %w", err)
	}

	a.logger.Info("factor snapshot archived",
		"underwriting_id", underwritingID,
		"workflow", workflow,
		"factor_count", rec.FactorCount,
	)
	return rec, nil
}

func (a *PostgresArchiver) Latest(ctx context.Context, underwritingID string) (*Record, error) {
	var (
		rec Record
		raw []byte
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, underwriting_id, workflow_name, content_hash, factors, factor_count, created_at
		FROM factor_snapshot
		WHERE underwriting_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		underwritingID,
	).Scan(&rec.ID, &rec.UnderwritingID, &rec.Workflow, &rec.ContentHash, &raw, &rec.FactorCount, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load factor snapshot: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot factors: %w", err)
		}
	}
	return &rec, nil
}

func (a *PostgresArchiver) Close() error { return nil }
