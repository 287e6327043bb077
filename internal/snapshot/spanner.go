package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/aura/underwriting/internal/core"
)

// SpannerArchiver stores snapshots in a Cloud Spanner database, for
// deployments where the archive must outlive the operational Postgres
// instance. Table:
//
//	CREATE TABLE FactorSnapshots (
//	  SnapshotId     STRING(36) NOT NULL,
//	  UnderwritingId STRING(36) NOT NULL,
//	  WorkflowName   STRING(64) NOT NULL,
//	  ContentHash    STRING(64) NOT NULL,
//	  Factors        STRING(MAX),
//	  FactorCount    INT64 NOT NULL,
//	  CreatedAt      TIMESTAMP NOT NULL OPTIONS (allow_commit_timestamp=true),
//	) PRIMARY KEY (UnderwritingId, SnapshotId);
type SpannerArchiver struct {
	client  *spanner.Client
	factors FactorSource
	logger  *slog.Logger
}

// NewSpannerArchiver connects to the database path given as
// projects/P/instances/I/databases/D. Honors SPANNER_EMULATOR_HOST the
// way every Cloud client library does.
func NewSpannerArchiver(database string, factors FactorSource) (*SpannerArchiver, error) {
	if database == "" {
		return nil, fmt.Errorf("spanner snapshot backend selected but SPANNER_DATABASE is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := spanner.NewClient(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("create spanner client: %w", err)
	}

	return &SpannerArchiver{
		client:  client,
		factors: factors,
		logger:  slog.With("component", "snapshot", "backend", BackendSpanner),
	}, nil
}

func (a *SpannerArchiver) Archive(ctx context.Context, underwritingID, workflow string) (*Record, error) {
	list, err := a.factors.ListActive(ctx, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("load active factors: %w", err)
	}
	rec := newRecord(underwritingID, workflow, list)

	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshal factors: %w", err)
	}

	_, err = a.client.Apply(ctx, []*spanner.Mutation{
		spanner.Insert("FactorSnapshots",
			[]string{"SnapshotId", "UnderwritingId", "WorkflowName", "ContentHash", "Factors", "FactorCount", "CreatedAt"},
			[]interface{}{rec.ID, rec.UnderwritingID, rec.Workflow, rec.ContentHash, string(raw), int64(rec.FactorCount), spanner.CommitTimestamp},
		),
	})
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

func (a *SpannerArchiver) Latest(ctx context.Context, underwritingID string) (*Record, error) {
	stmt := spanner.Statement{
		SQL: `SELECT SnapshotId, UnderwritingId, WorkflowName, ContentHash, Factors, FactorCount, CreatedAt
		      FROM FactorSnapshots
		      WHERE UnderwritingId = @underwritingID
		      ORDER BY CreatedAt DESC
		      LIMIT 1`,
		Params: map[string]interface{}{"underwritingID": underwritingID},
	}

	iter := a.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load factor snapshot: %w", err)
	}

	var (
		rec   Record
		raw   string
		count int64
	)
	if err := row.Columns(&rec.ID, &rec.UnderwritingID, &rec.Workflow, &rec.ContentHash, &raw, &count, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan factor snapshot: %w", err)
	}
	rec.FactorCount = int(count)

	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot factors: %w", err)
		}
	}
	if rec.Factors == nil {
		rec.Factors = []core.Factor{}
	}
	return &rec, nil
}

func (a *SpannerArchiver) Close() error {
	a.client.Close()
	return nil
}
