// Package snapshot archives the consolidated factor set of an
// underwriting after each workflow run. Archives are immutable
// point-in-time records: later reruns and supersessions never touch
// them, so a reviewer can always see what the factors were when a
// decision was made.
package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/core"
)

// Backends selectable via SNAPSHOT_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendSpanner  = "spanner"
	BackendNone     = "none"
)

// Record is one archived factor set.
type Record struct {
	ID             string        `json:"id"`
	UnderwritingID string        `json:"underwriting_id"`
	Workflow       string        `json:"workflow"`
	ContentHash    string        `json:"content_hash"`
	FactorCount    int           `json:"factor_count"`
	Factors        []core.Factor `json:"factors"`
	CreatedAt      time.Time     `json:"created_at"`
}

// FactorSource supplies the active factor set to archive.
type FactorSource interface {
	ListActive(ctx context.Context, underwritingID string) ([]core.Factor, error)
}

// Archiver persists and retrieves factor snapshots.
type Archiver interface {
	// Archive captures the current active factor set. A case with no
	// active factors still gets a record; an empty archive documents
	// that the workflow left nothing standing.
	Archive(ctx context.Context, underwritingID, workflow string) (*Record, error)
	// Latest returns the most recent record for the underwriting, or
	// nil when none exists.
	Latest(ctx context.Context, underwritingID string) (*Record, error)
	Close() error
}

// New selects the archiver for the configured backend.
func New(cfg config.SnapshotConfig, db *sql.DB, factors FactorSource) (Archiver, error) {
	switch cfg.Backend {
	case BackendPostgres:
		return NewPostgresArchiver(db, factors), nil
	case BackendSpanner:
		return NewSpannerArchiver(cfg.SpannerDatabase, factors)
	case BackendNone, "":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// Disabled is the no-op archiver.
type Disabled struct{}

func (Disabled) Archive(context.Context, string, string) (*Record, error) { return nil, nil }
func (Disabled) Latest(context.Context, string) (*Record, error)          { return nil, nil }
func (Disabled) Close() error                                             { return nil }

// ContentHash fingerprints a factor set independent of row order. Two
// archives with the same hash hold the same factors from the same
// executions with the same values.
func ContentHash(factors []core.Factor) string {
	type entry struct {
		Key         string `json:"factor_key"`
		ExecutionID string `json:"execution_id"`
		FactorHash  string `json:"factor_hash"`
	}
	entries := make([]entry, len(factors))
	for i, f := range factors {
		entries[i] = entry{Key: f.Key, ExecutionID: f.ExecutionID, FactorHash: f.FactorHash}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].ExecutionID < entries[j].ExecutionID
	})

	raw, _ := json.Marshal(entries)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func newRecord(underwritingID, workflow string, factors []core.Factor) *Record {
	return &Record{
		ID:             uuid.NewString(),
		UnderwritingID: underwritingID,
		Workflow:       workflow,
		ContentHash:    ContentHash(factors),
		FactorCount:    len(factors),
		Factors:        factors,
		CreatedAt:      time.Now().UTC(),
	}
}
