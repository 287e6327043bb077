package snapshot

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/events"
)

func factor(key, executionID, hash string) core.Factor {
	return core.Factor{
		UnderwritingID: "uw-1", Key: key, ExecutionID: executionID,
		FactorHash: hash, Status: core.FactorActive,
	}
}

// ============================================================================
// Content hashing
// ============================================================================

func TestContentHash_OrderIndependent(t *testing.T) {
	a := []core.Factor{factor("f_a", "e-1", "h1"), factor("f_b", "e-1", "h2")}
	b := []core.Factor{factor("f_b", "e-1", "h2"), factor("f_a", "e-1", "h1")}

	assert.Equal(t, ContentHash(a), ContentHash(b))
	assert.Len(t, ContentHash(a), 64)
}

func TestContentHash_SensitiveToContent(t *testing.T) {
	base := []core.Factor{factor("f_a", "e-1", "h1")}

	assert.NotEqual(t, ContentHash(base), ContentHash([]core.Factor{factor("f_a", "e-1", "h2")}),
		"a changed value changes the hash")
	assert.NotEqual(t, ContentHash(base), ContentHash([]core.Factor{factor("f_a", "e-2", "h1")}),
		"the same value from another execution changes the hash")
	assert.NotEqual(t, ContentHash(base), ContentHash(nil))
}

func TestContentHash_IgnoresRowMetadata(t *testing.T) {
	plain := factor("f_a", "e-1", "h1")
	decorated := plain
	decorated.ID = "factor-42"
	decorated.Value = "anything"
	decorated.CreatedAt = time.Now()

	assert.Equal(t, ContentHash([]core.Factor{plain}), ContentHash([]core.Factor{decorated}),
		"identity is (key, execution, value hash); row ids and timestamps do not matter")
}

// ============================================================================
// Backend selection
// ============================================================================

func TestNew_BackendSelection(t *testing.T) {
	noFactors := fakeSource{}

	arch, err := New(config.SnapshotConfig{Backend: BackendNone}, nil, noFactors)
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, arch)

	arch, err = New(config.SnapshotConfig{}, nil, noFactors)
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, arch, "no backend configured means disabled")

	arch, err = New(config.SnapshotConfig{Backend: BackendPostgres}, nil, noFactors)
	require.NoError(t, err)
	assert.IsType(t, &PostgresArchiver{}, arch)

	_, err = New(config.SnapshotConfig{Backend: "dynamo"}, nil, noFactors)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown snapshot backend "dynamo"`)
}

func TestDisabled_IsSilent(t *testing.T) {
	ctx := context.Background()
	rec, err := Disabled{}.Archive(ctx, "uw-1", "Workflow 1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = Disabled{}.Latest(ctx, "uw-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, Disabled{}.Close())
}

// ============================================================================
// Postgres archiver
// ============================================================================

type fakeSource struct {
	factors []core.Factor
	err     error
}

func (s fakeSource) ListActive(context.Context, string) ([]core.Factor, error) {
	return s.factors, s.err
}

func TestPostgresArchiver_Archive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	source := fakeSource{factors: []core.Factor{factor("f_a", "e-1", "h1"), factor("f_b", "e-1", "h2")}}
	arch := NewPostgresArchiver(db, source)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO factor_snapshot`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := arch.Archive(context.Background(), "uw-1", "Workflow 1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.FactorCount)
	assert.Equal(t, ContentHash(source.factors), rec.ContentHash)
	assert.Equal(t, "Workflow 1", rec.Workflow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchiver_ArchiveEmptySet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	arch := NewPostgresArchiver(db, fakeSource{})
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO factor_snapshot`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := arch.Archive(context.Background(), "uw-1", "Workflow 5")
	require.NoError(t, err)
	require.NotNil(t, rec, "an empty factor set still gets an archive record")
	assert.Zero(t, rec.FactorCount)
}

func TestPostgresArchiver_ArchiveFactorLoadError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	arch := NewPostgresArchiver(db, fakeSource{err: errors.New("connection reset")})
	_, err = arch.Archive(context.Background(), "uw-1", "Workflow 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load active factors")
}

func TestPostgresArchiver_Latest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	arch := NewPostgresArchiver(db, fakeSource{})
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "underwriting_id", "workflow_name", "content_hash", "factors", "factor_count", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM factor_snapshot`)).
		WithArgs("uw-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"snap-1", "uw-1", "Workflow 1", "hash",
			[]byte(`[{"factor_key":"f_a","execution_id":"e-1"}]`), 1, at))

	rec, err := arch.Latest(context.Background(), "uw-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Factors, 1)
	assert.Equal(t, "f_a", rec.Factors[0].Key)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM factor_snapshot`)).
		WithArgs("uw-ghost").
		WillReturnRows(sqlmock.NewRows(cols))
	rec, err = arch.Latest(context.Background(), "uw-ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Completion listener
// ============================================================================

type recordingArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (a *recordingArchiver) Archive(_ context.Context, underwritingID, workflow string) (*Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, underwritingID+"/"+workflow)
	return nil, a.err
}
func (a *recordingArchiver) Latest(context.Context, string) (*Record, error) { return nil, nil }
func (a *recordingArchiver) Close() error                                    { return nil }

func (a *recordingArchiver) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.archived...)
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (i *recordingInvalidator) InvalidateSnapshot(_ context.Context, underwritingID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids = append(i.ids, underwritingID)
}

func (i *recordingInvalidator) calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.ids...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never satisfied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListener_ArchivesSuccessfulWorkflows(t *testing.T) {
	bus := events.NewEventBus()
	arch := &recordingArchiver{}
	inv := &recordingInvalidator{}

	l := NewListener(bus, arch, inv)
	go l.Run()
	defer l.Stop()

	// Subscribing happens inside Run; give it a beat before publishing.
	waitFor(t, func() bool { return bus.SubscriberCount() == 1 })

	bus.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", "uw-1",
		map[string]interface{}{"success": true, "workflow": "Workflow 1"})

	waitFor(t, func() bool { return len(arch.calls()) == 1 })
	assert.Equal(t, []string{"uw-1/Workflow 1"}, arch.calls())
	assert.Equal(t, []string{"uw-1"}, inv.calls())
}

func TestListener_SkipsFailuresAndBlankSubjects(t *testing.T) {
	bus := events.NewEventBus()
	arch := &recordingArchiver{}

	l := NewListener(bus, arch, nil)
	go l.Run()
	defer l.Stop()
	waitFor(t, func() bool { return bus.SubscriberCount() == 1 })

	bus.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", "uw-1",
		map[string]interface{}{"success": false, "workflow": "Workflow 1"})
	bus.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", "",
		map[string]interface{}{"success": true, "workflow": "Workflow 1"})
	bus.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", "uw-2",
		map[string]interface{}{"success": true, "workflow": "Workflow 3"})

	waitFor(t, func() bool { return len(arch.calls()) == 1 })
	assert.Equal(t, []string{"uw-2/Workflow 3"}, arch.calls(),
		"failed runs and blank subjects are dropped")
}

func TestListener_ArchiveErrorIsSwallowed(t *testing.T) {
	bus := events.NewEventBus()
	arch := &recordingArchiver{err: errors.New("spanner unavailable")}

	l := NewListener(bus, arch, nil)
	go l.Run()
	defer l.Stop()
	waitFor(t, func() bool { return bus.SubscriberCount() == 1 })

	bus.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", "uw-1",
		map[string]interface{}{"success": true, "workflow": "Workflow 1"})

	waitFor(t, func() bool { return len(arch.calls()) == 1 })
	// The listener keeps serving after the failure.
	bus.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", "uw-2",
		map[string]interface{}{"success": true, "workflow": "Workflow 1"})
	waitFor(t, func() bool { return len(arch.calls()) == 2 })
}
