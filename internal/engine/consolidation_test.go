package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/underwriting/internal/core"
)

// mergingProcessor overrides consolidation to union every active
// execution's factors, the way per-document processors do.
type mergingProcessor struct {
	fakeProcessor
}

func (p *mergingProcessor) Consolidate(factorsList []map[string]interface{}) map[string]interface{} {
	merged := map[string]interface{}{}
	for i := len(factorsList) - 1; i >= 0; i-- {
		for k, v := range factorsList[i] {
			merged[k] = v
		}
	}
	return merged
}

func consolidationFixture(proc Processor) (*Consolidation, *memProcessors, *memExecutions, *memFactors) {
	reg := NewRegistry()
	reg.Register(func() Processor { return proc })

	processors := newMemProcessors(&core.UnderwritingProcessor{
		ID: "up-1", OrganizationID: "org-1", UnderwritingID: "uw-1",
		Processor: proc.Name(), Auto: true, Enabled: true,
	})
	executions := newMemExecutions()
	factors := &memFactors{}
	c := NewConsolidation(processors, executions, factors, reg, &memAudit{}, nil)
	return c, processors, executions, factors
}

// completedExecution inserts a completed row whose factors_delta carries
// the given factors, in insertion order (later inserts complete later).
func completedExecution(t *testing.T, executions *memExecutions, id string, factors map[string]interface{}) {
	t.Helper()
	e := &core.Execution{
		ID: id, OrganizationID: "org-1", UnderwritingID: "uw-1",
		UnderwritingProcessorID: "up-1", Processor: "fake_processor",
		Status: core.ExecutionPending, Enabled: true, PayloadHash: "hash-" + id,
	}
	require.NoError(t, executions.Insert(context.Background(), e))
	require.NoError(t, executions.MarkCompleted(context.Background(), id, &Result{
		Output: map[string]interface{}{"factors": factors},
	}))
}

func TestConsolidation_MostRecentWinsByDefault(t *testing.T) {
	c, processors, executions, factors := consolidationFixture(&fakeProcessor{})
	ctx := context.Background()

	completedExecution(t, executions, "e-old", map[string]interface{}{
		"f_merchant_name": "Old Name", "f_owner_count": 1,
	})
	completedExecution(t, executions, "e-new", map[string]interface{}{
		"f_merchant_name": "Test Merchant Inc",
	})
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-old", "e-new"}

	sum := c.Run(ctx, []string{"up-1"}, Workflow1)

	require.Equal(t, 1, sum.Consolidated)
	res := sum.Results[0]
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ExecutionCount)
	assert.Equal(t, 1, res.Upserts.Inserted, "only the newest execution's factor map is kept")

	active := factors.activeByKey("uw-1")
	assert.Equal(t, "Test Merchant Inc", active["f_merchant_name"])
	_, hasOwnerCount := active["f_owner_count"]
	assert.False(t, hasOwnerCount, "keys only the older execution produced are not written")
}

func TestConsolidation_CustomConsolidatorMergesAll(t *testing.T) {
	proc := &mergingProcessor{fakeProcessor{name: "fake_merger"}}
	c, processors, executions, factors := consolidationFixture(proc)
	processors.rows["up-1"].Processor = "fake_merger"
	ctx := context.Background()

	completedExecution(t, executions, "e-1", map[string]interface{}{"f_doc_a": "rev-a"})
	completedExecution(t, executions, "e-2", map[string]interface{}{"f_doc_b": "rev-b"})
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-1", "e-2"}

	sum := c.Run(ctx, []string{"up-1"}, Workflow1)

	require.Equal(t, 1, sum.Consolidated)
	assert.Equal(t, 2, sum.Results[0].Upserts.Inserted)

	active := factors.activeByKey("uw-1")
	assert.Equal(t, "rev-a", active["f_doc_a"])
	assert.Equal(t, "rev-b", active["f_doc_b"])
}

func TestConsolidation_RerunIsIdempotent(t *testing.T) {
	c, processors, executions, _ := consolidationFixture(&fakeProcessor{})
	ctx := context.Background()

	completedExecution(t, executions, "e-1", map[string]interface{}{"f_a": 1, "f_b": "x"})
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-1"}

	first := c.Run(ctx, []string{"up-1"}, Workflow3)
	require.Equal(t, 1, first.Consolidated)
	assert.Equal(t, 2, first.Results[0].Upserts.Inserted)

	second := c.Run(ctx, []string{"up-1"}, Workflow3)
	require.Equal(t, 1, second.Consolidated)
	assert.Zero(t, second.Results[0].Upserts.Inserted)
	assert.Zero(t, second.Results[0].Upserts.Updated)
	assert.Equal(t, 2, second.Results[0].Upserts.Unchanged, "identical values are no-ops by factor hash")
}

func TestConsolidation_ChangedValueUpdatesInPlace(t *testing.T) {
	c, processors, executions, factors := consolidationFixture(&fakeProcessor{})
	ctx := context.Background()

	completedExecution(t, executions, "e-1", map[string]interface{}{"f_nsf_count": 2})
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-1"}
	c.Run(ctx, []string{"up-1"}, Workflow3)

	// The same execution re-ran and now reports a different value.
	require.NoError(t, executions.MarkCompleted(ctx, "e-1", &Result{
		Output: map[string]interface{}{"factors": map[string]interface{}{"f_nsf_count": 5}},
	}))

	sum := c.Run(ctx, []string{"up-1"}, Workflow3)
	require.Equal(t, 1, sum.Consolidated)
	assert.Equal(t, 1, sum.Results[0].Upserts.Updated)

	active := factors.activeByKey("uw-1")
	assert.Equal(t, 5, active["f_nsf_count"])
}

func TestConsolidation_EmptyListClearsStaleFactors(t *testing.T) {
	c, processors, executions, factors := consolidationFixture(&fakeProcessor{})
	ctx := context.Background()

	completedExecution(t, executions, "e-1", map[string]interface{}{"f_a": 1, "f_b": 2})
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-1"}
	c.Run(ctx, []string{"up-1"}, Workflow1)
	require.Len(t, factors.activeByKey("uw-1"), 2)

	// Filtration cleared the list; the processor asserts no output.
	processors.rows["up-1"].CurrentExecutionsList = nil

	sum := c.Run(ctx, []string{"up-1"}, Workflow1)
	require.Equal(t, 1, sum.Consolidated)
	assert.Equal(t, int64(2), sum.Results[0].FactorsCleared)
	assert.Empty(t, factors.activeByKey("uw-1"))
}

func TestConsolidation_NoActiveExecutionsIsANoOp(t *testing.T) {
	c, processors, executions, factors := consolidationFixture(&fakeProcessor{})
	ctx := context.Background()

	// The listed execution exists but never completed.
	e := &core.Execution{
		ID: "e-pending", OrganizationID: "org-1", UnderwritingID: "uw-1",
		UnderwritingProcessorID: "up-1", Processor: "fake_processor",
		Status: core.ExecutionPending, Enabled: true, PayloadHash: "h",
	}
	require.NoError(t, executions.Insert(ctx, e))
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-pending"}

	sum := c.Run(ctx, []string{"up-1"}, Workflow1)
	require.Equal(t, 1, sum.Consolidated)
	res := sum.Results[0]
	assert.True(t, res.Success)
	assert.Zero(t, res.ExecutionCount)
	assert.Empty(t, factors.activeByKey("uw-1"))
}

func TestConsolidation_NilFactorValuesAreSkipped(t *testing.T) {
	c, processors, executions, factors := consolidationFixture(&fakeProcessor{})
	ctx := context.Background()

	completedExecution(t, executions, "e-1", map[string]interface{}{"f_real": "value", "f_null": nil})
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-1"}

	sum := c.Run(ctx, []string{"up-1"}, Workflow3)
	require.Equal(t, 1, sum.Consolidated)
	assert.Equal(t, 1, sum.Results[0].Upserts.Inserted)

	active := factors.activeByKey("uw-1")
	assert.Contains(t, active, "f_real")
	assert.NotContains(t, active, "f_null")
}

func TestConsolidation_UnknownProcessorInstance(t *testing.T) {
	c, _, _, _ := consolidationFixture(&fakeProcessor{})

	sum := c.Run(context.Background(), []string{"up-ghost"}, Workflow3)
	assert.Zero(t, sum.Consolidated)
	require.Len(t, sum.Results, 1)
	assert.False(t, sum.Results[0].Success)
	assert.Contains(t, sum.Results[0].Error, "not found")
}

func TestConsolidation_FactorsAttributedToLatestExecution(t *testing.T) {
	c, processors, executions, factors := consolidationFixture(&fakeProcessor{})
	ctx := context.Background()

	completedExecution(t, executions, "e-old", map[string]interface{}{"f_x": 1})
	completedExecution(t, executions, "e-new", map[string]interface{}{"f_x": 1})
	processors.rows["up-1"].CurrentExecutionsList = []string{"e-old", "e-new"}

	c.Run(ctx, []string{"up-1"}, Workflow1)

	rows, err := factors.ListActive(ctx, "uw-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "e-new", rows[0].ExecutionID)
	assert.Equal(t, "processor", rows[0].Source)
	assert.NotEmpty(t, rows[0].FactorHash)
}
