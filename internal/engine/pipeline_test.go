package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/events"
)

func testRun(id string) *Run {
	return NewRun(context.Background(), id, "uw-1", "up-1", "fake_processor", nil)
}

func TestPipeline_HappyPath(t *testing.T) {
	proc := &fakeProcessor{
		extractOut: map[string]interface{}{
			"factors": map[string]interface{}{"f_merchant_verified": true},
		},
	}
	res := NewPipeline(nil).Execute(proc, testRun("exec-1"), map[string]interface{}{"k": "v"})

	require.True(t, res.Completed())
	assert.Equal(t, core.ExecutionCompleted, res.Status)
	assert.Equal(t, proc.extractOut, res.Output)
	assert.Empty(t, res.ErrorPhase)
	assert.Empty(t, res.FailedCode)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))
	assert.Equal(t, []string{"prevalidate", "transform", "validate_input", "extract", "validate_output"}, proc.calls,
		"phases run strictly in order")
}

func TestPipeline_PrevalidationFailureStopsEarly(t *testing.T) {
	proc := &fakeProcessor{prevalidateErr: NewPrevalidationError("snapshot is missing documents")}
	res := NewPipeline(nil).Execute(proc, testRun("exec-1"), nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, PhasePreExtraction, res.ErrorPhase)
	assert.Equal(t, string(FailPrevalidation), res.FailedCode)
	assert.Equal(t, []string{"prevalidate"}, proc.calls, "later phases must not run")
}

func TestPipeline_InputVerdictFailsClosed(t *testing.T) {
	proc := &fakeProcessor{inputVerdict: Invalid("Merchant EIN is required")}
	res := NewPipeline(nil).Execute(proc, testRun("exec-1"), nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, PhasePreExtraction, res.ErrorPhase)
	assert.Equal(t, string(FailInputValidation), res.FailedCode)
	assert.Contains(t, res.FailedReason, "Merchant EIN is required")
	assert.Equal(t, 0, proc.runCount(), "extraction never ran")
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantPhase string
		wantCode  string
	}{
		{"factor extraction", NewFactorExtractionError("no statements parsed"), PhaseExtraction, string(FailFactorExtraction)},
		{"api call", NewAPIError("ocr-service", 503, true, "upstream unavailable"), PhaseExtraction, string(FailAPI)},
		{"data transformation", NewDataTransformationError("cannot reshape rows"), PhaseExtraction, string(FailDataTransformation)},
		{"untyped", assertAnError(), PhaseUnknown, "unhandled_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{extractErr: tt.err}
			res := NewPipeline(nil).Execute(proc, testRun("exec-1"), nil)

			assert.Equal(t, core.ExecutionFailed, res.Status)
			assert.Equal(t, tt.wantPhase, res.ErrorPhase)
			assert.Equal(t, tt.wantCode, res.FailedCode)
		})
	}
}

func TestPipeline_OutputVerdictRejected(t *testing.T) {
	proc := &fakeProcessor{outputVerdict: Invalid("Missing factors in extraction result")}
	res := NewPipeline(nil).Execute(proc, testRun("exec-1"), nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, PhasePostExtraction, res.ErrorPhase)
	assert.Equal(t, string(FailResultValidation), res.FailedCode)
}

func TestPipeline_PanicIsCaptured(t *testing.T) {
	proc := &fakeProcessor{panicIn: "extract"}
	res := NewPipeline(nil).Execute(proc, testRun("exec-1"), nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, PhaseUnknown, res.ErrorPhase)
	assert.Equal(t, "panic", res.FailedCode)
	assert.Contains(t, res.FailedReason, "extract blew up")
	assert.False(t, res.CompletedAt.IsZero(), "the deferred finalizer still stamps timestamps")
}

func TestPipeline_RunAccountingLandsOnResult(t *testing.T) {
	proc := &fakeProcessor{}
	run := testRun("exec-1")
	run.AddCost("ocr", 25)
	run.AddCost("ocr", 10)
	run.AddCost("parse", 5)
	run.AddDocumentRevisionID("rev-1")
	run.AddDocumentRevisionID("rev-2")
	run.SetDocumentIDsHash([]string{"rev-2", "rev-1"})

	res := NewPipeline(nil).Execute(proc, run, nil)

	require.True(t, res.Completed())
	assert.Equal(t, int64(40), res.RunCostCents)
	assert.Equal(t, map[string]int64{"ocr": 35, "parse": 5}, res.CostBreakdown)
	assert.Equal(t, []string{"rev-1", "rev-2"}, res.DocumentRevisionIDs)
	assert.NotEmpty(t, res.DocumentIDsHash)

	// The document set fingerprint is order independent.
	other := testRun("exec-2")
	other.SetDocumentIDsHash([]string{"rev-1", "rev-2"})
	assert.Equal(t, other.DocumentIDsHash(), res.DocumentIDsHash)
}

func TestPipeline_EmitsLifecycleEvents(t *testing.T) {
	bus := events.NewEventBus()
	started := bus.Subscribe("fake_processor.execution.started")
	completed := bus.Subscribe("fake_processor.execution.completed")
	failed := bus.Subscribe("fake_processor.execution.failed")

	pipeline := NewPipeline(bus)

	pipeline.Execute(&fakeProcessor{}, testRun("exec-ok"), nil)
	pipeline.Execute(&fakeProcessor{extractErr: NewFactorExtractionError("boom")}, testRun("exec-bad"), nil)

	assertEvent := func(ch chan *events.CloudEvent, executionID string) *events.CloudEvent {
		select {
		case ev := <-ch:
			assert.Equal(t, executionID, ev.Subject)
			assert.Equal(t, "/engine/pipeline", ev.Source)
			return ev
		case <-time.After(time.Second):
			t.Fatalf("expected event for %s", executionID)
			return nil
		}
	}

	assertEvent(started, "exec-ok")
	assertEvent(started, "exec-bad")
	assertEvent(completed, "exec-ok")
	ev := assertEvent(failed, "exec-bad")
	assert.Equal(t, PhaseExtraction, ev.Data["error_phase"])
	assert.Equal(t, string(FailFactorExtraction), ev.Data["failed_code"])
}

// ============================================================================
// Failure taxonomy
// ============================================================================

func TestFailureKind_PhaseMapping(t *testing.T) {
	tests := []struct {
		kind  FailureKind
		phase string
	}{
		{FailPrevalidation, PhasePreExtraction},
		{FailTransformation, PhasePreExtraction},
		{FailInputValidation, PhasePreExtraction},
		{FailFactorExtraction, PhaseExtraction},
		{FailDataTransformation, PhaseExtraction},
		{FailAPI, PhaseExtraction},
		{FailResultValidation, PhasePostExtraction},
		{FailPersistence, PhaseUnknown},
		{FailConfiguration, PhaseUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.phase, tt.kind.Phase(), "kind %s", tt.kind)
	}
}

func TestProcessorError_ErrorString(t *testing.T) {
	plain := NewFactorExtractionError("no rows in %s", "statement.pdf")
	assert.Equal(t, "factor_extraction_error: no rows in statement.pdf", plain.Error())

	api := NewAPIError("kyc-vendor", 429, true, "rate limited")
	assert.Contains(t, api.Error(), "api=kyc-vendor")
	assert.Contains(t, api.Error(), "status=429")
	assert.True(t, api.Retryable)
}

func assertAnError() error { return errPlain{} }

type errPlain struct{}

func (errPlain) Error() string { return "something broke" }
