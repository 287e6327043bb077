package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/engine"
)

// runThrough executes one processor through the full pipeline with the
// mock delay zeroed out so tests stay fast.
func runThrough(proc engine.Processor, payload, override map[string]interface{}) *engine.Result {
	cfg := engine.ResolveConfig(
		proc.DefaultConfig(),
		map[string]interface{}{"mock_delay_ms": 0},
		override,
	)
	run := engine.NewRun(context.Background(), "exec-1", "uw-1", "up-1", proc.Name(), cfg)
	return engine.NewPipeline(nil).Execute(proc, run, payload)
}

func factorsOf(t *testing.T, res *engine.Result) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res.Output, "failed: phase=%s code=%s reason=%s", res.ErrorPhase, res.FailedCode, res.FailedReason)
	factors, ok := res.Output["factors"].(map[string]interface{})
	require.True(t, ok, "output has no factors map")
	return factors
}

// ============================================================================
// Application processor
// ============================================================================

func applicationPayload() map[string]interface{} {
	return map[string]interface{}{
		"application_form": map[string]interface{}{
			"merchant.name": "Test Merchant Inc",
			"merchant.ein":  "12-3456789",
		},
		"owners_list": []interface{}{
			map[string]interface{}{"first_name": "Jane", "ownership_percentage": 60},
			map[string]interface{}{"first_name": "John", "ownership_percentage": 40},
		},
	}
}

func TestApplicationProcessor_ExtractsMerchantFactors(t *testing.T) {
	res := runThrough(NewApplicationProcessor(), applicationPayload(), nil)

	require.Equal(t, core.ExecutionCompleted, res.Status, "reason: %s", res.FailedReason)
	factors := factorsOf(t, res)
	assert.Equal(t, "Test Merchant Inc", factors["f_merchant_name"])
	assert.Equal(t, "12-3456789", factors["f_merchant_ein"])
	assert.Equal(t, true, factors["f_merchant_verified"])
	assert.Equal(t, 2, factors["f_owner_count"])
	assert.Equal(t, int64(50), res.RunCostCents)
	assert.Equal(t, int64(50), res.CostBreakdown["application_analysis"])

	meta := res.Output["metadata"].(map[string]interface{})
	assert.Equal(t, "test_application_processor", meta["processor_name"])
}

func TestApplicationProcessor_MissingEINFailsClosed(t *testing.T) {
	payload := applicationPayload()
	payload["application_form"] = map[string]interface{}{"merchant.name": "Test Merchant Inc"}

	res := runThrough(NewApplicationProcessor(), payload, nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, engine.PhasePreExtraction, res.ErrorPhase)
	assert.Equal(t, string(engine.FailInputValidation), res.FailedCode)
	assert.Contains(t, res.FailedReason, "Merchant EIN is required")
}

func TestApplicationProcessor_MissingFormFailsTransform(t *testing.T) {
	res := runThrough(NewApplicationProcessor(), map[string]interface{}{}, nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, engine.PhasePreExtraction, res.ErrorPhase)
	assert.Equal(t, string(engine.FailTransformation), res.FailedCode)
}

func TestApplicationProcessor_GateRequiresSubscribedFields(t *testing.T) {
	proc := NewApplicationProcessor().(engine.ExecutionGate)

	ok, _ := proc.ShouldExecute(applicationPayload())
	assert.True(t, ok)

	ok, reason := proc.ShouldExecute(map[string]interface{}{
		"application_form": map[string]interface{}{"merchant.name": "Test Merchant Inc"},
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "merchant.ein")

	ok, reason = proc.ShouldExecute(map[string]interface{}{})
	assert.False(t, ok)
	assert.Contains(t, reason, "application_form")
}

// ============================================================================
// Bank statement processor
// ============================================================================

func bankStatementPayload(revisions ...string) map[string]interface{} {
	ids := make([]interface{}, len(revisions))
	for i, r := range revisions {
		ids[i] = r
	}
	return map[string]interface{}{
		"stipulation_type": "s_bank_statement",
		"revision_ids":     ids,
		"document_count":   len(ids),
	}
}

func TestBankStatementProcessor_GroupedExtraction(t *testing.T) {
	res := runThrough(NewBankStatementProcessor(), bankStatementPayload("rev-a", "rev-b", "rev-c"), nil)

	require.Equal(t, core.ExecutionCompleted, res.Status, "reason: %s", res.FailedReason)
	factors := factorsOf(t, res)
	assert.Equal(t, 3, factors["f_document_count"])
	assert.Equal(t, true, factors["f_bank_statement_processed"])
	assert.Equal(t, "s_bank_statement", factors["f_stipulation_type"])

	assert.ElementsMatch(t, []string{"rev-a", "rev-b", "rev-c"}, res.DocumentRevisionIDs)
	assert.NotEmpty(t, res.DocumentIDsHash)
	assert.Equal(t, int64(75), res.RunCostCents, "25 cents per statement")
}

func TestBankStatementProcessor_MinimumDocumentEnforced(t *testing.T) {
	res := runThrough(NewBankStatementProcessor(), bankStatementPayload("rev-a", "rev-b"), nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, engine.PhasePreExtraction, res.ErrorPhase)
	assert.Equal(t, string(engine.FailInputValidation), res.FailedCode)
	assert.Contains(t, res.FailedReason, "Minimum 3 bank statements required, got 2")
}

func TestBankStatementProcessor_MinimumIsConfigurable(t *testing.T) {
	res := runThrough(NewBankStatementProcessor(), bankStatementPayload("rev-a", "rev-b"),
		map[string]interface{}{"minimum_document": 2})

	assert.Equal(t, core.ExecutionCompleted, res.Status, "reason: %s", res.FailedReason)
}

func TestBankStatementProcessor_GateVetoes(t *testing.T) {
	proc := NewBankStatementProcessor().(engine.ExecutionGate)

	ok, reason := proc.ShouldExecute(map[string]interface{}{
		"stipulation_type": "s_tax_return",
		"revision_ids":     []interface{}{"rev-a"},
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "unsupported stipulation type")

	ok, reason = proc.ShouldExecute(map[string]interface{}{
		"stipulation_type": "s_bank_statement",
		"revision_ids":     []interface{}{},
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "no bank statement documents")
}

// ============================================================================
// Drivers license processor
// ============================================================================

func TestDriversLicenseProcessor_VerifiesIdentity(t *testing.T) {
	res := runThrough(NewDriversLicenseProcessor(), map[string]interface{}{
		"stipulation_type": "s_drivers_license",
		"revision_id":      "rev-dl",
		"document_id":      "doc-3",
		"filename":         "license.jpg",
	}, nil)

	require.Equal(t, core.ExecutionCompleted, res.Status, "reason: %s", res.FailedReason)
	factors := factorsOf(t, res)
	assert.Equal(t, true, factors["f_identity_verified"])
	assert.Equal(t, true, factors["f_license_valid"])
	assert.Equal(t, "rev-dl", factors["f_revision_id"])
	assert.Equal(t, []string{"rev-dl"}, res.DocumentRevisionIDs)
	assert.Equal(t, int64(150), res.RunCostCents)
}

func TestDriversLicenseProcessor_RejectsOtherStipulations(t *testing.T) {
	res := runThrough(NewDriversLicenseProcessor(), map[string]interface{}{
		"stipulation_type": "s_passport",
		"revision_id":      "rev-x",
	}, nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, string(engine.FailInputValidation), res.FailedCode)
	assert.Contains(t, res.FailedReason, "Unsupported stipulation type: s_passport")
}

// ============================================================================
// Document processor
// ============================================================================

func documentPayload(stipulationType string) map[string]interface{} {
	return map[string]interface{}{
		"revision_id":      "rev-1",
		"document_id":      "doc-1",
		"stipulation_type": stipulationType,
		"filename":         "scan.pdf",
		"mime_type":        "application/pdf",
	}
}

func TestDocumentProcessor_PerTypeFactors(t *testing.T) {
	cases := []struct {
		stipulationType string
		marker          string
	}{
		{"s_bank_statement", "f_page_count"},
		{"s_drivers_license", "f_license_number"},
		{"s_business_registration", "f_entity_type"},
	}
	for _, tc := range cases {
		t.Run(tc.stipulationType, func(t *testing.T) {
			res := runThrough(NewDocumentProcessor(), documentPayload(tc.stipulationType), nil)

			require.Equal(t, core.ExecutionCompleted, res.Status, "reason: %s", res.FailedReason)
			factors := factorsOf(t, res)
			assert.Equal(t, tc.stipulationType, factors["f_stipulation_type"])
			assert.Contains(t, factors, tc.marker)
		})
	}
}

func TestDocumentProcessor_RejectsUnsupportedMimeType(t *testing.T) {
	payload := documentPayload("s_bank_statement")
	payload["mime_type"] = "application/zip"

	res := runThrough(NewDocumentProcessor(), payload, nil)

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, string(engine.FailInputValidation), res.FailedCode)
	assert.Contains(t, res.FailedReason, "Unsupported document type: application/zip")
}

func TestDocumentProcessor_GateChecksIdentityFields(t *testing.T) {
	proc := NewDocumentProcessor().(engine.ExecutionGate)

	ok, _ := proc.ShouldExecute(documentPayload("s_drivers_license"))
	assert.True(t, ok)

	ok, reason := proc.ShouldExecute(map[string]interface{}{"document_id": "doc-1"})
	assert.False(t, ok)
	assert.Contains(t, reason, "revision ID")

	ok, reason = proc.ShouldExecute(documentPayload("s_tax_return"))
	assert.False(t, ok)
	assert.Contains(t, reason, "unsupported stipulation type")
}

func TestDocumentProcessor_ConsolidateMergesAllDocuments(t *testing.T) {
	proc := NewDocumentProcessor().(engine.Consolidator)

	// Most recently completed first, mirroring how the engine hands the
	// list over.
	merged := proc.Consolidate([]map[string]interface{}{
		{
			"f_revision_id": "rev-b", "f_document_id": "doc-2",
			"f_stipulation_type": "s_drivers_license", "f_shared": "new",
		},
		{
			"f_revision_id": "rev-a", "f_document_id": "doc-1",
			"f_stipulation_type": "s_bank_statement", "f_shared": "old",
		},
	})

	assert.Equal(t, "new", merged["f_shared"], "most recent execution wins conflicts")
	assert.Equal(t, 2, merged["f_total_documents_processed"])

	roster, ok := merged["f_processed_documents"].([]interface{})
	require.True(t, ok)
	require.Len(t, roster, 2)
	first := roster[0].(map[string]interface{})
	assert.Equal(t, "rev-a", first["revision_id"], "roster runs oldest to newest")
}

func TestDocumentProcessor_ConsolidateDegenerateCases(t *testing.T) {
	proc := NewDocumentProcessor().(engine.Consolidator)

	assert.Empty(t, proc.Consolidate(nil))

	single := map[string]interface{}{"f_revision_id": "rev-a"}
	assert.Equal(t, single, proc.Consolidate([]map[string]interface{}{single}))
}

// ============================================================================
// Registration and shared helpers
// ============================================================================

func TestRegisterAll(t *testing.T) {
	reg := engine.NewRegistry()
	RegisterAll(reg)

	assert.Equal(t, 4, reg.Len())
	assert.Equal(t, []string{
		"test_application_processor",
		"test_bank_statement_processor",
		"test_document_processor",
		"test_drivers_license_processor",
	}, reg.Names())
}

func TestSimulateWork_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := NewApplicationProcessor()
	cfg := engine.ResolveConfig(proc.DefaultConfig(), map[string]interface{}{"mock_delay_ms": 5000})
	run := engine.NewRun(ctx, "exec-1", "uw-1", "up-1", proc.Name(), cfg)

	res := engine.NewPipeline(nil).Execute(proc, run, applicationPayload())

	assert.Equal(t, core.ExecutionFailed, res.Status)
	assert.Equal(t, engine.PhaseExtraction, res.ErrorPhase)
	assert.Equal(t, string(engine.FailFactorExtraction), res.FailedCode)
	assert.Contains(t, res.FailedReason, "extraction cancelled")
}

func TestStringList_CoercesJSONShapes(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, stringList([]interface{}{"a", "b"}))
	assert.Equal(t, []string{"a"}, stringList([]interface{}{"a", 1}), "non-strings are dropped")
	assert.Nil(t, stringList("a"))
	assert.Nil(t, stringList(nil))
}
