package processors

import (
	"fmt"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/engine"
)

// BankStatementProcessor analyzes the bank statements of an
// underwriting as one grouped execution. It enforces a configurable
// minimum statement count before extraction runs.
type BankStatementProcessor struct{}

func NewBankStatementProcessor() engine.Processor { return &BankStatementProcessor{} }

func (p *BankStatementProcessor) Name() string             { return "test_bank_statement_processor" }
func (p *BankStatementProcessor) Kind() core.ProcessorKind { return core.KindStipulation }

func (p *BankStatementProcessor) Triggers() core.Triggers {
	return core.Triggers{DocumentsList: []string{"s_bank_statement"}}
}

func (p *BankStatementProcessor) DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"test_mode":        true,
		"debug_output":     true,
		"mock_delay_ms":    2000,
		"minimum_document": 3,
	}
}

func (p *BankStatementProcessor) TransformInput(run *engine.Run, payload map[string]interface{}) (map[string]interface{}, error) {
	revisionIDs := stringList(payload["revision_ids"])
	return map[string]interface{}{
		"stipulation_type": getString(payload, "stipulation_type"),
		"revision_ids":     revisionIDs,
		"document_count":   len(revisionIDs),
	}, nil
}

func (p *BankStatementProcessor) ValidateInput(run *engine.Run, transformed map[string]interface{}) (*engine.Validation, error) {
	var issues []string

	if getString(transformed, "stipulation_type") == "" {
		issues = append(issues, "Stipulation type is required")
	}

	revisionIDs, _ := transformed["revision_ids"].([]string)
	if len(revisionIDs) == 0 {
		issues = append(issues, "At least one document revision is required")
	}

	minimum := run.ConfigInt("minimum_document", 3)
	if len(revisionIDs) < minimum {
		issues = append(issues, fmt.Sprintf("Minimum %d bank statements required, got %d", minimum, len(revisionIDs)))
	}

	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

func (p *BankStatementProcessor) Extract(run *engine.Run, validated map[string]interface{}) (map[string]interface{}, error) {
	if err := simulateWork(run, 2000); err != nil {
		return nil, err
	}

	revisionIDs, _ := validated["revision_ids"].([]string)
	for _, id := range revisionIDs {
		run.AddDocumentRevisionID(id)
	}
	run.SetDocumentIDsHash(revisionIDs)
	run.AddCost("statement_analysis", int64(len(revisionIDs))*25)

	factors := map[string]interface{}{
		"f_stipulation_type":         "s_bank_statement",
		"f_document_count":           len(revisionIDs),
		"f_revision_ids":             revisionIDs,
		"f_bank_statement_count":     len(revisionIDs),
		"f_bank_statement_processed": true,
		"f_avg_monthly_revenue":      50000.0,
		"f_nsf_count":                2,
		"f_cash_flow_positive":       true,
		"f_minimum_balance":          10000.0,
		"f_test_mode":                run.ConfigBool("test_mode", true),
	}

	return map[string]interface{}{
		"factors": factors,
		"metadata": map[string]interface{}{
			"processor_name":    p.Name(),
			"processor_type":    string(p.Kind()),
			"stipulation_type":  "s_bank_statement",
			"document_count":    len(revisionIDs),
			"extraction_method": "test_bank_statement_extraction",
			"debug_output":      run.ConfigBool("debug_output", false),
		},
	}, nil
}

func (p *BankStatementProcessor) ValidateOutput(run *engine.Run, output map[string]interface{}) (*engine.Validation, error) {
	var issues []string

	factors, ok := output["factors"].(map[string]interface{})
	if !ok {
		issues = append(issues, "Missing factors in extraction result")
	}
	if _, ok := output["metadata"]; !ok {
		issues = append(issues, "Missing metadata in extraction result")
	}
	if factors != nil {
		if getString(factors, "f_stipulation_type") == "" {
			issues = append(issues, "Missing stipulation type factor")
		}
		if _, ok := factors["f_document_count"]; !ok {
			issues = append(issues, "Missing document count factor")
		}
	}

	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

// ShouldExecute vetoes payloads of another stipulation type or with no
// documents at all. The minimum count stays with input validation where
// the resolved config is in scope.
func (p *BankStatementProcessor) ShouldExecute(payload map[string]interface{}) (bool, string) {
	if st := getString(payload, "stipulation_type"); st != "s_bank_statement" {
		return false, fmt.Sprintf("unsupported stipulation type: %s", st)
	}
	if len(stringList(payload["revision_ids"])) == 0 {
		return false, "no bank statement documents available"
	}
	return true, ""
}
