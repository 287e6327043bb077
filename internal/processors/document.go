package processors

import (
	"fmt"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/engine"
)

// DocumentProcessor handles several stipulation types with one generic
// per-document extraction. It overrides consolidation to merge the
// factors of all active executions rather than keeping only the most
// recent one, since each execution describes a different document.
type DocumentProcessor struct{}

func NewDocumentProcessor() engine.Processor { return &DocumentProcessor{} }

func (p *DocumentProcessor) Name() string             { return "test_document_processor" }
func (p *DocumentProcessor) Kind() core.ProcessorKind { return core.KindDocument }

func (p *DocumentProcessor) Triggers() core.Triggers {
	return core.Triggers{DocumentsList: []string{
		"s_bank_statement",
		"s_drivers_license",
		"s_business_registration",
	}}
}

func (p *DocumentProcessor) DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"test_mode":     true,
		"debug_output":  true,
		"mock_delay_ms": 2000,
		"document_types": []interface{}{
			"application/pdf", "image/png", "image/jpeg",
		},
	}
}

func (p *DocumentProcessor) TransformInput(run *engine.Run, payload map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"revision_id":      getString(payload, "revision_id"),
		"document_id":      getString(payload, "document_id"),
		"stipulation_type": getString(payload, "stipulation_type"),
		"filename":         getString(payload, "filename"),
		"mime_type":        getString(payload, "mime_type"),
	}, nil
}

func (p *DocumentProcessor) ValidateInput(run *engine.Run, transformed map[string]interface{}) (*engine.Validation, error) {
	var issues []string

	if getString(transformed, "revision_id") == "" {
		issues = append(issues, "Document revision ID is required")
	}
	if getString(transformed, "document_id") == "" {
		issues = append(issues, "Document ID is required")
	}

	if mime := getString(transformed, "mime_type"); mime != "" {
		supported := false
		for _, t := range stringList(run.Config()["document_types"]) {
			if t == mime {
				supported = true
				break
			}
		}
		if !supported {
			issues = append(issues, fmt.Sprintf("Unsupported document type: %s", mime))
		}
	}

	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

func (p *DocumentProcessor) Extract(run *engine.Run, validated map[string]interface{}) (map[string]interface{}, error) {
	if err := simulateWork(run, 2000); err != nil {
		return nil, err
	}

	revisionID := getString(validated, "revision_id")
	stipulationType := getString(validated, "stipulation_type")
	run.AddDocumentRevisionID(revisionID)
	run.AddCost("document_analysis", 30)

	factors := map[string]interface{}{
		"f_revision_id":      revisionID,
		"f_document_id":      validated["document_id"],
		"f_stipulation_type": stipulationType,
		"f_filename":         validated["filename"],
		"f_mime_type":        validated["mime_type"],
		"f_test_mode":        run.ConfigBool("test_mode", true),
	}

	switch stipulationType {
	case "s_bank_statement":
		factors["f_bank_statement_processed"] = true
		factors["f_page_count"] = 3
		factors["f_ocr_confidence"] = 0.95
		factors["f_contains_transactions"] = true
	case "s_drivers_license":
		factors["f_drivers_license_processed"] = true
		factors["f_license_number"] = "D123456789"
		factors["f_expiration_date"] = "2025-12-31"
		factors["f_state"] = "CA"
	case "s_business_registration":
		factors["f_business_registration_processed"] = true
		factors["f_registration_number"] = "REG123456"
		factors["f_entity_type"] = "LLC"
		factors["f_registration_date"] = "2020-01-15"
	}

	return map[string]interface{}{
		"factors": factors,
		"metadata": map[string]interface{}{
			"processor_name":    p.Name(),
			"processor_type":    string(p.Kind()),
			"revision_id":       revisionID,
			"document_id":       validated["document_id"],
			"stipulation_type":  stipulationType,
			"extraction_method": "test_document_extraction",
			"debug_output":      run.ConfigBool("debug_output", false),
		},
	}, nil
}

func (p *DocumentProcessor) ValidateOutput(run *engine.Run, output map[string]interface{}) (*engine.Validation, error) {
	var issues []string

	factors, ok := output["factors"].(map[string]interface{})
	if !ok {
		issues = append(issues, "Missing factors in extraction result")
	}
	if _, ok := output["metadata"]; !ok {
		issues = append(issues, "Missing metadata in extraction result")
	}
	if factors != nil {
		if getString(factors, "f_revision_id") == "" {
			issues = append(issues, "Missing revision ID factor")
		}
		if getString(factors, "f_document_id") == "" {
			issues = append(issues, "Missing document ID factor")
		}
		if getString(factors, "f_stipulation_type") == "" {
			issues = append(issues, "Missing stipulation type factor")
		}
	}

	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

func (p *DocumentProcessor) ShouldExecute(payload map[string]interface{}) (bool, string) {
	if getString(payload, "revision_id") == "" {
		return false, "missing document revision ID"
	}
	if getString(payload, "document_id") == "" {
		return false, "missing document ID"
	}
	st := getString(payload, "stipulation_type")
	for _, supported := range p.Triggers().DocumentsList {
		if st == supported {
			return true, ""
		}
	}
	return false, fmt.Sprintf("unsupported stipulation type: %s", st)
}

// Consolidate merges all active executions oldest to newest so the most
// recent run of each document wins key conflicts, and appends the
// per-document roster.
func (p *DocumentProcessor) Consolidate(factorsList []map[string]interface{}) map[string]interface{} {
	if len(factorsList) == 0 {
		return map[string]interface{}{}
	}
	if len(factorsList) == 1 {
		return factorsList[0]
	}

	consolidated := map[string]interface{}{}
	documents := make([]interface{}, 0, len(factorsList))

	// The list arrives most recent first; walk it backwards.
	for i := len(factorsList) - 1; i >= 0; i-- {
		factors := factorsList[i]
		documents = append(documents, map[string]interface{}{
			"revision_id":      factors["f_revision_id"],
			"document_id":      factors["f_document_id"],
			"stipulation_type": factors["f_stipulation_type"],
		})
		for k, v := range factors {
			consolidated[k] = v
		}
	}

	consolidated["f_processed_documents"] = documents
	consolidated["f_total_documents_processed"] = len(factorsList)
	return consolidated
}
