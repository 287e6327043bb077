package processors

import (
	"fmt"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/engine"
)

// DriversLicenseProcessor verifies a single drivers license document
// per execution. Document-kind payloads fan out one execution per
// matching document.
type DriversLicenseProcessor struct{}

func NewDriversLicenseProcessor() engine.Processor { return &DriversLicenseProcessor{} }

func (p *DriversLicenseProcessor) Name() string             { return "test_drivers_license_processor" }
func (p *DriversLicenseProcessor) Kind() core.ProcessorKind { return core.KindDocument }

func (p *DriversLicenseProcessor) Triggers() core.Triggers {
	return core.Triggers{DocumentsList: []string{"s_drivers_license"}}
}

func (p *DriversLicenseProcessor) DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"test_mode":     true,
		"debug_output":  true,
		"mock_delay_ms": 1500,
	}
}

func (p *DriversLicenseProcessor) TransformInput(run *engine.Run, payload map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"stipulation_type": getString(payload, "stipulation_type"),
		"revision_id":      getString(payload, "revision_id"),
		"document_type":    "drivers_license",
	}, nil
}

func (p *DriversLicenseProcessor) ValidateInput(run *engine.Run, transformed map[string]interface{}) (*engine.Validation, error) {
	var issues []string

	if getString(transformed, "revision_id") == "" {
		issues = append(issues, "Document revision ID is required")
	}
	st := getString(transformed, "stipulation_type")
	if st == "" {
		issues = append(issues, "Stipulation type is required")
	} else if st != "s_drivers_license" {
		issues = append(issues, fmt.Sprintf("Unsupported stipulation type: %s", st))
	}

	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

func (p *DriversLicenseProcessor) Extract(run *engine.Run, validated map[string]interface{}) (map[string]interface{}, error) {
	if err := simulateWork(run, 1500); err != nil {
		return nil, err
	}

	revisionID := getString(validated, "revision_id")
	run.AddDocumentRevisionID(revisionID)
	run.AddCost("license_verification", 150)

	factors := map[string]interface{}{
		"f_stipulation_type":          "s_drivers_license",
		"f_revision_id":               revisionID,
		"f_drivers_license_processed": true,
		"f_identity_verified":         true,
		"f_license_valid":             true,
		"f_license_number":            "DL123456789",
		"f_license_state":             "CA",
		"f_license_expiry":            "2025-12-31",
		"f_test_mode":                 run.ConfigBool("test_mode", true),
	}

	return map[string]interface{}{
		"factors": factors,
		"metadata": map[string]interface{}{
			"processor_name":    p.Name(),
			"processor_type":    string(p.Kind()),
			"stipulation_type":  "s_drivers_license",
			"revision_id":       revisionID,
			"extraction_method": "test_drivers_license_extraction",
			"debug_output":      run.ConfigBool("debug_output", false),
		},
	}, nil
}

func (p *DriversLicenseProcessor) ValidateOutput(run *engine.Run, output map[string]interface{}) (*engine.Validation, error) {
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
		if verified, ok := factors["f_identity_verified"].(bool); !ok || !verified {
			issues = append(issues, "Missing identity verification factor")
		}
	}

	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

func (p *DriversLicenseProcessor) ShouldExecute(payload map[string]interface{}) (bool, string) {
	if st := getString(payload, "stipulation_type"); st != "s_drivers_license" {
		return false, fmt.Sprintf("unsupported stipulation type: %s", st)
	}
	if getString(payload, "revision_id") == "" {
		return false, "no drivers license document available"
	}
	return true, ""
}
