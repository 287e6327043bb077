package processors

import (
	"fmt"
	"strings"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/engine"
)

// ApplicationProcessor extracts factors from the application form
// fields it subscribes to. One payload per underwriting; the payload
// carries the requested merchant fields plus the owners list.
type ApplicationProcessor struct{}

func NewApplicationProcessor() engine.Processor { return &ApplicationProcessor{} }

func (p *ApplicationProcessor) Name() string             { return "test_application_processor" }
func (p *ApplicationProcessor) Kind() core.ProcessorKind { return core.KindApplication }

func (p *ApplicationProcessor) Triggers() core.Triggers {
	return core.Triggers{ApplicationForm: []string{"merchant.name", "merchant.ein"}}
}

func (p *ApplicationProcessor) DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"test_mode":     true,
		"debug_output":  true,
		"mock_delay_ms": 1000,
	}
}

func (p *ApplicationProcessor) TransformInput(run *engine.Run, payload map[string]interface{}) (map[string]interface{}, error) {
	form, ok := payload["application_form"].(map[string]interface{})
	if !ok {
		return nil, engine.NewTransformationError("payload is missing application_form")
	}

	ownerCount := 0
	if owners, ok := payload["owners_list"].([]interface{}); ok {
		ownerCount = len(owners)
	}

	return map[string]interface{}{
		"merchant_name": getString(form, "merchant.name"),
		"merchant_ein":  getString(form, "merchant.ein"),
		"owner_count":   ownerCount,
	}, nil
}

func (p *ApplicationProcessor) ValidateInput(run *engine.Run, transformed map[string]interface{}) (*engine.Validation, error) {
	var issues []string
	if getString(transformed, "merchant_name") == "" {
		issues = append(issues, "Merchant name is required")
	}
	if getString(transformed, "merchant_ein") == "" {
		issues = append(issues, "Merchant EIN is required")
	}
	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

func (p *ApplicationProcessor) Extract(run *engine.Run, validated map[string]interface{}) (map[string]interface{}, error) {
	if err := simulateWork(run, 1000); err != nil {
		return nil, err
	}

	run.AddCost("application_analysis", 50)

	factors := map[string]interface{}{
		"f_merchant_name":     validated["merchant_name"],
		"f_merchant_ein":      validated["merchant_ein"],
		"f_merchant_verified": true,
		"f_owner_count":       validated["owner_count"],
		"f_test_mode":         run.ConfigBool("test_mode", true),
	}

	return map[string]interface{}{
		"factors": factors,
		"metadata": map[string]interface{}{
			"processor_name":    p.Name(),
			"processor_type":    string(p.Kind()),
			"extraction_method": "test_application_extraction",
			"debug_output":      run.ConfigBool("debug_output", false),
		},
	}, nil
}

func (p *ApplicationProcessor) ValidateOutput(run *engine.Run, output map[string]interface{}) (*engine.Validation, error) {
	var issues []string

	factors, ok := output["factors"].(map[string]interface{})
	if !ok {
		issues = append(issues, "Missing factors in extraction result")
	}
	if _, ok := output["metadata"]; !ok {
		issues = append(issues, "Missing metadata in extraction result")
	}
	if factors != nil {
		if getString(factors, "f_merchant_name") == "" {
			issues = append(issues, "Missing merchant name factor")
		}
		if getString(factors, "f_merchant_ein") == "" {
			issues = append(issues, "Missing merchant EIN factor")
		}
	}

	if len(issues) > 0 {
		return engine.Invalid(issues...), nil
	}
	return engine.ValidationOK(), nil
}

// ShouldExecute vetoes runs whose payload lacks the subscribed fields.
func (p *ApplicationProcessor) ShouldExecute(payload map[string]interface{}) (bool, string) {
	form, ok := payload["application_form"].(map[string]interface{})
	if !ok {
		return false, "payload is missing application_form"
	}

	var missing []string
	for _, field := range []string{"merchant.name", "merchant.ein"} {
		if getString(form, field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return true, ""
}
