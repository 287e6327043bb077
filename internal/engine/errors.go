// Package engine implements the underwriting processing core: the
// processor pipeline, payload hashing and formatting, filtration,
// bounded-parallel execution, consolidation and the five orchestrator
// workflows.
package engine

import (
	"fmt"
	"strings"
)

// FailureKind classifies a processor failure. The kind decides which
// pipeline phase is reported on the execution row and whether the
// subscriber treats a workflow error as retryable.
type FailureKind string

const (
	FailPrevalidation      FailureKind = "prevalidation_error"
	FailTransformation     FailureKind = "transformation_error"
	FailInputValidation    FailureKind = "input_validation_error"
	FailFactorExtraction   FailureKind = "factor_extraction_error"
	FailDataTransformation FailureKind = "data_transformation_error"
	FailAPI                FailureKind = "api_error"
	FailResultValidation   FailureKind = "result_validation_error"
	FailPersistence        FailureKind = "persistence_error"
	FailConfiguration      FailureKind = "configuration_error"
)

// Pipeline phases as persisted in error_phase.
const (
	PhasePreExtraction  = "pre-extraction"
	PhaseExtraction     = "extraction"
	PhasePostExtraction = "post-extraction"
	PhaseUnknown        = "unknown"
)

// Phase maps the failure kind to the pipeline phase it is reported
// under. Kinds that occur outside the three phases report "unknown",
// matching how untyped failures are treated.
func (k FailureKind) Phase() string {
	switch k {
	case FailPrevalidation, FailTransformation, FailInputValidation:
		return PhasePreExtraction
	case FailFactorExtraction, FailDataTransformation, FailAPI:
		return PhaseExtraction
	case FailResultValidation:
		return PhasePostExtraction
	default:
		return PhaseUnknown
	}
}

// ProcessorError is the typed failure the pipeline persists onto the
// execution row. API failures additionally carry the outbound call
// context used for retry classification.
type ProcessorError struct {
	Kind    FailureKind
	Message string
	Details map[string]interface{}

	// API call context, set when Kind == FailAPI.
	APIName    string
	StatusCode int
	Retryable  bool

	cause error
}

func (e *ProcessorError) Error() string {
	if e.APIName != "" {
		return fmt.Sprintf("%s: %s (api=%s status=%d)", e.Kind, e.Message, e.APIName, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProcessorError) Unwrap() error { return e.cause }

// NewPrevalidationError reports a missing prerequisite before transform.
func NewPrevalidationError(format string, args ...interface{}) *ProcessorError {
	return &ProcessorError{Kind: FailPrevalidation, Message: fmt.Sprintf(format, args...)}
}

// NewTransformationError reports a failed input normalization.
func NewTransformationError(format string, args ...interface{}) *ProcessorError {
	return &ProcessorError{Kind: FailTransformation, Message: fmt.Sprintf(format, args...)}
}

// NewInputValidationError reports a failed-closed input validation.
func NewInputValidationError(issues []string) *ProcessorError {
	return &ProcessorError{
		Kind:    FailInputValidation,
		Message: strings.Join(issues, "; "),
		Details: map[string]interface{}{"issues": issues},
	}
}

// NewFactorExtractionError reports a domain failure inside extract.
func NewFactorExtractionError(format string, args ...interface{}) *ProcessorError {
	return &ProcessorError{Kind: FailFactorExtraction, Message: fmt.Sprintf(format, args...)}
}

// NewDataTransformationError reports a data manipulation failure inside extract.
func NewDataTransformationError(format string, args ...interface{}) *ProcessorError {
	return &ProcessorError{Kind: FailDataTransformation, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError reports an outbound call failure during extraction.
func NewAPIError(apiName string, statusCode int, retryable bool, format string, args ...interface{}) *ProcessorError {
	return &ProcessorError{
		Kind:       FailAPI,
		Message:    fmt.Sprintf(format, args...),
		APIName:    apiName,
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

// NewResultValidationError reports a rejected extraction output.
func NewResultValidationError(issues []string) *ProcessorError {
	return &ProcessorError{
		Kind:    FailResultValidation,
		Message: strings.Join(issues, "; "),
		Details: map[string]interface{}{"issues": issues},
	}
}

// NewPersistenceError wraps a storage write failure.
func NewPersistenceError(err error) *ProcessorError {
	return &ProcessorError{Kind: FailPersistence, Message: err.Error(), cause: err}
}

// NewConfigurationError reports missing or invalid processor config.
func NewConfigurationError(format string, args ...interface{}) *ProcessorError {
	return &ProcessorError{Kind: FailConfiguration, Message: fmt.Sprintf(format, args...)}
}
