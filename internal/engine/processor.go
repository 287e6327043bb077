package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/aura/underwriting/internal/core"
)

// Processor is one analytical unit. Implementations declare what they
// consume (kind + triggers) and provide the four pipeline methods. The
// pipeline itself is not overridable; it lives in Pipeline.Execute.
type Processor interface {
	Name() string
	Kind() core.ProcessorKind
	Triggers() core.Triggers
	DefaultConfig() map[string]interface{}

	// TransformInput normalizes the raw payload for validation.
	TransformInput(run *Run, payload map[string]interface{}) (map[string]interface{}, error)
	// ValidateInput fails closed: a non-valid verdict aborts the run
	// before extraction.
	ValidateInput(run *Run, transformed map[string]interface{}) (*Validation, error)
	// Extract produces the factor output. Same input must produce the
	// same output.
	Extract(run *Run, validated map[string]interface{}) (map[string]interface{}, error)
	// ValidateOutput rejects structurally or semantically broken output.
	ValidateOutput(run *Run, output map[string]interface{}) (*Validation, error)
}

// Prevalidator is an optional cheap precondition hook that runs before
// TransformInput.
type Prevalidator interface {
	Prevalidate(run *Run, payload map[string]interface{}) error
}

// ExecutionGate optionally vetoes a run before it is launched.
type ExecutionGate interface {
	ShouldExecute(payload map[string]interface{}) (bool, string)
}

// Consolidator optionally overrides how the factor maps of a processor's
// active executions merge. The list arrives most recently completed
// first. Without it the engine keeps the first element.
type Consolidator interface {
	Consolidate(factorsList []map[string]interface{}) map[string]interface{}
}

// ConsolidateDefault is the merge used when a processor does not
// implement Consolidator: the most recent factors map wins outright.
func ConsolidateDefault(factorsList []map[string]interface{}) map[string]interface{} {
	if len(factorsList) == 0 {
		return map[string]interface{}{}
	}
	return factorsList[0]
}

// Validation is the verdict of an input or output validation phase.
type Validation struct {
	Valid  bool
	Issues []string
}

// ValidationOK returns a passing verdict.
func ValidationOK() *Validation { return &Validation{Valid: true} }

// Invalid returns a failing verdict carrying the issues found.
func Invalid(issues ...string) *Validation { return &Validation{Valid: false, Issues: issues} }

// Run is the per-execution context threaded through the pipeline. It
// carries identity, the resolved config view, and the cost/document
// accounting the processor reports during extraction.
type Run struct {
	ExecutionID             string
	UnderwritingID          string
	UnderwritingProcessorID string
	Processor               string

	ctx    context.Context
	config map[string]interface{}

	mu            sync.Mutex
	costCents     int64
	costBreakdown map[string]int64
	revisionIDs   []string
	docIDsHash    string
}

// NewRun builds the context one pipeline invocation runs under. config
// is the resolved view: defaultConfig <- file defaults <- organization
// config <- per-case override, shallow right-wins.
func NewRun(ctx context.Context, executionID, underwritingID, upID, processor string, config map[string]interface{}) *Run {
	if config == nil {
		config = map[string]interface{}{}
	}
	return &Run{
		ExecutionID:             executionID,
		UnderwritingID:          underwritingID,
		UnderwritingProcessorID: upID,
		Processor:               processor,
		ctx:                     ctx,
		config:                  config,
		costBreakdown:           map[string]int64{},
		revisionIDs:             []string{},
	}
}

// Context returns the context the run is bound to; blocking work inside
// Extract must honor it.
func (r *Run) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Config returns the resolved config map.
func (r *Run) Config() map[string]interface{} { return r.config }

// ConfigInt reads an integer config value. JSON round trips land numbers
// as float64 or json.Number; both are accepted.
func (r *Run) ConfigInt(key string, fallback int) int {
	v, ok := r.config[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return fallback
}

// ConfigBool reads a boolean config value.
func (r *Run) ConfigBool(key string, fallback bool) bool {
	if v, ok := r.config[key].(bool); ok {
		return v
	}
	return fallback
}

// ConfigString reads a string config value.
func (r *Run) ConfigString(key, fallback string) string {
	if v, ok := r.config[key].(string); ok {
		return v
	}
	return fallback
}

// AddCost accrues work cost in cents under a category.
func (r *Run) AddCost(category string, cents int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costBreakdown[category] += cents
	r.costCents += cents
}

// AddDocumentRevisionID attributes a document revision to this run.
func (r *Run) AddDocumentRevisionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisionIDs = append(r.revisionIDs, id)
}

// SetDocumentIDsHash fingerprints the document set this run consumed.
func (r *Run) SetDocumentIDsHash(ids []string) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h, err := HashPayload(sorted)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docIDsHash = h
}

// CostCents returns the accumulated total cost.
func (r *Run) CostCents() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.costCents
}

// CostBreakdown returns a copy of the per-category cost map.
func (r *Run) CostBreakdown() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.costBreakdown))
	for k, v := range r.costBreakdown {
		out[k] = v
	}
	return out
}

// DocumentRevisionIDs returns a copy of the attributed revisions.
func (r *Run) DocumentRevisionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.revisionIDs...)
}

// DocumentIDsHash returns the document set fingerprint, if set.
func (r *Run) DocumentIDsHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docIDsHash
}

// Result is the pipeline envelope persisted onto the execution row.
type Result struct {
	ExecutionID             string                 `json:"execution_id"`
	Processor               string                 `json:"processor"`
	Status                  core.ExecutionStatus   `json:"status"`
	Output                  map[string]interface{} `json:"output,omitempty"`
	ErrorPhase              string                 `json:"error_phase,omitempty"`
	FailedCode              string                 `json:"failed_code,omitempty"`
	FailedReason            string                 `json:"failed_reason,omitempty"`
	RunCostCents            int64                  `json:"run_cost_cents"`
	CostBreakdown           map[string]int64       `json:"cost_breakdown,omitempty"`
	DocumentRevisionIDs     []string               `json:"document_revision_ids,omitempty"`
	DocumentIDsHash         string                 `json:"document_ids_hash,omitempty"`
	StartedAt               time.Time              `json:"started_at"`
	CompletedAt             time.Time              `json:"completed_at"`
	UnderwritingProcessorID string                 `json:"underwriting_processor_id"`
}

// Completed reports whether the pipeline finished all three phases.
func (res *Result) Completed() bool { return res.Status == core.ExecutionCompleted }

// ResolveConfig merges config layers shallowly, rightmost wins.
func ResolveConfig(layers ...map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
