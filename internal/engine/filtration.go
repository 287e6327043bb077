package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/aura/underwriting/internal/core"
)

// ErrUnderwritingNotFound marks a workflow dispatched for an unknown
// case. Workflows report it as success with zero counts; it is not a
// retryable condition.
var ErrUnderwritingNotFound = errors.New("underwriting not found")

// Execution generation actions recorded in the workflow log.
const (
	actionCreatedNew  = "created_new"
	actionReusedExist = "reused_existing"
	actionDuplicated  = "duplicated"
)

// Filtration selects the processors that must (re)run for an
// underwriting and generates their executions, deduplicating by payload
// content hash.
type Filtration struct {
	underwritings UnderwritingStore
	processors    ProcessorStore
	executions    ExecutionStore
	registry      *Registry
	audit         WorkflowAudit
	logger        *log.Logger
}

// NewFiltration wires the filtration service.
func NewFiltration(uw UnderwritingStore, ps ProcessorStore, es ExecutionStore, reg *Registry, audit WorkflowAudit) *Filtration {
	return &Filtration{
		underwritings: uw,
		processors:    ps,
		executions:    es,
		registry:      reg,
		audit:         audit,
		logger:        log.New(log.Writer(), "[FILTRATION] ", log.LstdFlags),
	}
}

// FiltrationResult carries what the later stages consume: processor ids
// for consolidation and execution ids for the worker pool.
type FiltrationResult struct {
	ProcessorList      []string `json:"processor_list"`
	ExecutionList      []string `json:"execution_list"`
	EligibleProcessors int      `json:"eligible_processors"`
}

// Run performs full filtration for one underwriting: load the snapshot,
// walk the auto-enabled processor instances, prepare each one.
// Per-processor failures are logged and skip that processor; they do not
// abort the sibling processors.
func (f *Filtration) Run(ctx context.Context, underwritingID, workflowName string) (*FiltrationResult, error) {
	start := time.Now()

	snapshot, err := f.underwritings.GetSnapshot(ctx, underwritingID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, ErrUnderwritingNotFound
	}

	instances, err := f.processors.ListAutoEnabled(ctx, underwritingID)
	if err != nil {
		return nil, err
	}

	result := &FiltrationResult{
		ProcessorList: []string{},
		ExecutionList: []string{},
	}

	for i := range instances {
		up := &instances[i]
		newIDs, participates, err := f.PrepareProcessor(ctx, up, snapshot, false, workflowName)
		if err != nil {
			f.logger.Printf("⚠️  prepare %s (%s) failed: %v", up.Processor, up.ID, err)
			continue
		}
		if !participates {
			continue
		}
		result.EligibleProcessors++
		result.ProcessorList = append(result.ProcessorList, up.ID)
		result.ExecutionList = append(result.ExecutionList, newIDs...)
	}

	f.logStage(ctx, underwritingID, workflowName, "filtration", start,
		map[string]interface{}{"underwriting_id": underwritingID},
		nil,
		map[string]interface{}{
			"processor_count":     len(result.ProcessorList),
			"execution_count":     len(result.ExecutionList),
			"eligible_processors": result.EligibleProcessors,
		},
		map[string]interface{}{"instances_considered": len(instances)},
		nil,
	)

	return result, nil
}

// PrepareProcessor shapes payloads for one processor instance and diffs
// the desired execution set against currentExecutionsList.
//
// Returns participates=false when the processor declares no triggers and
// must be skipped entirely. Otherwise the returned slice holds only the
// NEW executions (the ones the worker pool must run); an empty slice
// means the processor still participates in consolidation.
func (f *Filtration) PrepareProcessor(ctx context.Context, up *core.UnderwritingProcessor, snapshot *core.Underwriting, duplicate bool, workflowName string) ([]string, bool, error) {
	start := time.Now()

	proc, err := f.registry.New(up.Processor)
	if err != nil {
		f.logStage(ctx, up.UnderwritingID, workflowName, "prepare_processor", start,
			map[string]interface{}{"underwriting_processor_id": up.ID},
			nil, nil,
			map[string]interface{}{"processor_name": up.Processor},
			err,
		)
		return nil, false, err
	}

	payloads, err := FormatPayloadList(proc.Kind(), proc.Triggers(), snapshot)
	f.logStage(ctx, up.UnderwritingID, workflowName, "format_payload_list", start,
		map[string]interface{}{"underwriting_id": up.UnderwritingID},
		map[string]interface{}{
			"processor_type":     string(proc.Kind()),
			"processor_triggers": proc.Triggers(),
		},
		map[string]interface{}{"payload_count": payloadCount(payloads)},
		map[string]interface{}{
			"underwriting_processor_id": up.ID,
			"processor_name":            up.Processor,
		},
		err,
	)
	if err != nil {
		return nil, false, err
	}

	// No triggers declared: the orchestrator skips this processor.
	if payloads == nil {
		return nil, false, nil
	}

	desired := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		id, _, err := f.GenerateExecution(ctx, up, payload, duplicate, workflowName)
		if err != nil {
			return nil, false, err
		}
		desired = append(desired, id)
	}

	current := up.CurrentExecutionsList
	newIDs := diffStrings(desired, current)
	removed := diffStrings(current, desired)

	// Triggers matched but nothing matches anymore: clear the list so
	// the stale outputs drop at consolidation.
	if len(payloads) == 0 && len(current) > 0 {
		if err := f.processors.UpdateCurrentExecutions(ctx, up.ID, []string{}); err != nil {
			return nil, false, err
		}
		up.CurrentExecutionsList = []string{}
		f.logPrepareOutcome(ctx, up, workflowName, start, desired, newIDs, removed, "cleared")
		return []string{}, true, nil
	}

	// Nothing changed: consolidation only.
	if len(newIDs) == 0 && len(removed) == 0 {
		f.logPrepareOutcome(ctx, up, workflowName, start, desired, newIDs, removed, "unchanged")
		return []string{}, true, nil
	}

	if err := f.processors.UpdateCurrentExecutions(ctx, up.ID, desired); err != nil {
		return nil, false, err
	}
	up.CurrentExecutionsList = desired

	f.logPrepareOutcome(ctx, up, workflowName, start, desired, newIDs, removed, "updated")
	return newIDs, true, nil
}

// GenerateExecution resolves one payload to an execution id, reusing an
// existing row when the content hash matches.
//
// duplicate=true forces a new row even on a hash hit and supersedes the
// old row via its updated_execution_id forward link.
func (f *Filtration) GenerateExecution(ctx context.Context, up *core.UnderwritingProcessor, payload map[string]interface{}, duplicate bool, workflowName string) (string, string, error) {
	start := time.Now()

	hash, err := HashPayload(payload)
	if err != nil {
		return "", "", err
	}

	existing, err := f.executions.FindByHash(ctx, up.ID, hash)
	if err != nil {
		return "", "", err
	}

	var (
		executionID string
		action      string
	)

	switch {
	case existing != nil && !duplicate:
		executionID = existing.ID
		action = actionReusedExist

	case existing != nil && duplicate:
		clone := newExecutionRow(up, payload, hash)
		if err := f.executions.Insert(ctx, clone); err != nil {
			return "", "", err
		}
		if _, err := f.executions.Supersede(ctx, existing.ID, clone.ID); err != nil {
			return "", "", err
		}
		executionID = clone.ID
		action = actionDuplicated

	default:
		created := newExecutionRow(up, payload, hash)
		if err := f.executions.Insert(ctx, created); err != nil {
			return "", "", err
		}
		executionID = created.ID
		action = actionCreatedNew
	}

	f.logStage(ctx, up.UnderwritingID, workflowName, "generate_execution", start,
		payload,
		map[string]interface{}{"duplicate": duplicate},
		map[string]interface{}{
			"execution_id": executionID,
			"action":       action,
			"payload_hash": hash,
		},
		map[string]interface{}{
			"underwriting_processor_id": up.ID,
			"processor_name":            up.Processor,
		},
		nil,
	)

	return executionID, action, nil
}

func newExecutionRow(up *core.UnderwritingProcessor, payload map[string]interface{}, hash string) *core.Execution {
	return &core.Execution{
		OrganizationID:          up.OrganizationID,
		UnderwritingID:          up.UnderwritingID,
		UnderwritingProcessorID: up.ID,
		Processor:               up.Processor,
		Status:                  core.ExecutionPending,
		Enabled:                 true,
		Payload:                 payload,
		PayloadHash:             hash,
	}
}

func (f *Filtration) logPrepareOutcome(ctx context.Context, up *core.UnderwritingProcessor, workflowName string, start time.Time, desired, newIDs, removed []string, outcome string) {
	f.logStage(ctx, up.UnderwritingID, workflowName, "prepare_processor", start,
		map[string]interface{}{"underwriting_processor_id": up.ID},
		nil,
		map[string]interface{}{
			"outcome":            outcome,
			"desired_executions": desired,
			"new_executions":     newIDs,
			"removed_executions": removed,
		},
		map[string]interface{}{"processor_name": up.Processor},
		nil,
	)
}

// logStage writes one workflow audit record; failures there are logged
// and swallowed since the audit trail never gates correctness.
func (f *Filtration) logStage(ctx context.Context, underwritingID, workflowName, stage string, start time.Time, payload, input, output, metadata map[string]interface{}, stageErr error) {
	if f.audit == nil {
		return
	}
	entry := &core.WorkflowEntry{
		UnderwritingID:  underwritingID,
		WorkflowName:    workflowName,
		Stage:           stage,
		Payload:         payload,
		Input:           input,
		Output:          output,
		Metadata:        metadata,
		Status:          "completed",
		PayloadHash:     ShortHash(payload),
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
	if stageErr != nil {
		entry.Status = "failed"
		entry.ErrorMessage = stageErr.Error()
	}
	if err := f.audit.LogStage(ctx, entry); err != nil {
		f.logger.Printf("⚠️  workflow log write failed (stage=%s): %v", stage, err)
	}
}

func payloadCount(payloads []map[string]interface{}) interface{} {
	if payloads == nil {
		return nil
	}
	return len(payloads)
}

// diffStrings returns the elements of a not present in b, keeping a's
// order.
func diffStrings(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	out := make([]string, 0)
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	return out
}
