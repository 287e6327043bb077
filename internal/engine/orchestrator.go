package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/events"
	"github.com/aura/underwriting/internal/monitoring"
)

// Workflow names as they appear in the workflow log and metrics.
const (
	Workflow1 = "Workflow 1"
	Workflow2 = "Workflow 2"
	Workflow3 = "Workflow 3"
	Workflow4 = "Workflow 4"
	Workflow5 = "Workflow 5"
)

// Manual execution scenarios (Workflow 2).
const (
	ScenarioRerunExecution = "Scenario 1: Rerun specific execution"
	ScenarioRerunProcessor = "Scenario 2: Rerun entire processor"
	ScenarioSelectiveData  = "Scenario 3: Selective data execution"
)

// Orchestrator drives the five underwriting workflows over the
// filtration, execution and consolidation stages.
type Orchestrator struct {
	filtration    *Filtration
	executor      *Executor
	consolidation *Consolidation
	underwritings UnderwritingStore
	processors    ProcessorStore
	executions    ExecutionStore
	factors       FactorStore
	audit         WorkflowAudit
	emitter       events.EventEmitter
	metrics       *monitoring.Metrics
	logger        *log.Logger
}

// NewOrchestrator wires the workflow entry points.
func NewOrchestrator(
	filtration *Filtration,
	executor *Executor,
	consolidation *Consolidation,
	underwritings UnderwritingStore,
	processors ProcessorStore,
	executions ExecutionStore,
	factors FactorStore,
	audit WorkflowAudit,
	emitter events.EventEmitter,
	metrics *monitoring.Metrics,
) *Orchestrator {
	return &Orchestrator{
		filtration:    filtration,
		executor:      executor,
		consolidation: consolidation,
		underwritings: underwritings,
		processors:    processors,
		executions:    executions,
		factors:       factors,
		audit:         audit,
		emitter:       emitter,
		metrics:       metrics,
		logger:        log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// WorkflowDetails carries the per-stage results of a workflow run.
type WorkflowDetails struct {
	ProcessorList        []string                 `json:"processor_list,omitempty"`
	ExecutionList        []string                 `json:"execution_list,omitempty"`
	ExecutionResults     []RunSummary             `json:"execution_results,omitempty"`
	ConsolidationResults []ProcessorConsolidation `json:"consolidation_results,omitempty"`
}

// WorkflowSummary is the structured outcome every workflow returns.
type WorkflowSummary struct {
	Success                bool             `json:"success"`
	Workflow               string           `json:"workflow"`
	UnderwritingID         string           `json:"underwriting_id,omitempty"`
	Scenario               string           `json:"scenario,omitempty"`
	Message                string           `json:"message,omitempty"`
	Error                  string           `json:"error,omitempty"`
	ProcessorsSelected     int              `json:"processors_selected"`
	ExecutionsRun          int              `json:"executions_run"`
	ExecutionsFailed       int              `json:"executions_failed"`
	ExecutionsSkipped      int              `json:"executions_skipped,omitempty"`
	ProcessorsConsolidated int              `json:"processors_consolidated"`
	FactorsDeleted         int64            `json:"factors_deleted,omitempty"`
	Details                *WorkflowDetails `json:"details,omitempty"`
}

// ManualExecuteRequest is the Workflow 2 input.
type ManualExecuteRequest struct {
	UnderwritingProcessorID string                 `json:"underwriting_processor_id" validate:"required,uuid4"`
	ExecutionID             string                 `json:"execution_id,omitempty" validate:"omitempty,uuid4"`
	Duplicate               bool                   `json:"duplicate,omitempty"`
	ApplicationForm         map[string]interface{} `json:"application_form,omitempty"`
	DocumentList            []interface{}          `json:"document_list,omitempty"`
}

// AutoExecute is Workflow 1: full filtration, execution and
// consolidation for one underwriting. An unknown underwriting id is a
// success with zero counts so the message is not redelivered forever.
func (o *Orchestrator) AutoExecute(ctx context.Context, underwritingID string) *WorkflowSummary {
	start := time.Now()
	sum := &WorkflowSummary{Workflow: Workflow1, UnderwritingID: underwritingID, Details: &WorkflowDetails{}}
	defer o.finish(ctx, sum, start)

	o.logger.Printf("🚀 %s start underwriting=%s", Workflow1, underwritingID)

	fil, err := o.filtration.Run(ctx, underwritingID, Workflow1)
	if err != nil {
		if errors.Is(err, ErrUnderwritingNotFound) {
			sum.Success = true
			sum.Message = fmt.Sprintf("underwriting %s not found, nothing to do", underwritingID)
			return sum
		}
		sum.Error = err.Error()
		return sum
	}

	sum.ProcessorsSelected = len(fil.ProcessorList)
	sum.Details.ProcessorList = fil.ProcessorList
	sum.Details.ExecutionList = fil.ExecutionList

	if len(fil.ProcessorList) == 0 {
		sum.Success = true
		sum.Message = "no processors matched triggers"
		return sum
	}

	out := o.executor.RunBatch(ctx, fil.ExecutionList, Workflow1)
	sum.ExecutionsRun = out.Completed
	sum.ExecutionsFailed = out.Failed
	sum.ExecutionsSkipped = out.Skipped
	sum.Details.ExecutionResults = out.Summaries

	cons := o.consolidation.Run(ctx, fil.ProcessorList, Workflow1)
	sum.ProcessorsConsolidated = cons.Consolidated
	sum.Details.ConsolidationResults = cons.Results

	sum.Success = true
	return sum
}

// ManualExecute is Workflow 2: targeted re-execution of one processor
// instance, optionally of one specific execution or with a hand-picked
// data subset.
func (o *Orchestrator) ManualExecute(ctx context.Context, req ManualExecuteRequest) *WorkflowSummary {
	start := time.Now()
	sum := &WorkflowSummary{Workflow: Workflow2, Details: &WorkflowDetails{}}
	defer o.finish(ctx, sum, start)

	o.logger.Printf("🚀 %s start underwriting_processor=%s execution=%q duplicate=%t",
		Workflow2, req.UnderwritingProcessorID, req.ExecutionID, req.Duplicate)

	up, err := o.processors.GetByID(ctx, req.UnderwritingProcessorID)
	if err != nil {
		sum.Error = fmt.Sprintf("load underwriting processor: %v", err)
		return sum
	}
	if up == nil {
		sum.Success = true
		sum.Message = fmt.Sprintf("underwriting processor %s not found, nothing to do", req.UnderwritingProcessorID)
		return sum
	}
	sum.UnderwritingID = up.UnderwritingID

	var runList []string
	switch {
	case req.ExecutionID != "":
		sum.Scenario = ScenarioRerunExecution
		runList, err = o.rerunExecution(ctx, req)
	case req.ApplicationForm != nil || req.DocumentList != nil:
		sum.Scenario = ScenarioSelectiveData
		runList, err = o.selectiveExecution(ctx, up, req)
	default:
		sum.Scenario = ScenarioRerunProcessor
		runList, err = o.rerunProcessor(ctx, up, req.Duplicate)
	}
	if err != nil {
		if errors.Is(err, ErrUnderwritingNotFound) {
			sum.Success = true
			sum.Message = fmt.Sprintf("underwriting %s not found, nothing to do", up.UnderwritingID)
			return sum
		}
		sum.Error = err.Error()
		return sum
	}
	if runList == nil {
		// Unknown execution id: acknowledged, never retried.
		sum.Success = true
		sum.Message = fmt.Sprintf("execution %s not found, nothing to do", req.ExecutionID)
		return sum
	}

	sum.ProcessorsSelected = 1
	sum.Details.ProcessorList = []string{up.ID}
	sum.Details.ExecutionList = runList

	if len(runList) == 0 {
		sum.Success = true
		sum.Message = "no new executions to run"
		return sum
	}

	out := o.executor.RunBatch(ctx, runList, Workflow2)
	sum.ExecutionsRun = out.Completed
	sum.ExecutionsFailed = out.Failed
	sum.ExecutionsSkipped = out.Skipped
	sum.Details.ExecutionResults = out.Summaries

	cons := o.consolidation.Run(ctx, []string{up.ID}, Workflow2)
	sum.ProcessorsConsolidated = cons.Consolidated
	sum.Details.ConsolidationResults = cons.Results

	sum.Success = true
	return sum
}

// rerunExecution targets one existing execution. With duplicate it is
// cloned and the original superseded; otherwise the row itself is put
// back in the run queue. A nil, nil return means the id is unknown.
func (o *Orchestrator) rerunExecution(ctx context.Context, req ManualExecuteRequest) ([]string, error) {
	existing, err := o.executions.GetByID(ctx, req.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if existing == nil {
		return nil, nil
	}

	if !req.Duplicate {
		if err := o.executions.SetStatus(ctx, existing.ID, core.ExecutionPending); err != nil {
			return nil, fmt.Errorf("re-enqueue execution: %w", err)
		}
		return []string{existing.ID}, nil
	}

	clone := &core.Execution{
		OrganizationID:          existing.OrganizationID,
		UnderwritingID:          existing.UnderwritingID,
		UnderwritingProcessorID: existing.UnderwritingProcessorID,
		Processor:               existing.Processor,
		Status:                  core.ExecutionPending,
		Enabled:                 true,
		Payload:                 existing.Payload,
		PayloadHash:             existing.PayloadHash,
	}
	if err := o.executions.Insert(ctx, clone); err != nil {
		return nil, fmt.Errorf("clone execution: %w", err)
	}
	if _, err := o.executions.Supersede(ctx, existing.ID, clone.ID); err != nil {
		return nil, fmt.Errorf("supersede execution: %w", err)
	}
	o.logger.Printf("🔄 execution superseded old=%s new=%s", existing.ID, clone.ID)
	return []string{clone.ID}, nil
}

// selectiveExecution builds a one-off payload from the request's data
// subset and generates a single execution for it. The payload carries
// only data content so its hash stays comparable across retries.
func (o *Orchestrator) selectiveExecution(ctx context.Context, up *core.UnderwritingProcessor, req ManualExecuteRequest) ([]string, error) {
	snapshot, err := o.underwritings.GetSnapshot(ctx, up.UnderwritingID)
	if err != nil {
		return nil, fmt.Errorf("load underwriting: %w", err)
	}
	if snapshot == nil {
		return nil, ErrUnderwritingNotFound
	}

	owners, err := toGenericList(snapshot.Owners)
	if err != nil {
		return nil, fmt.Errorf("shape owners: %w", err)
	}

	form := req.ApplicationForm
	if form == nil {
		form = map[string]interface{}{}
		if proc, err := o.filtration.registry.New(up.Processor); err == nil {
			if payloads, err := formatApplicationPayload(proc.Triggers(), snapshot); err == nil && len(payloads) > 0 {
				if m, ok := payloads[0]["application_form"].(map[string]interface{}); ok {
					form = m
				}
			}
		}
	}

	documents := req.DocumentList
	if documents == nil {
		documents, err = toGenericList(snapshot.Documents)
		if err != nil {
			return nil, fmt.Errorf("shape documents: %w", err)
		}
	}

	payload := map[string]interface{}{
		"application_form": form,
		"owners_list":      owners,
		"documents_list":   documents,
	}

	id, action, err := o.filtration.GenerateExecution(ctx, up, payload, req.Duplicate, Workflow2)
	if err != nil {
		return nil, err
	}
	o.logger.Printf("📦 one-off execution %s (%s)", id, action)
	return []string{id}, nil
}

// rerunProcessor re-prepares the whole processor from the current
// snapshot. With duplicate, any pre-existing active execution whose hash
// matches a fresh one is superseded by it.
func (o *Orchestrator) rerunProcessor(ctx context.Context, up *core.UnderwritingProcessor, duplicate bool) ([]string, error) {
	snapshot, err := o.underwritings.GetSnapshot(ctx, up.UnderwritingID)
	if err != nil {
		return nil, fmt.Errorf("load underwriting: %w", err)
	}
	if snapshot == nil {
		return nil, ErrUnderwritingNotFound
	}

	var preActive []core.Execution
	if duplicate {
		preActive, err = o.executions.ListActive(ctx, up.ID, up.CurrentExecutionsList)
		if err != nil {
			return nil, fmt.Errorf("load active executions: %w", err)
		}
	}

	newIDs, _, err := o.filtration.PrepareProcessor(ctx, up, snapshot, duplicate, Workflow2)
	if err != nil {
		return nil, err
	}

	if duplicate && len(preActive) > 0 {
		for _, newID := range newIDs {
			fresh, err := o.executions.GetByID(ctx, newID)
			if err != nil || fresh == nil || fresh.PayloadHash == "" {
				continue
			}
			for _, old := range preActive {
				if old.ID == fresh.ID || old.PayloadHash != fresh.PayloadHash {
					continue
				}
				if ok, err := o.executions.Supersede(ctx, old.ID, fresh.ID); err == nil && ok {
					o.logger.Printf("🔄 execution superseded old=%s new=%s", old.ID, fresh.ID)
				}
				break
			}
		}
	}

	return newIDs, nil
}

// ConsolidateOnly is Workflow 3: recompute the consolidated factors of
// one processor without creating executions.
func (o *Orchestrator) ConsolidateOnly(ctx context.Context, underwritingProcessorID string) *WorkflowSummary {
	start := time.Now()
	sum := &WorkflowSummary{Workflow: Workflow3, Details: &WorkflowDetails{}}
	defer o.finish(ctx, sum, start)

	o.logger.Printf("🚀 %s start underwriting_processor=%s", Workflow3, underwritingProcessorID)

	up, err := o.processors.GetByID(ctx, underwritingProcessorID)
	if err != nil {
		sum.Error = fmt.Sprintf("load underwriting processor: %v", err)
		return sum
	}
	if up == nil {
		sum.Success = true
		sum.Message = fmt.Sprintf("underwriting processor %s not found, nothing to do", underwritingProcessorID)
		return sum
	}
	sum.UnderwritingID = up.UnderwritingID
	sum.ProcessorsSelected = 1
	sum.Details.ProcessorList = []string{up.ID}

	cons := o.consolidation.Run(ctx, []string{up.ID}, Workflow3)
	sum.ProcessorsConsolidated = cons.Consolidated
	sum.Details.ConsolidationResults = cons.Results

	sum.Success = true
	return sum
}

// ActivateExecution is Workflow 4: the activated execution becomes the
// processor's sole authoritative output, then factors are recomputed.
func (o *Orchestrator) ActivateExecution(ctx context.Context, executionID string) *WorkflowSummary {
	start := time.Now()
	sum := &WorkflowSummary{Workflow: Workflow4, Details: &WorkflowDetails{}}
	defer o.finish(ctx, sum, start)

	o.logger.Printf("🚀 %s start execution=%s", Workflow4, executionID)

	execution, up, summaryDone := o.loadExecutionTarget(ctx, sum, executionID)
	if summaryDone {
		return sum
	}

	if err := o.executions.SetEnabled(ctx, executionID, true); err != nil {
		sum.Error = fmt.Sprintf("enable execution: %v", err)
		return sum
	}

	previous := up.CurrentExecutionsList
	if err := o.processors.UpdateCurrentExecutions(ctx, up.ID, []string{executionID}); err != nil {
		sum.Error = fmt.Sprintf("update current executions: %v", err)
		return sum
	}
	up.CurrentExecutionsList = []string{executionID}

	o.logStage(ctx, sum, "activate_execution", start, map[string]interface{}{
		"execution_id":              executionID,
		"underwriting_processor_id": up.ID,
		"processor":                 execution.Processor,
	}, map[string]interface{}{
		"previous_executions_list": previous,
		"current_executions_list":  up.CurrentExecutionsList,
	})

	sum.ProcessorsSelected = 1
	sum.Details.ProcessorList = []string{up.ID}

	cons := o.consolidation.Run(ctx, []string{up.ID}, Workflow4)
	sum.ProcessorsConsolidated = cons.Consolidated
	sum.Details.ConsolidationResults = cons.Results

	sum.Success = true
	return sum
}

// DisableExecution is Workflow 5: the execution is switched off, its
// factors soft-deleted, and the processor's remaining active executions
// re-consolidated.
func (o *Orchestrator) DisableExecution(ctx context.Context, executionID string) *WorkflowSummary {
	start := time.Now()
	sum := &WorkflowSummary{Workflow: Workflow5, Details: &WorkflowDetails{}}
	defer o.finish(ctx, sum, start)

	o.logger.Printf("🚀 %s start execution=%s", Workflow5, executionID)

	execution, up, summaryDone := o.loadExecutionTarget(ctx, sum, executionID)
	if summaryDone {
		return sum
	}

	if err := o.executions.SetEnabled(ctx, executionID, false); err != nil {
		sum.Error = fmt.Sprintf("disable execution: %v", err)
		return sum
	}

	previous := up.CurrentExecutionsList
	remaining := make([]string, 0, len(previous))
	for _, id := range previous {
		if id != executionID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) != len(previous) {
		if err := o.processors.UpdateCurrentExecutions(ctx, up.ID, remaining); err != nil {
			sum.Error = fmt.Sprintf("update current executions: %v", err)
			return sum
		}
		up.CurrentExecutionsList = remaining
	}

	deleted, err := o.factors.DeleteByExecution(ctx, executionID)
	if err != nil {
		sum.Error = fmt.Sprintf("delete factors: %v", err)
		return sum
	}
	sum.FactorsDeleted = deleted

	o.logStage(ctx, sum, "disable_execution", start, map[string]interface{}{
		"execution_id":              executionID,
		"underwriting_processor_id": up.ID,
		"processor":                 execution.Processor,
	}, map[string]interface{}{
		"previous_executions_list": previous,
		"current_executions_list":  up.CurrentExecutionsList,
		"factors_deleted":          deleted,
	})

	sum.ProcessorsSelected = 1
	sum.Details.ProcessorList = []string{up.ID}

	cons := o.consolidation.Run(ctx, []string{up.ID}, Workflow5)
	sum.ProcessorsConsolidated = cons.Consolidated
	sum.Details.ConsolidationResults = cons.Results

	sum.Success = true
	return sum
}

// loadExecutionTarget resolves the execution row and its owning
// processor instance for W4/W5. It fills the summary and reports
// summaryDone=true when the workflow should return as-is.
func (o *Orchestrator) loadExecutionTarget(ctx context.Context, sum *WorkflowSummary, executionID string) (*core.Execution, *core.UnderwritingProcessor, bool) {
	execution, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		sum.Error = fmt.Sprintf("load execution: %v", err)
		return nil, nil, true
	}
	if execution == nil {
		sum.Success = true
		sum.Message = fmt.Sprintf("execution %s not found, nothing to do", executionID)
		return nil, nil, true
	}
	sum.UnderwritingID = execution.UnderwritingID

	up, err := o.processors.GetByID(ctx, execution.UnderwritingProcessorID)
	if err != nil {
		sum.Error = fmt.Sprintf("load underwriting processor: %v", err)
		return nil, nil, true
	}
	if up == nil {
		sum.Error = fmt.Sprintf("underwriting processor %s not found for execution %s", execution.UnderwritingProcessorID, executionID)
		return nil, nil, true
	}
	return execution, up, false
}

func (o *Orchestrator) logStage(ctx context.Context, sum *WorkflowSummary, stage string, start time.Time, input, output map[string]interface{}) {
	if o.audit == nil {
		return
	}
	entry := &core.WorkflowEntry{
		UnderwritingID:  sum.UnderwritingID,
		WorkflowName:    sum.Workflow,
		Stage:           stage,
		Input:           input,
		Output:          output,
		Status:          "completed",
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
	if err := o.audit.LogStage(ctx, entry); err != nil {
		o.logger.Printf("⚠️  workflow log write failed (stage=%s): %v", stage, err)
	}
}

// finish stamps metrics, emits the workflow completion event and writes
// the closing log line. Runs deferred from every workflow entry point.
func (o *Orchestrator) finish(ctx context.Context, sum *WorkflowSummary, start time.Time) {
	elapsed := time.Since(start)
	o.metrics.RecordWorkflow(sum.Workflow, sum.Success, elapsed.Seconds())

	icon := "✅"
	if !sum.Success {
		icon = "❌"
	}
	o.logger.Printf("%s %s done in %s (selected=%d run=%d failed=%d skipped=%d consolidated=%d)",
		icon, sum.Workflow, elapsed.Round(time.Millisecond),
		sum.ProcessorsSelected, sum.ExecutionsRun, sum.ExecutionsFailed,
		sum.ExecutionsSkipped, sum.ProcessorsConsolidated)

	if o.emitter == nil || sum.UnderwritingID == "" {
		return
	}
	o.emitter.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", sum.UnderwritingID, map[string]interface{}{
		"workflow":                sum.Workflow,
		"underwriting_id":         sum.UnderwritingID,
		"success":                 sum.Success,
		"scenario":                sum.Scenario,
		"processors_selected":     sum.ProcessorsSelected,
		"executions_run":          sum.ExecutionsRun,
		"executions_failed":       sum.ExecutionsFailed,
		"processors_consolidated": sum.ProcessorsConsolidated,
		"factors_deleted":         sum.FactorsDeleted,
		"duration_ms":             elapsed.Milliseconds(),
	})

	if upserts := consolidationUpserts(sum.Details); upserts > 0 {
		o.emitter.Emit(events.TypeFactorUpdated, "/engine/orchestrator", sum.UnderwritingID, map[string]interface{}{
			"workflow":        sum.Workflow,
			"underwriting_id": sum.UnderwritingID,
			"factors_changed": upserts,
		})
	}
}

func consolidationUpserts(details *WorkflowDetails) int {
	if details == nil {
		return 0
	}
	total := 0
	for _, r := range details.ConsolidationResults {
		total += r.Upserts.Inserted + r.Upserts.Updated
	}
	return total
}
