package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/monitoring"
)

// Executor runs eligible executions through the pipeline in a bounded
// worker pool. Runs are independent; ordering within a batch is not
// guaranteed.
type Executor struct {
	executions ExecutionStore
	processors ProcessorStore
	registry   *Registry
	pipeline   *Pipeline
	defaults   *config.Defaults
	audit      WorkflowAudit
	metrics    *monitoring.Metrics
	poolSize   int
	logger     *log.Logger
}

// NewExecutor wires the execution stage. poolSize bounds concurrent
// pipeline runs; values below 1 fall back to the default of 5.
func NewExecutor(es ExecutionStore, ps ProcessorStore, reg *Registry, pipeline *Pipeline, defaults *config.Defaults, audit WorkflowAudit, metrics *monitoring.Metrics, poolSize int) *Executor {
	if poolSize < 1 {
		poolSize = 5
	}
	return &Executor{
		executions: es,
		processors: ps,
		registry:   reg,
		pipeline:   pipeline,
		defaults:   defaults,
		audit:      audit,
		metrics:    metrics,
		poolSize:   poolSize,
		logger:     log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// RunSummary reports how one execution id was handled.
type RunSummary struct {
	ExecutionID string `json:"execution_id"`
	Processor   string `json:"processor,omitempty"`
	Status      string `json:"status"` // completed, failed, skipped
	Reason      string `json:"reason,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// ExecutionOutcome aggregates a batch.
type ExecutionOutcome struct {
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Summaries []RunSummary `json:"summaries"`
}

// RunBatch executes the given ids with bounded parallelism and returns
// per-run summaries. Individual failures never abort the batch.
func (ex *Executor) RunBatch(ctx context.Context, executionIDs []string, workflowName string) *ExecutionOutcome {
	outcome := &ExecutionOutcome{Summaries: []RunSummary{}}
	if len(executionIDs) == 0 {
		return outcome
	}

	jobs := make(chan string)
	results := make(chan RunSummary, len(executionIDs))

	var wg sync.WaitGroup
	for i := 0; i < ex.poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				ex.metrics.SetPoolBusy(1)
				results <- ex.runOne(ctx, id, workflowName)
				ex.metrics.SetPoolBusy(-1)
			}
		}()
	}

	for _, id := range executionIDs {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	close(results)

	for summary := range results {
		outcome.Summaries = append(outcome.Summaries, summary)
		switch summary.Status {
		case "completed":
			outcome.Completed++
		case "failed":
			outcome.Failed++
		default:
			outcome.Skipped++
		}
	}
	return outcome
}

// runOne drives a single execution: load, gate, transition to running,
// run the pipeline, persist the terminal state.
func (ex *Executor) runOne(ctx context.Context, id, workflowName string) RunSummary {
	start := time.Now()

	row, err := ex.executions.GetByID(ctx, id)
	if err != nil {
		return ex.finish(ctx, RunSummary{ExecutionID: id, Status: "failed", Reason: err.Error()}, "", workflowName, start)
	}
	if row == nil {
		return ex.finish(ctx, RunSummary{ExecutionID: id, Status: "skipped", Reason: "execution not found"}, "", workflowName, start)
	}

	// Only fresh or previously failed rows are launched.
	if row.Status != core.ExecutionPending && row.Status != core.ExecutionFailed {
		ex.logger.Printf("skipping execution %s: status=%s", id, row.Status)
		return ex.finish(ctx, RunSummary{
			ExecutionID: id,
			Processor:   row.Processor,
			Status:      "skipped",
			Reason:      "status is " + string(row.Status),
		}, row.UnderwritingID, workflowName, start)
	}

	proc, err := ex.registry.New(row.Processor)
	if err != nil {
		ex.persistFailure(ctx, row, NewConfigurationError("%v", err), start)
		return ex.finish(ctx, RunSummary{ExecutionID: id, Processor: row.Processor, Status: "failed", Reason: err.Error()},
			row.UnderwritingID, workflowName, start)
	}

	if gate, ok := proc.(ExecutionGate); ok {
		if allowed, reason := gate.ShouldExecute(row.Payload); !allowed {
			ex.logger.Printf("skipping execution %s: %s", id, reason)
			return ex.finish(ctx, RunSummary{ExecutionID: id, Processor: row.Processor, Status: "skipped", Reason: reason},
				row.UnderwritingID, workflowName, start)
		}
	}

	resolved, err := ex.resolveConfig(ctx, proc, row)
	if err != nil {
		ex.persistFailure(ctx, row, NewConfigurationError("%v", err), start)
		return ex.finish(ctx, RunSummary{ExecutionID: id, Processor: row.Processor, Status: "failed", Reason: err.Error()},
			row.UnderwritingID, workflowName, start)
	}

	if err := ex.executions.MarkRunning(ctx, id); err != nil {
		return ex.finish(ctx, RunSummary{ExecutionID: id, Processor: row.Processor, Status: "failed", Reason: err.Error()},
			row.UnderwritingID, workflowName, start)
	}

	run := NewRun(ctx, id, row.UnderwritingID, row.UnderwritingProcessorID, row.Processor, resolved)
	res := ex.pipeline.Execute(proc, run, row.Payload)

	summary := RunSummary{ExecutionID: id, Processor: row.Processor}
	if res.Completed() {
		if err := ex.executions.MarkCompleted(ctx, id, res); err != nil {
			summary.Status = "failed"
			summary.Reason = NewPersistenceError(err).Error()
		} else {
			summary.Status = "completed"
		}
	} else {
		summary.Status = "failed"
		summary.Reason = res.FailedReason
		if err := ex.executions.MarkFailed(ctx, id, res); err != nil {
			ex.logger.Printf("⚠️  persisting failure for %s: %v", id, err)
		}
	}

	return ex.finish(ctx, summary, row.UnderwritingID, workflowName, start)
}

// resolveConfig builds the run's config view, right-wins:
// defaultConfig <- file defaults <- organization config <- override.
func (ex *Executor) resolveConfig(ctx context.Context, proc Processor, row *core.Execution) (map[string]interface{}, error) {
	up, err := ex.processors.GetByID(ctx, row.UnderwritingProcessorID)
	if err != nil {
		return nil, err
	}
	if up == nil {
		return nil, NewConfigurationError("underwriting processor %s not found", row.UnderwritingProcessorID)
	}

	var orgConfig map[string]interface{}
	if up.OrganizationProcessorID != "" {
		orgProc, err := ex.processors.GetOrganizationProcessor(ctx, up.OrganizationProcessorID)
		if err != nil {
			return nil, err
		}
		if orgProc != nil {
			orgConfig = orgProc.Config
		}
	}

	var fileDefaults map[string]interface{}
	if ex.defaults != nil {
		fileDefaults = ex.defaults.ForProcessor(proc.Name())
	}

	return ResolveConfig(proc.DefaultConfig(), fileDefaults, orgConfig, up.ConfigOverride), nil
}

// persistFailure records a failure that happened before the pipeline
// could run (unknown processor, broken config).
func (ex *Executor) persistFailure(ctx context.Context, row *core.Execution, perr *ProcessorError, start time.Time) {
	res := &Result{
		ExecutionID:             row.ID,
		Processor:               row.Processor,
		UnderwritingProcessorID: row.UnderwritingProcessorID,
		Status:                  core.ExecutionFailed,
		StartedAt:               start.UTC(),
		CompletedAt:             time.Now().UTC(),
	}
	applyFailure(res, perr)
	if err := ex.executions.MarkFailed(ctx, row.ID, res); err != nil {
		ex.logger.Printf("⚠️  persisting failure for %s: %v", row.ID, err)
	}
}

func (ex *Executor) finish(ctx context.Context, summary RunSummary, underwritingID, workflowName string, start time.Time) RunSummary {
	summary.DurationMS = time.Since(start).Milliseconds()
	ex.metrics.RecordExecution(summary.Processor, summary.Status, time.Since(start).Seconds())

	if ex.audit != nil && underwritingID != "" {
		entry := &core.WorkflowEntry{
			UnderwritingID: underwritingID,
			WorkflowName:   workflowName,
			Stage:          "execution",
			Payload:        map[string]interface{}{"execution_id": summary.ExecutionID},
			Output: map[string]interface{}{
				"status":      summary.Status,
				"reason":      summary.Reason,
				"duration_ms": summary.DurationMS,
			},
			Status:          "completed",
			ExecutionTimeMS: summary.DurationMS,
			Metadata:        map[string]interface{}{"processor_name": summary.Processor},
		}
		if summary.Status == "failed" {
			entry.Status = "failed"
			entry.ErrorMessage = summary.Reason
		}
		if err := ex.audit.LogStage(ctx, entry); err != nil {
			ex.logger.Printf("⚠️  workflow log write failed (stage=execution): %v", err)
		}
	}
	return summary
}
