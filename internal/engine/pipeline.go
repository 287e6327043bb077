package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/events"
)

// Pipeline runs processors through the three-phase contract:
// pre-extraction (prevalidate, transform, validate input), extraction,
// post-extraction (validate output). Phases run strictly in order and
// the first failure terminates the run; partial success does not exist.
type Pipeline struct {
	emitter events.EventEmitter
	logger  *log.Logger
}

// NewPipeline wires the pipeline to an event emitter for the
// started/completed/failed lifecycle events.
func NewPipeline(emitter events.EventEmitter) *Pipeline {
	return &Pipeline{
		emitter: emitter,
		logger:  log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// Execute runs one processor over one payload. It never returns an
// error: every failure mode, including panics inside processor code, is
// captured on the Result envelope so the execution row records it.
func (p *Pipeline) Execute(proc Processor, run *Run, payload map[string]interface{}) (res *Result) {
	res = &Result{
		ExecutionID:             run.ExecutionID,
		Processor:               proc.Name(),
		UnderwritingProcessorID: run.UnderwritingProcessorID,
		Status:                  core.ExecutionRunning,
		StartedAt:               time.Now().UTC(),
	}

	p.emitLifecycle(proc.Name(), "started", run, nil)

	defer func() {
		if rec := recover(); rec != nil {
			res.Status = core.ExecutionFailed
			res.ErrorPhase = PhaseUnknown
			res.FailedCode = "panic"
			res.FailedReason = fmt.Sprintf("panic: %v", rec)
		}
		res.CompletedAt = time.Now().UTC()
		res.RunCostCents = run.CostCents()
		res.CostBreakdown = run.CostBreakdown()
		res.DocumentRevisionIDs = run.DocumentRevisionIDs()
		res.DocumentIDsHash = run.DocumentIDsHash()

		durationMS := res.CompletedAt.Sub(res.StartedAt).Milliseconds()
		if res.Completed() {
			p.emitLifecycle(proc.Name(), "completed", run, map[string]interface{}{
				"duration_ms":    durationMS,
				"run_cost_cents": res.RunCostCents,
			})
		} else {
			p.emitLifecycle(proc.Name(), "failed", run, map[string]interface{}{
				"duration_ms":   durationMS,
				"error_phase":   res.ErrorPhase,
				"failed_code":   res.FailedCode,
				"failed_reason": res.FailedReason,
			})
			p.logger.Printf("❌ %s execution %s failed at %s: %s",
				proc.Name(), run.ExecutionID, res.ErrorPhase, res.FailedReason)
		}
	}()

	// Phase: pre-extraction
	if pv, ok := proc.(Prevalidator); ok {
		if err := pv.Prevalidate(run, payload); err != nil {
			applyFailure(res, err)
			return res
		}
	}

	transformed, err := proc.TransformInput(run, payload)
	if err != nil {
		applyFailure(res, err)
		return res
	}

	verdict, err := proc.ValidateInput(run, transformed)
	if err != nil {
		applyFailure(res, err)
		return res
	}
	if !verdict.Valid {
		applyFailure(res, NewInputValidationError(verdict.Issues))
		return res
	}

	// Phase: extraction
	output, err := proc.Extract(run, transformed)
	if err != nil {
		applyFailure(res, err)
		return res
	}

	// Phase: post-extraction
	verdict, err = proc.ValidateOutput(run, output)
	if err != nil {
		applyFailure(res, err)
		return res
	}
	if !verdict.Valid {
		applyFailure(res, NewResultValidationError(verdict.Issues))
		return res
	}

	res.Status = core.ExecutionCompleted
	res.Output = output
	return res
}

// applyFailure stamps the failure onto the result. Typed errors report
// the phase their kind belongs to; anything outside the taxonomy
// reports "unknown".
func applyFailure(res *Result, err error) {
	res.Status = core.ExecutionFailed
	res.FailedReason = err.Error()

	var perr *ProcessorError
	if errors.As(err, &perr) {
		res.ErrorPhase = perr.Kind.Phase()
		res.FailedCode = string(perr.Kind)
		return
	}
	res.ErrorPhase = PhaseUnknown
	res.FailedCode = "unhandled_error"
}

func (p *Pipeline) emitLifecycle(processor, what string, run *Run, extra map[string]interface{}) {
	if p.emitter == nil {
		return
	}
	data := map[string]interface{}{
		"execution_id":              run.ExecutionID,
		"underwriting_id":           run.UnderwritingID,
		"underwriting_processor_id": run.UnderwritingProcessorID,
		"processor":                 processor,
	}
	for k, v := range extra {
		data[k] = v
	}
	p.emitter.Emit(
		fmt.Sprintf("%s.execution.%s", processor, what),
		"/engine/pipeline",
		run.ExecutionID,
		data,
	)
}
