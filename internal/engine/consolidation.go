package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/monitoring"
)

// Consolidation folds the factor deltas of each processor's active
// executions into the consolidated factor table. Factors are attributed
// to the most recently completed active execution; keys the merge no
// longer produces stay untouched until the disable workflow removes them.
type Consolidation struct {
	processors ProcessorStore
	executions ExecutionStore
	factors    FactorStore
	registry   *Registry
	audit      WorkflowAudit
	metrics    *monitoring.Metrics
	logger     *log.Logger
}

// NewConsolidation wires a consolidation stage over the given stores.
func NewConsolidation(processors ProcessorStore, executions ExecutionStore, factors FactorStore, registry *Registry, audit WorkflowAudit, metrics *monitoring.Metrics) *Consolidation {
	return &Consolidation{
		processors: processors,
		executions: executions,
		factors:    factors,
		registry:   registry,
		audit:      audit,
		metrics:    metrics,
		logger:     log.New(log.Writer(), "[CONSOLIDATION] ", log.LstdFlags),
	}
}

// UpsertTally counts what the factor upserts of one processor did.
type UpsertTally struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// ProcessorConsolidation reports the outcome for one underwriting processor.
type ProcessorConsolidation struct {
	UnderwritingProcessorID string                 `json:"underwriting_processor_id"`
	UnderwritingID          string                 `json:"underwriting_id,omitempty"`
	Processor               string                 `json:"processor,omitempty"`
	Factors                 map[string]interface{} `json:"factors,omitempty"`
	ExecutionCount          int                    `json:"execution_count"`
	Upserts                 UpsertTally            `json:"upserts"`
	FactorsCleared          int64                  `json:"factors_cleared,omitempty"`
	Success                 bool                   `json:"success"`
	Error                   string                 `json:"error,omitempty"`
}

// ConsolidationSummary aggregates one consolidation pass.
type ConsolidationSummary struct {
	Consolidated int                      `json:"consolidated"`
	Results      []ProcessorConsolidation `json:"results"`
}

// Run consolidates every underwriting processor in processorList. A
// failure on one processor lands in its result entry and does not stop
// the others.
func (c *Consolidation) Run(ctx context.Context, processorList []string, workflowName string) *ConsolidationSummary {
	summary := &ConsolidationSummary{Results: make([]ProcessorConsolidation, 0, len(processorList))}

	for _, upID := range processorList {
		start := time.Now()
		res := c.consolidateOne(ctx, upID)
		if res.Success {
			summary.Consolidated++
		}
		summary.Results = append(summary.Results, res)
		c.logStage(ctx, upID, workflowName, start, res)
	}

	return summary
}

func (c *Consolidation) consolidateOne(ctx context.Context, upID string) ProcessorConsolidation {
	res := ProcessorConsolidation{UnderwritingProcessorID: upID}

	up, err := c.processors.GetByID(ctx, upID)
	if err != nil {
		res.Error = fmt.Sprintf("load underwriting processor: %v", err)
		c.logger.Printf("❌ %s: %s", upID, res.Error)
		return res
	}
	if up == nil {
		res.Error = "underwriting processor not found"
		c.logger.Printf("⚠️  %s: not found, skipping", upID)
		return res
	}
	res.UnderwritingID = up.UnderwritingID
	res.Processor = up.Processor

	proc, err := c.registry.New(up.Processor)
	if err != nil {
		res.Error = err.Error()
		c.logger.Printf("⚠️  %s: %v, skipping", upID, err)
		return res
	}

	// An empty current list means the processor asserts no output at
	// all: drop whatever factors it previously contributed.
	if len(up.CurrentExecutionsList) == 0 {
		cleared, err := c.factors.DeleteByProcessor(ctx, up.UnderwritingID, upID)
		if err != nil {
			res.Error = fmt.Sprintf("clear stale factors: %v", err)
			c.logger.Printf("❌ %s (%s): %s", up.Processor, upID, res.Error)
			return res
		}
		if cleared > 0 {
			c.logger.Printf("🧹 %s (%s): cleared %d stale factors", up.Processor, upID, cleared)
		}
		res.FactorsCleared = cleared
		res.Success = true
		return res
	}

	active, err := c.executions.ListActive(ctx, upID, up.CurrentExecutionsList)
	if err != nil {
		res.Error = fmt.Sprintf("load active executions: %v", err)
		c.logger.Printf("❌ %s: %s", upID, res.Error)
		return res
	}
	res.ExecutionCount = len(active)

	factorsList := make([]map[string]interface{}, 0, len(active))
	for _, e := range active {
		factorsList = append(factorsList, deltaFactors(e.FactorsDelta))
	}

	var consolidated map[string]interface{}
	if merger, ok := proc.(Consolidator); ok {
		consolidated = merger.Consolidate(factorsList)
	} else {
		consolidated = ConsolidateDefault(factorsList)
	}
	res.Factors = consolidated

	if len(consolidated) == 0 {
		c.logger.Printf("✅ %s (%s): nothing to consolidate (%d active executions)", up.Processor, upID, len(active))
		res.Success = true
		return res
	}
	if len(active) == 0 {
		res.Error = "consolidated factors without an active execution to attribute them to"
		c.logger.Printf("⚠️  %s (%s): %s", up.Processor, upID, res.Error)
		return res
	}

	latest := active[0]
	keys := make([]string, 0, len(consolidated))
	for k := range consolidated {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := consolidated[key]
		if value == nil {
			continue
		}
		hash, err := HashFactor(key, value)
		if err != nil {
			res.Error = fmt.Sprintf("hash factor %s: %v", key, err)
			c.logger.Printf("❌ %s (%s): %s", up.Processor, upID, res.Error)
			return res
		}
		outcome, err := c.factors.Upsert(ctx, &core.Factor{
			OrganizationID:          up.OrganizationID,
			UnderwritingID:          up.UnderwritingID,
			UnderwritingProcessorID: upID,
			ExecutionID:             latest.ID,
			Key:                     key,
			Value:                   value,
			Source:                  "processor",
			Status:                  core.FactorActive,
			FactorHash:              hash,
		})
		if err != nil {
			res.Error = fmt.Sprintf("upsert factor %s: %v", key, err)
			c.logger.Printf("❌ %s (%s): %s", up.Processor, upID, res.Error)
			return res
		}
		switch outcome {
		case FactorInserted:
			res.Upserts.Inserted++
		case FactorUpdated:
			res.Upserts.Updated++
		default:
			res.Upserts.Unchanged++
		}
		c.metrics.RecordFactorUpsert(string(outcome))
	}

	c.logger.Printf("💾 %s (%s): %d factors from %d executions (+%d ~%d =%d)",
		up.Processor, upID, len(consolidated), len(active),
		res.Upserts.Inserted, res.Upserts.Updated, res.Upserts.Unchanged)
	res.Success = true
	return res
}

// deltaFactors digs the factors submap out of a factors_delta envelope.
func deltaFactors(delta map[string]interface{}) map[string]interface{} {
	if delta == nil {
		return map[string]interface{}{}
	}
	if factors, ok := delta["factors"].(map[string]interface{}); ok {
		return factors
	}
	return map[string]interface{}{}
}

func (c *Consolidation) logStage(ctx context.Context, upID, workflowName string, start time.Time, res ProcessorConsolidation) {
	if c.audit == nil {
		return
	}
	entry := &core.WorkflowEntry{
		UnderwritingID: res.UnderwritingID,
		WorkflowName:   workflowName,
		Stage:          "consolidation",
		Input: map[string]interface{}{
			"underwriting_processor_id": upID,
			"processor":                 res.Processor,
		},
		Output: map[string]interface{}{
			"factor_count":    len(res.Factors),
			"execution_count": res.ExecutionCount,
			"inserted":        res.Upserts.Inserted,
			"updated":         res.Upserts.Updated,
			"unchanged":       res.Upserts.Unchanged,
			"cleared":         res.FactorsCleared,
		},
		Status:          "completed",
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
	if !res.Success {
		entry.Status = "failed"
		entry.ErrorMessage = res.Error
	}
	if err := c.audit.LogStage(ctx, entry); err != nil {
		c.logger.Printf("⚠️  workflow log write failed (stage=consolidation): %v", err)
	}
}
