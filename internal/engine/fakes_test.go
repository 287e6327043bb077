package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aura/underwriting/internal/core"
)

// In-memory store fakes. They mirror the contracts in stores.go closely
// enough for the filtration/execution/consolidation/orchestrator tests:
// lookups return (nil, nil) on a miss, Supersede is a compare-and-set,
// ListActive filters on enabled+completed and orders newest first.

type memUnderwritings struct {
	mu   sync.Mutex
	rows map[string]*core.Underwriting
	err  error
}

func newMemUnderwritings(rows ...*core.Underwriting) *memUnderwritings {
	s := &memUnderwritings{rows: map[string]*core.Underwriting{}}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *memUnderwritings) GetSnapshot(_ context.Context, id string) (*core.Underwriting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	uw, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *uw
	return &cp, nil
}

type memProcessors struct {
	mu        sync.Mutex
	rows      map[string]*core.UnderwritingProcessor
	orgs      map[string]*core.OrganizationProcessor
	updateErr error
	updates   int
}

func newMemProcessors(rows ...*core.UnderwritingProcessor) *memProcessors {
	s := &memProcessors{
		rows: map[string]*core.UnderwritingProcessor{},
		orgs: map[string]*core.OrganizationProcessor{},
	}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *memProcessors) GetByID(_ context.Context, id string) (*core.UnderwritingProcessor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *up
	cp.CurrentExecutionsList = append([]string(nil), up.CurrentExecutionsList...)
	return &cp, nil
}

func (s *memProcessors) ListAutoEnabled(_ context.Context, underwritingID string) ([]core.UnderwritingProcessor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.UnderwritingProcessor
	for _, up := range s.rows {
		if up.UnderwritingID == underwritingID && up.Auto && up.Enabled {
			cp := *up
			cp.CurrentExecutionsList = append([]string(nil), up.CurrentExecutionsList...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memProcessors) UpdateCurrentExecutions(_ context.Context, id string, executionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	up, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("underwriting processor %s not found", id)
	}
	up.CurrentExecutionsList = append([]string(nil), executionIDs...)
	s.updates++
	return nil
}

func (s *memProcessors) GetOrganizationProcessor(_ context.Context, id string) (*core.OrganizationProcessor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.orgs[id]
	if !ok {
		return nil, nil
	}
	cp := *op
	return &cp, nil
}

func (s *memProcessors) currentList(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rows[id].CurrentExecutionsList...)
}

type memExecutions struct {
	mu        sync.Mutex
	rows      map[string]*core.Execution
	seq       int
	insertErr error
}

func newMemExecutions(rows ...*core.Execution) *memExecutions {
	s := &memExecutions{rows: map[string]*core.Execution{}}
	for _, r := range rows {
		s.seq++
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.tick()
		}
		s.rows[r.ID] = r
	}
	return s
}

// tick hands out strictly increasing timestamps so created_at/completed_at
// ordering is deterministic.
func (s *memExecutions) tick() time.Time {
	s.seq++
	return time.Unix(1700000000, 0).UTC().Add(time.Duration(s.seq) * time.Second)
}

func (s *memExecutions) GetByID(_ context.Context, id string) (*core.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *memExecutions) FindByHash(_ context.Context, upID, hash string) (*core.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *core.Execution
	for _, e := range s.rows {
		if e.UnderwritingProcessorID != upID || e.PayloadHash != hash || e.UpdatedExecutionID != "" {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *memExecutions) Insert(_ context.Context, e *core.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("exec-%04d", s.seq+1)
	}
	e.CreatedAt = s.tick()
	cp := *e
	s.rows[e.ID] = &cp
	return nil
}

func (s *memExecutions) Supersede(_ context.Context, oldID, newID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rows[oldID]
	if !ok || old.UpdatedExecutionID != "" {
		return false, nil
	}
	old.UpdatedExecutionID = newID
	return true, nil
}

func (s *memExecutions) MarkRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.Status = core.ExecutionRunning
	t := s.tick()
	e.StartedAt = &t
	return nil
}

func (s *memExecutions) MarkCompleted(_ context.Context, id string, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.Status = core.ExecutionCompleted
	e.FactorsDelta = res.Output
	e.RunCostCents = res.RunCostCents
	e.FailedCode = ""
	e.FailedReason = ""
	t := s.tick()
	e.CompletedAt = &t
	return nil
}

func (s *memExecutions) MarkFailed(_ context.Context, id string, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.Status = core.ExecutionFailed
	e.FailedCode = res.FailedCode
	e.FailedReason = res.FailedReason
	t := s.tick()
	e.CompletedAt = &t
	return nil
}

func (s *memExecutions) SetStatus(_ context.Context, id string, status core.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.Status = status
	return nil
}

func (s *memExecutions) SetEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.Enabled = enabled
	return nil
}

func (s *memExecutions) ListActive(_ context.Context, upID string, ids []string) ([]core.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var out []core.Execution
	for _, e := range s.rows {
		if e.UnderwritingProcessorID != upID || !wanted[e.ID] || !e.Enabled || e.Status != core.ExecutionCompleted {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if out[i].CompletedAt != nil {
			ti = *out[i].CompletedAt
		}
		if out[j].CompletedAt != nil {
			tj = *out[j].CompletedAt
		}
		return ti.After(tj)
	})
	return out, nil
}

func (s *memExecutions) get(id string) *core.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (s *memExecutions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memFactors struct {
	mu        sync.Mutex
	rows      []*core.Factor
	seq       int
	upsertErr error
}

func (s *memFactors) Upsert(_ context.Context, f *core.Factor) (FactorUpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return "", s.upsertErr
	}
	for _, row := range s.rows {
		if row.UnderwritingID == f.UnderwritingID && row.Key == f.Key &&
			row.ExecutionID == f.ExecutionID && row.Status == core.FactorActive {
			if row.FactorHash == f.FactorHash {
				return FactorUnchanged, nil
			}
			row.Value = f.Value
			row.FactorHash = f.FactorHash
			return FactorUpdated, nil
		}
	}
	s.seq++
	cp := *f
	cp.ID = fmt.Sprintf("factor-%04d", s.seq)
	s.rows = append(s.rows, &cp)
	return FactorInserted, nil
}

func (s *memFactors) DeleteByExecution(_ context.Context, executionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.ExecutionID == executionID && row.Status == core.FactorActive {
			row.Status = core.FactorDeleted
			n++
		}
	}
	return n, nil
}

func (s *memFactors) DeleteByProcessor(_ context.Context, underwritingID, upID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.UnderwritingID == underwritingID && row.UnderwritingProcessorID == upID && row.Status == core.FactorActive {
			row.Status = core.FactorDeleted
			n++
		}
	}
	return n, nil
}

func (s *memFactors) ListActive(_ context.Context, underwritingID string) ([]core.Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Factor
	for _, row := range s.rows {
		if row.UnderwritingID == underwritingID && row.Status == core.FactorActive {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *memFactors) activeByKey(underwritingID string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]interface{}{}
	for _, row := range s.rows {
		if row.UnderwritingID == underwritingID && row.Status == core.FactorActive {
			out[row.Key] = row.Value
		}
	}
	return out
}

type memAudit struct {
	mu      sync.Mutex
	entries []*core.WorkflowEntry
	err     error
}

func (s *memAudit) LogStage(_ context.Context, entry *core.WorkflowEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memAudit) stages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Stage)
	}
	return out
}

// fakeProcessor is a scriptable Processor for pipeline and stage tests.
// The zero value passes every phase and extracts a fixed factor map.
type fakeProcessor struct {
	name     string
	kind     core.ProcessorKind
	triggers core.Triggers
	config   map[string]interface{}

	prevalidateErr error
	transformErr   error
	inputVerdict   *Validation
	inputErr       error
	extractOut     map[string]interface{}
	extractErr     error
	extractFn      func(run *Run, validated map[string]interface{}) (map[string]interface{}, error)
	outputVerdict  *Validation
	outputErr      error
	panicIn        string // phase name that should panic

	gateAllow  bool
	gateReason string
	hasGate    bool

	mu    sync.Mutex
	runs  int
	calls []string
}

func (p *fakeProcessor) Name() string {
	if p.name == "" {
		return "fake_processor"
	}
	return p.name
}

func (p *fakeProcessor) Kind() core.ProcessorKind {
	if p.kind == "" {
		return core.KindApplication
	}
	return p.kind
}

func (p *fakeProcessor) Triggers() core.Triggers { return p.triggers }

func (p *fakeProcessor) DefaultConfig() map[string]interface{} {
	if p.config == nil {
		return map[string]interface{}{}
	}
	return p.config
}

func (p *fakeProcessor) record(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, phase)
}

func (p *fakeProcessor) Prevalidate(_ *Run, _ map[string]interface{}) error {
	p.record("prevalidate")
	if p.panicIn == "prevalidate" {
		panic("prevalidate blew up")
	}
	return p.prevalidateErr
}

func (p *fakeProcessor) TransformInput(_ *Run, payload map[string]interface{}) (map[string]interface{}, error) {
	p.record("transform")
	if p.panicIn == "transform" {
		panic("transform blew up")
	}
	if p.transformErr != nil {
		return nil, p.transformErr
	}
	return payload, nil
}

func (p *fakeProcessor) ValidateInput(_ *Run, transformed map[string]interface{}) (*Validation, error) {
	p.record("validate_input")
	if p.inputErr != nil {
		return nil, p.inputErr
	}
	if p.inputVerdict != nil {
		return p.inputVerdict, nil
	}
	return ValidationOK(), nil
}

func (p *fakeProcessor) Extract(run *Run, validated map[string]interface{}) (map[string]interface{}, error) {
	p.record("extract")
	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
	if p.panicIn == "extract" {
		panic("extract blew up")
	}
	if p.extractFn != nil {
		return p.extractFn(run, validated)
	}
	if p.extractErr != nil {
		return nil, p.extractErr
	}
	if p.extractOut != nil {
		return p.extractOut, nil
	}
	return map[string]interface{}{
		"factors": map[string]interface{}{"f_fake": true},
	}, nil
}

func (p *fakeProcessor) ValidateOutput(_ *Run, output map[string]interface{}) (*Validation, error) {
	p.record("validate_output")
	if p.outputErr != nil {
		return nil, p.outputErr
	}
	if p.outputVerdict != nil {
		return p.outputVerdict, nil
	}
	return ValidationOK(), nil
}

func (p *fakeProcessor) ShouldExecute(_ map[string]interface{}) (bool, string) {
	if !p.hasGate {
		return true, ""
	}
	return p.gateAllow, p.gateReason
}

func (p *fakeProcessor) runCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}
