package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the processing engine.
type Metrics struct {
	// Workflow metrics
	WorkflowTotal    *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec

	// Execution metrics
	ExecutionTotal    *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	WorkerPoolBusy    prometheus.Gauge

	// Consolidation metrics
	FactorsUpserted *prometheus.CounterVec

	// Broker metrics
	BrokerMessages *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		WorkflowTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_workflows_total",
				Help: "Total workflows dispatched by the orchestrator",
			},
			[]string{"workflow", "status"}, // status: success, failure
		),

		WorkflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "underwriting_workflow_duration_seconds",
				Help:    "End-to-end duration of orchestrator workflows",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow"},
		),

		ExecutionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_executions_total",
				Help: "Processor executions by terminal status",
			},
			[]string{"processor", "status"}, // status: completed, failed, skipped
		),

		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "underwriting_execution_duration_seconds",
				Help:    "Duration of individual processor executions",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"processor"},
		),

		WorkerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "underwriting_worker_pool_busy",
				Help: "Executions currently running in the bounded pool",
			},
		),

		FactorsUpserted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_factors_upserted_total",
				Help: "Factor upserts by outcome",
			},
			[]string{"result"}, // result: inserted, updated, unchanged, deleted
		),

		BrokerMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_broker_messages_total",
				Help: "Broker messages by topic and handling outcome",
			},
			[]string{"topic", "outcome"}, // outcome: ack, nack, invalid
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "underwriting_queue_depth",
				Help: "Workflows waiting in per-underwriting dispatch queues",
			},
		),
	}
}

// RecordWorkflow records one workflow outcome with its duration.
func (m *Metrics) RecordWorkflow(workflow string, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.WorkflowTotal.WithLabelValues(workflow, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflow).Observe(seconds)
}

// RecordExecution records one execution outcome with its duration.
func (m *Metrics) RecordExecution(processor, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionTotal.WithLabelValues(processor, status).Inc()
	if status != "skipped" {
		m.ExecutionDuration.WithLabelValues(processor).Observe(seconds)
	}
}

// RecordFactorUpsert records a consolidation upsert outcome.
func (m *Metrics) RecordFactorUpsert(result string) {
	if m == nil {
		return
	}
	m.FactorsUpserted.WithLabelValues(result).Inc()
}

// RecordBrokerMessage records a subscriber handling outcome.
func (m *Metrics) RecordBrokerMessage(topic, outcome string) {
	if m == nil {
		return
	}
	m.BrokerMessages.WithLabelValues(topic, outcome).Inc()
}

// SetPoolBusy tracks the number of in-flight executions.
func (m *Metrics) SetPoolBusy(delta float64) {
	if m == nil {
		return
	}
	m.WorkerPoolBusy.Add(delta)
}

// SetQueueDepth tracks queued workflow dispatches.
func (m *Metrics) SetQueueDepth(delta float64) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(delta)
}
