package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain metrics exposed on /metrics.
var (
	// MessagesOutbound counts every send-gate decision by outcome
	// (sent, drafted, skipped, failed, rejected).
	MessagesOutbound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covertext_messages_outbound_total",
			Help: "Outbound message gate decisions by outcome",
		},
		[]string{"outcome", "category"},
	)

	// MessagesInbound counts inbound webhook messages by how the
	// classification pipeline routed them.
	MessagesInbound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covertext_messages_inbound_total",
			Help: "Inbound messages by classification result",
		},
		[]string{"result"},
	)

	// OptOuts counts consent revocations by source (keyword, carrier_block).
	OptOuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covertext_opt_outs_total",
			Help: "Conversation opt-outs by source",
		},
		[]string{"source"},
	)

	// OverageReports counts billing overage units reported, by outcome.
	OverageReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covertext_overage_reports_total",
			Help: "Billing overage usage reports by outcome",
		},
		[]string{"outcome"},
	)

	// AutomationRuns counts cron dispatcher executions by job kind and
	// outcome (completed, already_claimed, failed).
	AutomationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covertext_automation_runs_total",
			Help: "Automation dispatcher runs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// LLMLatency tracks reply-generation latency by model and status.
	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "covertext_llm_request_duration_seconds",
			Help:    "LLM reply generation latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"model", "status"},
	)
)
