// Package metrics exposes the Prometheus instruments shared by the core
// pipeline. The HTTP surface serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InferenceRequests counts LLM calls by outcome ("ok", "error").
	InferenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starchat",
		Name:      "inference_requests_total",
		Help:      "LLM inference calls by outcome.",
	}, []string{"outcome"})

	// ActionsDispatched counts applied actions by action type.
	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starchat",
		Name:      "actions_dispatched_total",
		Help:      "Model actions applied to chat state, by type.",
	}, []string{"type"})

	// ActionsSkipped counts actions dropped before dispatch (bad actor,
	// failed precondition).
	ActionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "starchat",
		Name:      "actions_skipped_total",
		Help:      "Model actions skipped by the dispatcher.",
	})

	// ExtractionFailures counts replies the tolerant extractor gave up on.
	ExtractionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "starchat",
		Name:      "extraction_failures_total",
		Help:      "Model replies that could not be recovered into JSON.",
	})

	// StoreWrites counts persistence mutations by table.
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starchat",
		Name:      "store_writes_total",
		Help:      "SQLite mutations by table.",
	}, []string{"table"})
)
