package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkeep_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Chat storage
	ChatsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkeep_chats_saved_total",
			Help: "Total successful chat saves",
		},
	)

	ChatsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkeep_chats_deleted_total",
			Help: "Chats removed by explicit delete",
		},
	)

	ChatsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkeep_chats_evicted_total",
			Help: "Chats removed by the retention policy",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_store_errors_total",
			Help: "Chat store failures by kind",
		},
		[]string{"kind"}, // "connectivity", "constraint", "other"
	)

	// Completions
	Completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_completions_total",
			Help: "LLM completion calls",
		},
		[]string{"provider", "mode", "status"},
	)

	CompletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkeep_completion_latency_seconds",
			Help:    "LLM completion latency",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)
)
