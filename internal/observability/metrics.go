package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus collectors.
type Metrics struct {
	// RunCounter counts completed runs by terminal status.
	RunCounter *prometheus.CounterVec

	// RunDuration measures wall time per run.
	RunDuration *prometheus.HistogramVec

	// StreamRetries counts stream retry attempts by error kind.
	StreamRetries *prometheus.CounterVec

	// TokensUsed counts tokens by model and direction.
	TokensUsed *prometheus.CounterVec

	// ToolExecutions counts tool dispatches by tool and status.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time.
	ToolDuration *prometheus.HistogramVec

	// BackgroundProcesses gauges live background processes.
	BackgroundProcesses prometheus.Gauge
}

// NewMetrics creates and registers all collectors with the default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_runs_total",
				Help: "Total agent runs by terminal status",
			},
			[]string{"status"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spindle_run_duration_seconds",
				Help:    "Wall time of agent runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model"},
		),
		StreamRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_stream_retries_total",
				Help: "Stream retry attempts by classified error kind",
			},
			[]string{"kind"},
		),
		TokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_tokens_total",
				Help: "Tokens consumed by model and direction",
			},
			[]string{"model", "direction"},
		),
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_tool_executions_total",
				Help: "Tool dispatches by tool id and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spindle_tool_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		BackgroundProcesses: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spindle_background_processes",
				Help: "Currently tracked background processes",
			},
		),
	}
}
