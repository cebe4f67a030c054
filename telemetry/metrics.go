package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts command attempts by resulting task status.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventkit_commands_total",
		Help: "Total command attempts by resulting task status",
	}, []string{"status"})

	// CommandDispatchSeconds observes dispatcher latency.
	CommandDispatchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventkit_command_dispatch_seconds",
		Help:    "Time spent in the command dispatcher",
		Buckets: prometheus.DefBuckets,
	})

	// StreamAppendsTotal counts append calls by result (ok, conflict, duplicate, error).
	StreamAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventkit_stream_appends_total",
		Help: "Total stream append calls by result",
	}, []string{"result"})

	// ProjectionEventsTotal counts projected events by outcome (done, skipped, retry).
	ProjectionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventkit_projection_events_total",
		Help: "Total projection event applications by outcome",
	}, []string{"projection", "outcome"})

	// RemindersTotal counts reminder actions (register, unregister, fire).
	RemindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventkit_reminders_total",
		Help: "Total reminder actions",
	}, []string{"action"})
)
