package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type recorderMetrics struct {
	events          *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	rowsWritten     prometheus.Counter
	roundsFinalized prometheus.Counter
	cancellations   prometheus.Counter
}

func (r *Recorder) initMetrics(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	r.metrics = &recorderMetrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_events_total",
			Help: "Number of engine events processed, by type",
		}, []string{"type"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_events_dropped_total",
			Help: "Number of events dropped due to a full recorder queue",
		}),
		rowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_event_rows_written_total",
			Help: "Number of event log rows written to the database",
		}),
		roundsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_rounds_finalized_total",
			Help: "Number of rounds finalized",
		}),
		cancellations: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_cancellations_triggered_total",
			Help: "Number of cancellation triggers signaled",
		}),
	}
}
