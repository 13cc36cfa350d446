package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evrelay_events_total",
			Help: "Event lifecycle counter by stage and destination",
		},
		[]string{"stage", "destination"}, // sent|failed|retried , ga4|sgtm
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evrelay_dispatches_total",
			Help: "Outbound dispatch attempts by outcome kind",
		},
		[]string{"kind", "destination"}, // ok|config|transport|endpoint , ga4|sgtm
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsTotal,
		DispatchesTotal,
	)
}
