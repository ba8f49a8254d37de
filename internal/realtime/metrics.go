package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lostfound_realtime_events_total",
			Help: "Inbound realtime events by type.",
		},
		[]string{"type"},
	)

	duplicatesSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lostfound_realtime_duplicates_suppressed_total",
			Help: "Inbound messages dropped because their key was already confirmed.",
		},
	)

	staleEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lostfound_realtime_stale_events_total",
			Help: "Inbound events dropped because they belong to another or a closed channel.",
		},
	)

	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lostfound_realtime_sends_total",
			Help: "Outgoing messages by outcome.",
		},
		[]string{"outcome"},
	)

	channelsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lostfound_realtime_channels_open",
			Help: "Realtime channels currently connected.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, duplicatesSuppressed, staleEventsDropped, sendsTotal, channelsOpen)
}
