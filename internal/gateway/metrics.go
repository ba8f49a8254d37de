// Package gateway is the client's single exit to the REST API.
//
// This file registers Prometheus collectors for outbound calls, token
// renewals and replays.
package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	// requestsTotal counts completed attempts by method, route template and status.
	// Transport failures are recorded with status "error".
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lostfound_gateway_requests_total",
			Help: "Outbound API attempts by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lostfound_gateway_request_duration_seconds",
			Help:    "Duration of outbound API attempts in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// renewalsTotal counts renewal calls that actually reached the network.
	renewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lostfound_token_renewals_total",
			Help: "Access-token renewal calls by outcome.",
		},
		[]string{"outcome"},
	)

	// replaysTotal counts calls replayed after a 401, by how the new token was obtained.
	replaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lostfound_gateway_replays_total",
			Help: "Calls replayed once after an authorization failure.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, renewalsTotal, replaysTotal)
}
