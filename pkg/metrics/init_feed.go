package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFeedMetrics() {
	r.FeedRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_feed_requests_total",
			Help: "Total number of feed requests served",
		},
		[]string{"op"}, // handshake, tail, oldest, reverse
	)

	r.FeedAuthFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_feed_auth_failures_total",
			Help: "Total number of feed requests rejected for bad tokens",
		},
	)
}
