package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "rides_created_total", Help: "Total ride offers created"})
	RequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "requests_submitted_total", Help: "Total join requests submitted"})
	RequestsAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "requests_accepted_total", Help: "Total join requests accepted"})
	SeatConflicts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "seat_conflicts_total", Help: "Optimistic-concurrency conflicts on seat updates"})
	Searches          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "searches_total", Help: "Total ride searches served"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
