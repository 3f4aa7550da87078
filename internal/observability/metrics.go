package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Rides created in pending status"})
	RidesAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_accepted_total", Help: "Rides accepted by a driver"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race or hit a non-pending ride"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_completed_total", Help: "Rides reaching completed"})
	RidesCancelled  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_cancelled_total", Help: "Rides reaching cancelled"})

	MatchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Candidate search latency"})
	MatchFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "match_fallbacks_total", Help: "Matches that fell back to broadcast-to-all"})

	PositionUpserts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "position_upserts_total", Help: "Applied driver position updates"})
	PositionStale   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "position_stale_total", Help: "Position updates discarded as out of order"})
	DriversTracked  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_tracked", Help: "Drivers currently in the position index"})

	BroadcastDeliveries  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "broadcast_deliveries_total", Help: "Events delivered to a connection"})
	BroadcastDrops       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "broadcast_drops_total", Help: "Event deliveries dropped on slow or dead connections"})
	SubscribersConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "subscribers_connected", Help: "Live realtime connections"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
