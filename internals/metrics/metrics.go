package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Matchmaking
	ConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_connects_total",
		Help: "Total connect transitions by role",
	}, []string{"role"})

	DisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_disconnects_total",
		Help: "Total disconnect transitions by role and reason",
	}, []string{"role", "reason"})

	SeatConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coord_seat_conflicts_total",
		Help: "Total viewer connects refused because the seat was taken",
	})

	SecondConnectEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coord_second_connect_evictions_total",
		Help: "Total prior sessions evicted by a newer connect",
	})

	ActivePairings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coord_active_pairings",
		Help: "Number of currently paired streamer/viewer couples",
	})

	// Seat lock
	LockAcquireSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coord_lock_acquire_seconds",
		Help:    "Seat lock acquisition latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coord_lock_timeouts_total",
		Help: "Total seat lock acquisitions that timed out",
	})

	// Signaling relay
	RelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_relayed_total",
		Help: "Total signaling payloads relayed by kind",
	}, []string{"kind"})

	RelayDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_relay_dropped_total",
		Help: "Total signaling payloads dropped because no peer was reachable",
	}, []string{"kind"})

	// Sweep
	SweepEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_sweep_evictions_total",
		Help: "Total stale participants evicted by the sweep job",
	}, []string{"role"})

	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coord_sweep_duration_seconds",
		Help:    "Duration of a full sweep pass in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Transport
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coord_active_clients",
		Help: "Number of currently connected websocket clients",
	})

	RefusedConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_refused_connections_total",
		Help: "Total websocket connections refused before registration",
	}, []string{"cause"})

	// Redis health
	RedisErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coord_redis_errors_total",
		Help: "Total Redis errors",
	})
)

// Helper functions

func RecordConnect(role string) {
	ConnectsTotal.WithLabelValues(role).Inc()
}

func RecordDisconnect(role, reason string) {
	DisconnectsTotal.WithLabelValues(role, reason).Inc()
}

func RecordRelay(kind string, dropped bool) {
	if dropped {
		RelayDroppedTotal.WithLabelValues(kind).Inc()
		return
	}
	RelayedTotal.WithLabelValues(kind).Inc()
}

func RecordSweepEviction(role string) {
	SweepEvictionsTotal.WithLabelValues(role).Inc()
}

func RecordRefusedConnection(cause string) {
	RefusedConnectionsTotal.WithLabelValues(cause).Inc()
}
