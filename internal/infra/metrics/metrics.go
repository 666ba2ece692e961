package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pda",
		Name:      "scans_total",
		Help:      "Scan events applied to an order, by order kind and result.",
	}, []string{"kind", "result"})

	Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pda",
		Name:      "confirmations_total",
		Help:      "Confirmation attempts, by order kind and outcome.",
	}, []string{"kind", "outcome"})

	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pda",
		Name:      "backend_request_duration_seconds",
		Help:      "Latency of backend calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "status"})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pda",
		Name:      "open_sessions",
		Help:      "Order sessions currently open on this terminal.",
	})
)
