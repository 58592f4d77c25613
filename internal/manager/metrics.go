package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	residentModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "npud",
			Subsystem: "manager",
			Name:      "resident_models",
			Help:      "Models currently loaded on the accelerator",
		},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "npud",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Model loads by whether the compile cache was hit",
		},
		[]string{"compile_cache_hit"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "npud",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Models freed by reason",
		},
		[]string{"reason"},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "npud",
			Subsystem: "manager",
			Name:      "inference_duration_seconds",
			Help:      "Executor wall time per request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "outcome"},
	)

	predictAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "npud",
			Subsystem: "manager",
			Name:      "predict_attempts_total",
			Help:      "Bridge predict attempts by result code",
		},
		[]string{"code"},
	)

	admissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "npud",
			Subsystem: "manager",
			Name:      "admission_rejections_total",
			Help:      "Requests denied an admission slot",
		},
		[]string{"kind"},
	)

	poolActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "npud",
			Subsystem: "manager",
			Name:      "pool_active",
			Help:      "Requests holding an admission slot",
		},
	)
)

func init() {
	prometheus.MustRegister(residentModels, loadsTotal, evictionsTotal, inferenceDuration,
		predictAttemptsTotal, admissionRejectionsTotal, poolActive)
}
