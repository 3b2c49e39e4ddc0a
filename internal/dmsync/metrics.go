package dmsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts sync outcomes. Registered against an injectable Registerer
// so tests can use a private registry.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	DecryptFailures prometheus.Counter
	SyncDuration    *prometheus.HistogramVec
	LiveEvents      prometheus.Counter
	PublishFailures prometheus.Counter
}

// Event outcome labels.
const (
	OutcomeAdded     = "added"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeTamper    = "tamper"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
)

// NewMetrics registers the sync metric set. reg may be nil, in which case the
// default registry is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur",
			Subsystem: "sync",
			Name:      "events_processed_total",
			Help:      "Inbound protocol events by processing outcome.",
		}, []string{"outcome"}),
		DecryptFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur",
			Subsystem: "sync",
			Name:      "decrypt_failures_total",
			Help:      "Events that could not be decrypted by the local identity.",
		}),
		SyncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "murmur",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of sync phases.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"phase"}),
		LiveEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur",
			Subsystem: "sync",
			Name:      "live_events_total",
			Help:      "Events delivered over the live subscription.",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur",
			Subsystem: "sync",
			Name:      "publish_failures_total",
			Help:      "Outbound events no relay acknowledged.",
		}),
	}
}
