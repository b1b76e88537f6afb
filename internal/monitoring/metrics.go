package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	SnapshotsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_snapshots_upserted_total",
			Help: "Total number of daily snapshot rows written by source",
		},
		[]string{"source"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of provider API calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestion_run_duration_seconds",
			Help:    "Duration of a full daily ingestion run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

func InitMetrics() {
	for _, c := range []prometheus.Collector{WebhookEvents, SnapshotsUpserted, ProviderCalls, IngestionDuration} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msg("Failed to register metric")
		}
	}
}
