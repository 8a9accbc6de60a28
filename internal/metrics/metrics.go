package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync outcomes recorded by Metrics.SyncTotal.
const (
	OutcomeCreated   = "created"
	OutcomeRefreshed = "refreshed"
	OutcomeFresh     = "fresh"
	OutcomeFailed    = "failed"
)

// Metrics holds the Prometheus collectors for channel synchronization and the
// metadata provider client.
type Metrics struct {
	SyncTotal            *prometheus.CounterVec
	SyncDuration         prometheus.Histogram
	SyncShared           prometheus.Counter
	EventsWritten        prometheus.Counter
	UpstreamRequests     *prometheus.CounterVec
	UpstreamDuration     *prometheus.HistogramVec
	ValidationMismatches *prometheus.CounterVec
	RefreshJobs          *prometheus.CounterVec
}

// New registers all collectors with reg. Pass prometheus.NewRegistry() in tests so
// repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "releasecal_channel_sync_total",
			Help: "Channel synchronizations by outcome",
		}, []string{"outcome"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "releasecal_channel_sync_duration_seconds",
			Help:    "Duration of channel synchronizations that reached the provider",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		SyncShared: f.NewCounter(prometheus.CounterOpts{
			Name: "releasecal_channel_sync_shared_total",
			Help: "Callers that received the result of an in-flight synchronization",
		}),
		EventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "releasecal_events_written_total",
			Help: "Events inserted by channel synchronization",
		}),
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "releasecal_tmdb_requests_total",
			Help: "Requests to the metadata provider by endpoint and status",
		}, []string{"endpoint", "status"}),
		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "releasecal_tmdb_request_duration_seconds",
			Help:    "Metadata provider request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		ValidationMismatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "releasecal_tmdb_validation_mismatches_total",
			Help: "Provider responses that did not match the expected shape",
		}, []string{"endpoint"}),
		RefreshJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "releasecal_refresh_jobs_total",
			Help: "On-demand refresh jobs by result",
		}, []string{"result"}),
	}
}
