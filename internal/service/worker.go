package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/voyagen/releasecal/internal/cache"
	"github.com/voyagen/releasecal/internal/metrics"
	"github.com/voyagen/releasecal/internal/models"
	"github.com/voyagen/releasecal/internal/store"
)

// Refresh job results recorded by Metrics.RefreshJobs.
const (
	jobDone    = "done"
	jobFailed  = "failed"
	jobInvalid = "invalid"
)

// JobSource yields refresh jobs. Dequeue returns (nil, nil) when nothing arrived
// before timeout.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*cache.RefreshJob, error)
}

// RefreshWorker forces a resync of each channel named by a refresh job.
type RefreshWorker struct {
	jobs        JobSource
	store       store.Store
	channels    ChannelEnsurer
	log         zerolog.Logger
	metrics     *metrics.Metrics
	pollTimeout time.Duration
	errBackoff  time.Duration
}

// NewRefreshWorker returns a worker consuming jobs. m may be nil.
func NewRefreshWorker(jobs JobSource, s store.Store, channels ChannelEnsurer, log zerolog.Logger, m *metrics.Metrics) *RefreshWorker {
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &RefreshWorker{
		jobs:        jobs,
		store:       s,
		channels:    channels,
		log:         log.With().Str("component", "refresh_worker").Logger(),
		metrics:     m,
		pollTimeout: 5 * time.Second,
		errBackoff:  2 * time.Second,
	}
}

// Run processes jobs until ctx is cancelled.
func (w *RefreshWorker) Run(ctx context.Context) {
	w.log.Info().Msg("refresh worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("refresh worker stopping")
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			w.log.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(w.errBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.Process(ctx, *job)
	}
}

// Process handles one job. Failures are logged and counted; the job is dropped.
func (w *RefreshWorker) Process(ctx context.Context, job cache.RefreshJob) {
	log := w.log.With().Str("channel_id", job.ChannelID).Int("tmdb_id", job.ExternalID).Logger()

	externalID, err := w.resolve(ctx, job)
	if err != nil {
		w.metrics.RefreshJobs.WithLabelValues(jobInvalid).Inc()
		log.Warn().Err(err).Msg("dropping refresh job")
		return
	}
	id, err := w.channels.EnsureChannel(ctx, externalID, 0)
	if err != nil {
		w.metrics.RefreshJobs.WithLabelValues(jobFailed).Inc()
		log.Error().Err(err).Msg("refresh job failed")
		return
	}
	w.metrics.RefreshJobs.WithLabelValues(jobDone).Inc()
	log.Info().Str("channel_id", id).Str("requested_by", job.RequestedBy).Msg("channel refreshed on request")
}

// resolve finds the provider id for a job that only names a channel.
func (w *RefreshWorker) resolve(ctx context.Context, job cache.RefreshJob) (int, error) {
	if job.ExternalID > 0 {
		return job.ExternalID, nil
	}
	ch, err := w.store.GetChannelByID(ctx, job.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("resolve channel: %w", err)
	}
	return ExternalIDOf(ch)
}

// ExternalIDOf returns the provider show id of a provider-backed channel.
func ExternalIDOf(ch *models.Channel) (int, error) {
	if ch.SourceType != models.SourceTypeTMDB {
		return 0, fmt.Errorf("channel %s has source type %q and cannot be refreshed", ch.ID, ch.SourceType)
	}
	id, err := strconv.Atoi(ch.SourceID)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("channel %s has invalid source id %q", ch.ID, ch.SourceID)
	}
	return id, nil
}
