package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/voyagen/releasecal/internal/cache"
	"github.com/voyagen/releasecal/internal/metrics"
	"github.com/voyagen/releasecal/internal/models"
	"github.com/voyagen/releasecal/internal/store"
	"github.com/voyagen/releasecal/internal/tmdb"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleAfter is how long an indexed channel is served without refreshing.
const DefaultStaleAfter = 24 * time.Hour

// DefaultSyncTimeout bounds one synchronization, provider calls and write included.
const DefaultSyncTimeout = 60 * time.Second

const lockRetryInterval = 250 * time.Millisecond

var (
	// ErrSyncInProgress is returned when another process holds the channel's sync lock
	// for longer than the caller is willing to wait. Retryable.
	ErrSyncInProgress = errors.New("channel synchronization already in progress")
	// ErrInvariantViolation marks stored data breaking a uniqueness rule the schema
	// cannot express. It is logged, never returned to users.
	ErrInvariantViolation = errors.New("invariant violation")
)

// MetadataProvider is the part of the TMDB client the synchronizer needs.
type MetadataProvider interface {
	FetchShow(ctx context.Context, showID int) (tmdb.Validated[tmdb.Show], error)
	FetchSeason(ctx context.Context, showID, seasonNumber int) (tmdb.Validated[tmdb.Season], error)
}

// Locker guards a channel's synchronization across processes. TryLock returns
// cache.ErrLocked when someone else holds the lock.
type Locker interface {
	TryLock(ctx context.Context, externalID int) (release func(), err error)
}

// SyncOptions configures a Synchronizer. Zero values pick defaults.
type SyncOptions struct {
	Timeout time.Duration
	Locker  Locker // optional
	Metrics *metrics.Metrics
	Now     func() time.Time
	NewID   func() string
}

// Synchronizer creates and refreshes provider-backed channels and their events.
type Synchronizer struct {
	store   store.Store
	meta    MetadataProvider
	locker  Locker
	group   singleflight.Group
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// NewSynchronizer returns a Synchronizer reading and writing s and fetching from meta.
func NewSynchronizer(s store.Store, meta MetadataProvider, log zerolog.Logger, opts SyncOptions) *Synchronizer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSyncTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Synchronizer{
		store:   s,
		meta:    meta,
		locker:  opts.Locker,
		log:     log.With().Str("component", "synchronizer").Logger(),
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		now:     opts.Now,
		newID:   opts.NewID,
	}
}

// EnsureChannel returns the id of the channel for the provider show externalID,
// creating it on first use and refreshing it when it was last indexed staleAfter ago
// or more. A non-positive staleAfter forces a refresh. Concurrent calls for the same
// show share one synchronization.
func (s *Synchronizer) EnsureChannel(ctx context.Context, externalID int, staleAfter time.Duration) (string, error) {
	if externalID <= 0 {
		return "", fmt.Errorf("EnsureChannel: invalid external id %d", externalID)
	}

	ch, err := s.lookup(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("EnsureChannel: %w", err)
	}
	if ch != nil && ch.IsFresh(s.now(), staleAfter) {
		s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeFresh).Inc()
		return ch.ID, nil
	}

	// The flight outlives any single caller; it keeps ctx values but not its
	// cancellation and runs under its own deadline.
	flightCtx := context.WithoutCancel(ctx)
	resCh := s.group.DoChan(flightKey(externalID, staleAfter), func() (any, error) {
		return s.sync(flightCtx, externalID, staleAfter)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("EnsureChannel: %w", ctx.Err())
	case res := <-resCh:
		if res.Shared {
			s.metrics.SyncShared.Inc()
		}
		if res.Err != nil {
			return "", fmt.Errorf("EnsureChannel: %w", res.Err)
		}
		return res.Val.(string), nil
	}
}

// flightKey keeps forced refreshes out of flights that may settle for a fresh row.
func flightKey(externalID int, staleAfter time.Duration) string {
	key := strconv.Itoa(externalID)
	if staleAfter <= 0 {
		key += ":force"
	}
	return key
}

// sync runs the create or refresh path under the sync timeout and the channel lock.
func (s *Synchronizer) sync(parent context.Context, externalID int, staleAfter time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	log := s.log.With().Int("tmdb_id", externalID).Logger()

	release, err := s.acquire(ctx, externalID, log)
	if err != nil {
		s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return "", err
	}
	defer release()

	// Another process may have finished a sync while we waited.
	ch, err := s.lookup(ctx, externalID)
	if err != nil {
		s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return "", err
	}
	if ch != nil && ch.IsFresh(s.now(), staleAfter) {
		s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeFresh).Inc()
		return ch.ID, nil
	}

	start := time.Now()
	show, seasons, err := s.fetch(ctx, externalID)
	if err != nil {
		s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Warn().Err(err).Msg("channel sync aborted, stored data unchanged")
		if ctx.Err() != nil && !errors.Is(err, tmdb.ErrUpstreamUnavailable) {
			err = &tmdb.UpstreamError{Endpoint: tmdb.EndpointShow, Err: err}
		}
		return "", err
	}

	var id string
	if ch == nil {
		id, err = s.create(ctx, externalID, show, seasons, log)
	} else {
		id, err = s.refresh(ctx, ch, show, seasons, log)
	}
	s.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return "", err
	}
	return id, nil
}

// acquire takes the cross-process lock when one is configured, polling until ctx
// expires. A broken lock backend is logged and the sync proceeds unlocked; the unique
// source index still prevents duplicate channels.
func (s *Synchronizer) acquire(ctx context.Context, externalID int, log zerolog.Logger) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		release, err := s.locker.TryLock(ctx, externalID)
		switch {
		case err == nil:
			return release, nil
		case !errors.Is(err, cache.ErrLocked):
			log.Warn().Err(err).Msg("sync lock unavailable, continuing without it")
			return func() {}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrSyncInProgress
		case <-ticker.C:
		}
	}
}

// lookup returns the stored channel for externalID, or nil when there is none.
func (s *Synchronizer) lookup(ctx context.Context, externalID int) (*models.Channel, error) {
	ch, err := s.store.GetChannelBySource(ctx, models.SourceTypeTMDB, strconv.Itoa(externalID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// fetch loads the show and then each of its seasons, one request at a time.
func (s *Synchronizer) fetch(ctx context.Context, externalID int) (tmdb.Show, []tmdb.Season, error) {
	shown, err := s.meta.FetchShow(ctx, externalID)
	if err != nil {
		return tmdb.Show{}, nil, fmt.Errorf("fetch show: %w", err)
	}
	show := shown.Value
	show.ID = externalID

	seasons := make([]tmdb.Season, 0, len(show.Seasons))
	for _, summary := range show.Seasons {
		season, err := s.meta.FetchSeason(ctx, externalID, summary.SeasonNumber)
		if err != nil {
			return tmdb.Show{}, nil, fmt.Errorf("fetch season %d: %w", summary.SeasonNumber, err)
		}
		if season.Value.SeasonNumber == 0 {
			season.Value.SeasonNumber = summary.SeasonNumber
		}
		seasons = append(seasons, season.Value)
	}
	return show, seasons, nil
}

func (s *Synchronizer) create(ctx context.Context, externalID int, show tmdb.Show, seasons []tmdb.Season, log zerolog.Logger) (string, error) {
	indexedAt := s.now().UTC()
	ch := &models.Channel{
		ID:            s.newID(),
		SourceType:    models.SourceTypeTMDB,
		SourceID:      strconv.Itoa(externalID),
		LastIndexedAt: &indexedAt,
	}
	applyShow(ch, show)
	events := BuildEvents(ch.ID, show, seasons, log, s.newID)

	err := s.store.CreateChannelWithEvents(ctx, ch, events)
	if errors.Is(err, store.ErrConflict) {
		// A writer outside our lock created it first.
		existing, lerr := s.lookup(ctx, externalID)
		if lerr != nil {
			return "", fmt.Errorf("create channel: %w (re-read: %v)", err, lerr)
		}
		if existing == nil {
			return "", fmt.Errorf("create channel: %w", err)
		}
		log.Info().Str("channel_id", existing.ID).Msg("channel created concurrently, using existing row")
		s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeFresh).Inc()
		return existing.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}

	s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeCreated).Inc()
	s.metrics.EventsWritten.Add(float64(len(events)))
	log.Info().Str("channel_id", ch.ID).Int("events", len(events)).Msg("channel created")
	return ch.ID, nil
}

func (s *Synchronizer) refresh(ctx context.Context, existing *models.Channel, show tmdb.Show, seasons []tmdb.Season, log zerolog.Logger) (string, error) {
	indexedAt := s.now().UTC()
	ch := *existing
	ch.LastIndexedAt = &indexedAt
	applyShow(&ch, show)
	events := BuildEvents(ch.ID, show, seasons, log, s.newID)

	if err := s.store.ReplaceChannelEvents(ctx, &ch, events); err != nil {
		return "", fmt.Errorf("refresh channel %s: %w", ch.ID, err)
	}

	s.metrics.SyncTotal.WithLabelValues(metrics.OutcomeRefreshed).Inc()
	s.metrics.EventsWritten.Add(float64(len(events)))
	log.Info().Str("channel_id", ch.ID).Int("events", len(events)).Msg("channel refreshed")
	return ch.ID, nil
}
