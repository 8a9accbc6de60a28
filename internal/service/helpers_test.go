package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voyagen/releasecal/internal/models"
	"github.com/voyagen/releasecal/internal/store"
	"github.com/voyagen/releasecal/internal/tmdb"
)

func strPtr(s string) *string { return &s }

// fakeProvider serves canned shows and counts requests.
type fakeProvider struct {
	mu      sync.Mutex
	shows   map[int]tmdb.Show
	seasons map[int]map[int]tmdb.Season
	err     error         // returned by every call when set
	gate    chan struct{} // FetchShow blocks on it when set
	entered chan struct{} // signalled when FetchShow starts, when set

	showCalls   atomic.Int32
	seasonCalls atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		shows:   make(map[int]tmdb.Show),
		seasons: make(map[int]map[int]tmdb.Season),
	}
}

func (f *fakeProvider) put(show tmdb.Show, seasons ...tmdb.Season) {
	f.mu.Lock()
	defer f.mu.Unlock()
	show.Seasons = nil
	f.seasons[show.ID] = make(map[int]tmdb.Season)
	for _, s := range seasons {
		show.Seasons = append(show.Seasons, tmdb.SeasonSummary{ID: s.ID, SeasonNumber: s.SeasonNumber, EpisodeCount: len(s.Episodes)})
		f.seasons[show.ID][s.SeasonNumber] = s
	}
	show.NumberOfSeasons = len(seasons)
	f.shows[show.ID] = show
}

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeProvider) FetchShow(ctx context.Context, showID int) (tmdb.Validated[tmdb.Show], error) {
	f.showCalls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return tmdb.Validated[tmdb.Show]{}, &tmdb.UpstreamError{Endpoint: tmdb.EndpointShow, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tmdb.Validated[tmdb.Show]{}, f.err
	}
	show, ok := f.shows[showID]
	if !ok {
		return tmdb.Validated[tmdb.Show]{}, fmt.Errorf("tmdb show /tv/%d: %w", showID, tmdb.ErrNotFound)
	}
	return tmdb.Validated[tmdb.Show]{Value: show}, nil
}

func (f *fakeProvider) FetchSeason(_ context.Context, showID, seasonNumber int) (tmdb.Validated[tmdb.Season], error) {
	f.seasonCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tmdb.Validated[tmdb.Season]{}, f.err
	}
	season, ok := f.seasons[showID][seasonNumber]
	if !ok {
		return tmdb.Validated[tmdb.Season]{}, fmt.Errorf("tmdb season: %w", tmdb.ErrNotFound)
	}
	return tmdb.Validated[tmdb.Season]{Value: season}, nil
}

func (f *fakeProvider) calls() int {
	return int(f.showCalls.Load() + f.seasonCalls.Load())
}

// countingStore counts writes that reach the wrapped store.
type countingStore struct {
	store.Store
	creates  atomic.Int32
	replaces atomic.Int32
}

func (c *countingStore) CreateChannelWithEvents(ctx context.Context, ch *models.Channel, events []models.Event) error {
	c.creates.Add(1)
	return c.Store.CreateChannelWithEvents(ctx, ch, events)
}

func (c *countingStore) ReplaceChannelEvents(ctx context.Context, ch *models.Channel, events []models.Event) error {
	c.replaces.Add(1)
	return c.Store.ReplaceChannelEvents(ctx, ch, events)
}

func (c *countingStore) writes() int {
	return int(c.creates.Load() + c.replaces.Load())
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialIDs yields id-1, id-2, ...
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func episode(season, number int, name, airDate string) tmdb.Episode {
	ep := tmdb.Episode{ID: season*1000 + number, Name: name, SeasonNumber: season, EpisodeNumber: number}
	if airDate != "" {
		ep.AirDate = strPtr(airDate)
	}
	return ep
}

// sampleShow is show 42 with two seasons and four dated episodes.
func sampleShow() (tmdb.Show, []tmdb.Season) {
	show := tmdb.Show{
		ID:           42,
		Name:         "The Expanse",
		Overview:     "Space.",
		FirstAirDate: strPtr("2025-01-05"),
		Status:       "Returning Series",
	}
	s1 := tmdb.Season{ID: 1, SeasonNumber: 1, Episodes: []tmdb.Episode{
		episode(1, 1, "Dulcinea", "2025-01-05"),
		episode(1, 2, "The Big Empty", "2025-01-12"),
		episode(1, 3, "Unscheduled", ""),
	}}
	s2 := tmdb.Season{ID: 2, SeasonNumber: 2, Episodes: []tmdb.Episode{
		episode(2, 1, "Safe", "2025-02-02"),
		episode(2, 2, "", "2025-02-09"),
	}}
	return show, []tmdb.Season{s1, s2}
}
