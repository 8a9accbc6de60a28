package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voyagen/releasecal/internal/models"
)

// Memory is an in-process Store. Every write validates its whole input before
// changing anything, so a failed write leaves no partial state, like a rolled back
// transaction. Values are deep copied in and out.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]models.Channel
	bySource map[sourceKey]string
	events   map[string][]models.Event // by channel id
	groups   map[string]models.SubscriptionGroup
	members  map[string]map[string]time.Time // group id -> channel id -> added at
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

type sourceKey struct {
	sourceType models.SourceType
	sourceID   string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		channels: make(map[string]models.Channel),
		bySource: make(map[sourceKey]string),
		events:   make(map[string][]models.Event),
		groups:   make(map[string]models.SubscriptionGroup),
		members:  make(map[string]map[string]time.Time),
		now:      time.Now,
	}
}

func (m *Memory) GetChannelByID(_ context.Context, channelID string) (*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("GetChannelByID: %w", ErrNotFound)
	}
	return cloneChannel(ch), nil
}

func (m *Memory) GetChannelBySource(_ context.Context, sourceType models.SourceType, sourceID string) (*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySource[sourceKey{sourceType, sourceID}]
	if !ok {
		return nil, fmt.Errorf("GetChannelBySource: %w", ErrNotFound)
	}
	return cloneChannel(m.channels[id]), nil
}

func (m *Memory) CreateChannelWithEvents(_ context.Context, ch *models.Channel, events []models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[ch.ID]; ok {
		return fmt.Errorf("CreateChannelWithEvents: %w: channel id %s", ErrConflict, ch.ID)
	}
	key := sourceKey{ch.SourceType, ch.SourceID}
	if _, ok := m.bySource[key]; ok {
		return fmt.Errorf("CreateChannelWithEvents: %w: source %s/%s", ErrConflict, ch.SourceType, ch.SourceID)
	}
	rows, err := m.prepareEvents(ch.ID, events)
	if err != nil {
		return fmt.Errorf("CreateChannelWithEvents: %w", err)
	}

	now := m.now().UTC()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	m.channels[ch.ID] = *cloneChannel(*ch)
	m.bySource[key] = ch.ID
	m.events[ch.ID] = rows
	return nil
}

func (m *Memory) ReplaceChannelEvents(_ context.Context, ch *models.Channel, events []models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.channels[ch.ID]
	if !ok {
		return fmt.Errorf("ReplaceChannelEvents: %w", ErrNotFound)
	}
	rows, err := m.prepareEvents(ch.ID, events)
	if err != nil {
		return fmt.Errorf("ReplaceChannelEvents: %w", err)
	}

	// Identity columns are not updatable.
	ch.SourceType = existing.SourceType
	ch.SourceID = existing.SourceID
	ch.CreatedAt = existing.CreatedAt
	ch.UpdatedAt = m.now().UTC()
	m.channels[ch.ID] = *cloneChannel(*ch)
	m.events[ch.ID] = rows
	return nil
}

// prepareEvents validates and copies events for channelID. Callers hold mu.
func (m *Memory) prepareEvents(channelID string, events []models.Event) ([]models.Event, error) {
	now := m.now().UTC()
	seen := make(map[string]bool, len(events))
	rows := make([]models.Event, len(events))
	for i, e := range events {
		if e.ChannelID != channelID {
			return nil, fmt.Errorf("event %s belongs to channel %s, not %s", e.ID, e.ChannelID, channelID)
		}
		if _, err := time.Parse(models.DayLayout, e.Day); err != nil {
			return nil, fmt.Errorf("event %s: invalid day %q", e.ID, e.Day)
		}
		if seen[e.ID] || m.eventIDTaken(e.ID, channelID) {
			return nil, fmt.Errorf("%w: event id %s", ErrConflict, e.ID)
		}
		seen[e.ID] = true
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		rows[i] = cloneEvent(e)
	}
	return rows, nil
}

// eventIDTaken reports whether another channel already owns an event with id.
func (m *Memory) eventIDTaken(id, exceptChannel string) bool {
	for chID, evs := range m.events {
		if chID == exceptChannel {
			continue
		}
		for _, e := range evs {
			if e.ID == id {
				return true
			}
		}
	}
	return false
}

func (m *Memory) ListChannelEvents(_ context.Context, channelID string, days DayRange) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Event
	for _, e := range m.events[channelID] {
		if days.Contains(e.Day) {
			out = append(out, cloneEvent(e))
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *Memory) ListGroupsByOwner(_ context.Context, ownerID string) ([]models.SubscriptionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SubscriptionGroup
	for _, g := range m.groups {
		if g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateGroup(_ context.Context, g *models.SubscriptionGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return nil
	}
	for _, existing := range m.groups {
		if existing.OwnerID == g.OwnerID {
			return nil
		}
	}
	now := m.now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	m.groups[g.ID] = *g
	return nil
}

func (m *Memory) ListGroupChannels(_ context.Context, groupID string) ([]models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Channel, 0, len(m.members[groupID]))
	for chID := range m.members[groupID] {
		out = append(out, *cloneChannel(m.channels[chID]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) AddGroupChannel(_ context.Context, groupID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return fmt.Errorf("AddGroupChannel: %w: group %s", ErrNotFound, groupID)
	}
	if _, ok := m.channels[channelID]; !ok {
		return fmt.Errorf("AddGroupChannel: %w: channel %s", ErrNotFound, channelID)
	}
	if m.members[groupID] == nil {
		m.members[groupID] = make(map[string]time.Time)
	}
	if _, ok := m.members[groupID][channelID]; !ok {
		m.members[groupID][channelID] = m.now().UTC()
	}
	return nil
}

func (m *Memory) RemoveGroupChannel(_ context.Context, groupID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[groupID][channelID]; !ok {
		return fmt.Errorf("RemoveGroupChannel: %w", ErrNotFound)
	}
	delete(m.members[groupID], channelID)
	return nil
}

func (m *Memory) RemoveAllGroupChannels(_ context.Context, groupID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.members[groupID]))
	delete(m.members, groupID)
	return n, nil
}

func (m *Memory) ListGroupEvents(_ context.Context, groupID string, days DayRange) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Event
	for chID := range m.members[groupID] {
		for _, e := range m.events[chID] {
			if days.Contains(e.Day) {
				out = append(out, cloneEvent(e))
			}
		}
	}
	sortEvents(out)
	return out, nil
}

// sortEvents orders events like the SQL queries: by day, channel, season, episode.
func sortEvents(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.ChannelID != b.ChannelID {
			return a.ChannelID < b.ChannelID
		}
		if c := compareOptional(a.SeasonNumber, b.SeasonNumber); c != 0 {
			return c < 0
		}
		return compareOptional(a.EpisodeNumber, b.EpisodeNumber) < 0
	})
}

// compareOptional orders nil after every number.
func compareOptional(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func cloneChannel(ch models.Channel) *models.Channel {
	ch.LastIndexedAt = clonePtr(ch.LastIndexedAt)
	ch.Data.TMDB = clonePtr(ch.Data.TMDB)
	ch.Data.Custom = clonePtr(ch.Data.Custom)
	return &ch
}

func cloneEvent(e models.Event) models.Event {
	e.Timestamp = clonePtr(e.Timestamp)
	e.SeasonNumber = clonePtr(e.SeasonNumber)
	e.EpisodeNumber = clonePtr(e.EpisodeNumber)
	return e
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
