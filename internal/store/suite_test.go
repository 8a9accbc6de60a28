package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/releasecal/internal/models"
)

func newTestChannel(tmdbID int, name string) *models.Channel {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Channel{
		ID:            uuid.NewString(),
		Name:          name,
		Type:          models.ChannelTypeTVShow,
		SourceType:    models.SourceTypeTMDB,
		SourceID:      fmt.Sprint(tmdbID),
		LastIndexedAt: &now,
		Data:          models.NewTMDBData(models.TMDBData{TMDBID: tmdbID, NumberOfSeasons: 1}),
	}
}

func newTestEvents(channelID string, days ...string) []models.Event {
	events := make([]models.Event, len(days))
	for i, day := range days {
		season, episode := 1, i+1
		events[i] = models.Event{
			ID:            uuid.NewString(),
			ChannelID:     channelID,
			EventTitle:    fmt.Sprintf("Episode %d", episode),
			Day:           day,
			SeasonNumber:  &season,
			EpisodeNumber: &episode,
		}
	}
	return events
}

func eventIDs(events []models.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}

// runStoreSuite exercises behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		s := newStore(t)
		ch := newTestChannel(1001, "Severance")
		events := newTestEvents(ch.ID, "2025-01-17", "2025-01-24")
		require.NoError(t, s.CreateChannelWithEvents(ctx, ch, events))

		got, err := s.GetChannelBySource(ctx, models.SourceTypeTMDB, "1001")
		require.NoError(t, err)
		assert.Equal(t, ch.ID, got.ID)
		assert.Equal(t, "Severance", got.Name)
		require.NotNil(t, got.Data.TMDB)
		assert.Equal(t, 1001, got.Data.TMDB.TMDBID)

		byID, err := s.GetChannelByID(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, got.SourceID, byID.SourceID)

		listed, err := s.ListChannelEvents(ctx, ch.ID, DayRange{})
		require.NoError(t, err)
		assert.Equal(t, eventIDs(events), eventIDs(listed))
	})

	t.Run("missing channel", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetChannelByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetChannelBySource(ctx, models.SourceTypeTMDB, "404")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate source conflicts", func(t *testing.T) {
		s := newStore(t)
		first := newTestChannel(1002, "First")
		require.NoError(t, s.CreateChannelWithEvents(ctx, first, nil))

		second := newTestChannel(1002, "Second")
		err := s.CreateChannelWithEvents(ctx, second, newTestEvents(second.ID, "2025-02-01"))
		assert.ErrorIs(t, err, ErrConflict)

		_, err = s.GetChannelByID(ctx, second.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("failed create writes nothing", func(t *testing.T) {
		s := newStore(t)
		ch := newTestChannel(1003, "Broken")
		events := newTestEvents(ch.ID, "2025-03-01", "not-a-day")
		require.Error(t, s.CreateChannelWithEvents(ctx, ch, events))

		_, err := s.GetChannelBySource(ctx, models.SourceTypeTMDB, "1003")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("replace swaps the whole event set", func(t *testing.T) {
		s := newStore(t)
		ch := newTestChannel(1004, "Andor")
		require.NoError(t, s.CreateChannelWithEvents(ctx, ch, newTestEvents(ch.ID, "2025-04-22", "2025-04-29")))

		other := newTestChannel(1005, "Other")
		otherEvents := newTestEvents(other.ID, "2025-04-23")
		require.NoError(t, s.CreateChannelWithEvents(ctx, other, otherEvents))

		ch.Name = "Andor (renamed)"
		replacement := newTestEvents(ch.ID, "2025-05-06", "2025-05-13", "2025-05-20")
		require.NoError(t, s.ReplaceChannelEvents(ctx, ch, replacement))

		listed, err := s.ListChannelEvents(ctx, ch.ID, DayRange{})
		require.NoError(t, err)
		assert.Equal(t, eventIDs(replacement), eventIDs(listed))

		got, err := s.GetChannelByID(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, "Andor (renamed)", got.Name)

		untouched, err := s.ListChannelEvents(ctx, other.ID, DayRange{})
		require.NoError(t, err)
		assert.Equal(t, eventIDs(otherEvents), eventIDs(untouched))
	})

	t.Run("failed replace keeps previous events", func(t *testing.T) {
		s := newStore(t)
		ch := newTestChannel(1006, "Kept")
		original := newTestEvents(ch.ID, "2025-06-01")
		require.NoError(t, s.CreateChannelWithEvents(ctx, ch, original))

		require.Error(t, s.ReplaceChannelEvents(ctx, ch, newTestEvents(ch.ID, "2025-06-08", "bad")))

		listed, err := s.ListChannelEvents(ctx, ch.ID, DayRange{})
		require.NoError(t, err)
		assert.Equal(t, eventIDs(original), eventIDs(listed))
	})

	t.Run("replace unknown channel", func(t *testing.T) {
		s := newStore(t)
		ch := newTestChannel(1007, "Ghost")
		assert.ErrorIs(t, s.ReplaceChannelEvents(ctx, ch, nil), ErrNotFound)
	})

	t.Run("day range filter", func(t *testing.T) {
		s := newStore(t)
		ch := newTestChannel(1008, "Ranged")
		events := newTestEvents(ch.ID, "2025-01-01", "2025-01-15", "2025-02-01")
		require.NoError(t, s.CreateChannelWithEvents(ctx, ch, events))

		listed, err := s.ListChannelEvents(ctx, ch.ID, DayRange{Start: "2025-01-10", End: "2025-01-31"})
		require.NoError(t, err)
		assert.Equal(t, []string{events[1].ID}, eventIDs(listed))
	})

	t.Run("groups and subscriptions", func(t *testing.T) {
		s := newStore(t)
		owner := uuid.NewString()
		g := &models.SubscriptionGroup{ID: owner, OwnerID: owner}
		require.NoError(t, s.CreateGroup(ctx, g))
		require.NoError(t, s.CreateGroup(ctx, &models.SubscriptionGroup{ID: owner, OwnerID: owner}))

		groups, err := s.ListGroupsByOwner(ctx, owner)
		require.NoError(t, err)
		require.Len(t, groups, 1)

		a := newTestChannel(2001, "Alpha")
		aEvents := newTestEvents(a.ID, "2025-07-01")
		b := newTestChannel(2002, "Beta")
		bEvents := newTestEvents(b.ID, "2025-07-02")
		require.NoError(t, s.CreateChannelWithEvents(ctx, a, aEvents))
		require.NoError(t, s.CreateChannelWithEvents(ctx, b, bEvents))

		require.NoError(t, s.AddGroupChannel(ctx, owner, a.ID))
		require.NoError(t, s.AddGroupChannel(ctx, owner, a.ID))
		require.NoError(t, s.AddGroupChannel(ctx, owner, b.ID))

		channels, err := s.ListGroupChannels(ctx, owner)
		require.NoError(t, err)
		require.Len(t, channels, 2)
		assert.Equal(t, "Alpha", channels[0].Name)
		assert.Equal(t, "Beta", channels[1].Name)

		events, err := s.ListGroupEvents(ctx, owner, DayRange{})
		require.NoError(t, err)
		assert.Equal(t, []string{aEvents[0].ID, bEvents[0].ID}, eventIDs(events))

		require.NoError(t, s.RemoveGroupChannel(ctx, owner, a.ID))
		assert.ErrorIs(t, s.RemoveGroupChannel(ctx, owner, a.ID), ErrNotFound)

		n, err := s.RemoveAllGroupChannels(ctx, owner)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		channels, err = s.ListGroupChannels(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, channels)
	})

	t.Run("subscribe to unknown channel", func(t *testing.T) {
		s := newStore(t)
		owner := uuid.NewString()
		require.NoError(t, s.CreateGroup(ctx, &models.SubscriptionGroup{ID: owner, OwnerID: owner}))
		assert.ErrorIs(t, s.AddGroupChannel(ctx, owner, uuid.NewString()), ErrNotFound)
	})
}
