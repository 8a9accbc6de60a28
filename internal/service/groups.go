package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/releasecal/internal/models"
	"github.com/voyagen/releasecal/internal/store"
)

// ChannelEnsurer is satisfied by Synchronizer.
type ChannelEnsurer interface {
	EnsureChannel(ctx context.Context, externalID int, staleAfter time.Duration) (string, error)
}

// GroupManager manages each user's subscription group.
type GroupManager struct {
	store      store.Store
	channels   ChannelEnsurer
	staleAfter time.Duration
	log        zerolog.Logger
}

// NewGroupManager returns a GroupManager. channels may be nil when Subscribe is
// not used.
func NewGroupManager(s store.Store, channels ChannelEnsurer, staleAfter time.Duration, log zerolog.Logger) *GroupManager {
	return &GroupManager{
		store:      s,
		channels:   channels,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "groups").Logger(),
	}
}

// GetOrCreateGroup returns the user's group, creating it on first use. The new
// group's id is the user id.
func (g *GroupManager) GetOrCreateGroup(ctx context.Context, userID string) (*models.SubscriptionGroup, error) {
	if userID == "" {
		return nil, fmt.Errorf("GetOrCreateGroup: empty user id")
	}
	groups, err := g.store.ListGroupsByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateGroup: %w", err)
	}
	if len(groups) == 0 {
		grp := &models.SubscriptionGroup{ID: userID, OwnerID: userID}
		if err := g.store.CreateGroup(ctx, grp); err != nil {
			return nil, fmt.Errorf("GetOrCreateGroup: %w", err)
		}
		// A concurrent request may have inserted it first.
		if groups, err = g.store.ListGroupsByOwner(ctx, userID); err != nil {
			return nil, fmt.Errorf("GetOrCreateGroup: %w", err)
		}
		if len(groups) == 0 {
			return nil, fmt.Errorf("GetOrCreateGroup: group for %s vanished after insert", userID)
		}
	}
	if len(groups) > 1 {
		g.log.Error().
			Err(ErrInvariantViolation).
			Str("user_id", userID).
			Int("groups", len(groups)).
			Msg("user owns more than one subscription group")
		for i := range groups {
			if groups[i].ID == userID {
				return &groups[i], nil
			}
		}
	}
	return &groups[0], nil
}

// ListChannels returns the group's subscribed channels.
func (g *GroupManager) ListChannels(ctx context.Context, groupID string) ([]models.Channel, error) {
	channels, err := g.store.ListGroupChannels(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("ListChannels: %w", err)
	}
	return channels, nil
}

// AddChannel subscribes the group to a channel. Subscribing twice is a no-op.
func (g *GroupManager) AddChannel(ctx context.Context, groupID, channelID string) error {
	if err := g.store.AddGroupChannel(ctx, groupID, channelID); err != nil {
		return fmt.Errorf("AddChannel: %w", err)
	}
	return nil
}

// RemoveChannel unsubscribes the group from one channel.
func (g *GroupManager) RemoveChannel(ctx context.Context, groupID, channelID string) error {
	if err := g.store.RemoveGroupChannel(ctx, groupID, channelID); err != nil {
		return fmt.Errorf("RemoveChannel: %w", err)
	}
	return nil
}

// RemoveAllChannels clears the group's subscriptions and reports how many there were.
func (g *GroupManager) RemoveAllChannels(ctx context.Context, groupID string) (int64, error) {
	n, err := g.store.RemoveAllGroupChannels(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("RemoveAllChannels: %w", err)
	}
	g.log.Info().Str("group_id", groupID).Int64("removed", n).Msg("subscriptions cleared")
	return n, nil
}

// ListEvents returns the events of every subscribed channel within days.
func (g *GroupManager) ListEvents(ctx context.Context, groupID string, days store.DayRange) ([]models.Event, error) {
	if err := days.Validate(); err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	events, err := g.store.ListGroupEvents(ctx, groupID, days)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	return events, nil
}

// Subscription is the result of Subscribe.
type Subscription struct {
	ChannelID           string `json:"channelId"`
	SubscriptionGroupID string `json:"subscriptionGroupId"`
}

// Subscribe makes sure the show's channel exists and is current, then adds it to
// the user's group.
func (g *GroupManager) Subscribe(ctx context.Context, userID string, externalID int) (*Subscription, error) {
	if g.channels == nil {
		return nil, errors.New("Subscribe: no channel synchronizer configured")
	}
	grp, err := g.GetOrCreateGroup(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Subscribe: %w", err)
	}
	channelID, err := g.channels.EnsureChannel(ctx, externalID, g.staleAfter)
	if err != nil {
		return nil, fmt.Errorf("Subscribe: %w", err)
	}
	if err := g.AddChannel(ctx, grp.ID, channelID); err != nil {
		return nil, fmt.Errorf("Subscribe: %w", err)
	}
	g.log.Info().Str("user_id", userID).Str("channel_id", channelID).Int("tmdb_id", externalID).Msg("subscribed")
	return &Subscription{ChannelID: channelID, SubscriptionGroupID: grp.ID}, nil
}
