package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voyagen/releasecal/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Store defines persistence for channels, events and subscription groups.
type Store interface {
	// GetChannelByID returns a channel by id.
	GetChannelByID(ctx context.Context, channelID string) (*models.Channel, error)
	// GetChannelBySource returns the channel for (sourceType, sourceID).
	GetChannelBySource(ctx context.Context, sourceType models.SourceType, sourceID string) (*models.Channel, error)
	// CreateChannelWithEvents inserts a channel and its events in one transaction.
	// ErrConflict means a channel with the same source already exists.
	CreateChannelWithEvents(ctx context.Context, ch *models.Channel, events []models.Event) error
	// ReplaceChannelEvents updates the channel row and replaces all of its events in
	// one transaction. Other channels' events are never touched.
	ReplaceChannelEvents(ctx context.Context, ch *models.Channel, events []models.Event) error
	// ListChannelEvents returns a channel's events ordered by day.
	ListChannelEvents(ctx context.Context, channelID string, days DayRange) ([]models.Event, error)

	// ListGroupsByOwner returns every group owned by the user. More than one result
	// means the one-group-per-user invariant is broken.
	ListGroupsByOwner(ctx context.Context, ownerID string) ([]models.SubscriptionGroup, error)
	// CreateGroup inserts a group; an existing group with the same id is left as is.
	CreateGroup(ctx context.Context, g *models.SubscriptionGroup) error
	// ListGroupChannels returns the channels subscribed by a group.
	ListGroupChannels(ctx context.Context, groupID string) ([]models.Channel, error)
	// AddGroupChannel subscribes a group to a channel; adding twice is a no-op.
	AddGroupChannel(ctx context.Context, groupID, channelID string) error
	// RemoveGroupChannel unsubscribes a group from a channel.
	RemoveGroupChannel(ctx context.Context, groupID, channelID string) error
	// RemoveAllGroupChannels unsubscribes a group from everything and returns how many
	// subscriptions were removed.
	RemoveAllGroupChannels(ctx context.Context, groupID string) (int64, error)
	// ListGroupEvents returns the events of every channel the group subscribes to.
	ListGroupEvents(ctx context.Context, groupID string, days DayRange) ([]models.Event, error)
}

// DayRange is an inclusive calendar day filter. Empty bounds are open.
type DayRange struct {
	Start string // YYYY-MM-DD
	End   string // YYYY-MM-DD
}

// Validate checks the bounds are dates and in order.
func (r DayRange) Validate() error {
	var start, end time.Time
	var err error
	if r.Start != "" {
		if start, err = time.Parse(models.DayLayout, r.Start); err != nil {
			return fmt.Errorf("invalid start day %q", r.Start)
		}
	}
	if r.End != "" {
		if end, err = time.Parse(models.DayLayout, r.End); err != nil {
			return fmt.Errorf("invalid end day %q", r.End)
		}
	}
	if r.Start != "" && r.End != "" && end.Before(start) {
		return fmt.Errorf("end day %s is before start day %s", r.End, r.Start)
	}
	return nil
}

// Contains reports whether day falls in the range. Days compare lexically.
func (r DayRange) Contains(day string) bool {
	if r.Start != "" && day < r.Start {
		return false
	}
	if r.End != "" && day > r.End {
		return false
	}
	return true
}
