package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/releasecal/internal/cache"
	"github.com/voyagen/releasecal/internal/models"
)

// Cache TTLs per entity.
const (
	ttlChannel       = 5 * time.Minute
	ttlChannelEvents = 2 * time.Minute
	ttlGroupChannels = 1 * time.Minute
	ttlGroupEvents   = 1 * time.Minute
)

// CachedStore wraps a Store with a Redis read-through cache. Writes go to the inner
// store first and then drop every key they may have made stale. Cache failures are
// logged and fall back to the inner store.
type CachedStore struct {
	inner Store
	cache *cache.Redis
	log   zerolog.Logger
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis, log zerolog.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: c, log: log.With().Str("component", "cached_store").Logger()}
}

func channelKey(id string) string { return cache.Key("channel", id) }

func channelEventsKey(id string, days DayRange) string {
	return cache.Key("channel-events", id, rangeKey(days))
}

func groupChannelsKey(id string) string { return cache.Key("group-channels", id) }

func groupEventsKey(id string, days DayRange) string {
	return cache.Key("group-events", id, rangeKey(days))
}

func rangeKey(days DayRange) string {
	start, end := days.Start, days.End
	if start == "" {
		start = "-"
	}
	if end == "" {
		end = "-"
	}
	return start + ":" + end
}

// readThrough serves key from cache or loads it and stores the result.
func readThrough[T any](ctx context.Context, c *CachedStore, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	v, err := cache.Get[T](ctx, c.cache, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	v, err = load()
	if err != nil {
		return v, err
	}
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return v, nil
}

// --- cached reads ---

func (c *CachedStore) GetChannelByID(ctx context.Context, channelID string) (*models.Channel, error) {
	return readThrough(ctx, c, channelKey(channelID), ttlChannel, func() (*models.Channel, error) {
		return c.inner.GetChannelByID(ctx, channelID)
	})
}

func (c *CachedStore) ListChannelEvents(ctx context.Context, channelID string, days DayRange) ([]models.Event, error) {
	return readThrough(ctx, c, channelEventsKey(channelID, days), ttlChannelEvents, func() ([]models.Event, error) {
		return c.inner.ListChannelEvents(ctx, channelID, days)
	})
}

func (c *CachedStore) ListGroupChannels(ctx context.Context, groupID string) ([]models.Channel, error) {
	return readThrough(ctx, c, groupChannelsKey(groupID), ttlGroupChannels, func() ([]models.Channel, error) {
		return c.inner.ListGroupChannels(ctx, groupID)
	})
}

func (c *CachedStore) ListGroupEvents(ctx context.Context, groupID string, days DayRange) ([]models.Event, error) {
	return readThrough(ctx, c, groupEventsKey(groupID, days), ttlGroupEvents, func() ([]models.Event, error) {
		return c.inner.ListGroupEvents(ctx, groupID, days)
	})
}

// --- writes with invalidation ---

func (c *CachedStore) CreateChannelWithEvents(ctx context.Context, ch *models.Channel, events []models.Event) error {
	if err := c.inner.CreateChannelWithEvents(ctx, ch, events); err != nil {
		return err
	}
	c.invalidate(ctx, channelKey(ch.ID))
	return nil
}

func (c *CachedStore) ReplaceChannelEvents(ctx context.Context, ch *models.Channel, events []models.Event) error {
	if err := c.inner.ReplaceChannelEvents(ctx, ch, events); err != nil {
		return err
	}
	c.invalidate(ctx, channelKey(ch.ID))
	// Any group may subscribe to this channel, and names feed group channel lists.
	c.invalidatePattern(ctx,
		cache.Key("channel-events", ch.ID, "*"),
		cache.Key("group-events", "*"),
		cache.Key("group-channels", "*"),
	)
	return nil
}

func (c *CachedStore) AddGroupChannel(ctx context.Context, groupID, channelID string) error {
	if err := c.inner.AddGroupChannel(ctx, groupID, channelID); err != nil {
		return err
	}
	c.invalidateGroup(ctx, groupID)
	return nil
}

func (c *CachedStore) RemoveGroupChannel(ctx context.Context, groupID, channelID string) error {
	if err := c.inner.RemoveGroupChannel(ctx, groupID, channelID); err != nil {
		return err
	}
	c.invalidateGroup(ctx, groupID)
	return nil
}

func (c *CachedStore) RemoveAllGroupChannels(ctx context.Context, groupID string) (int64, error) {
	n, err := c.inner.RemoveAllGroupChannels(ctx, groupID)
	if err != nil {
		return 0, err
	}
	c.invalidateGroup(ctx, groupID)
	return n, nil
}

// --- passthrough ---

func (c *CachedStore) GetChannelBySource(ctx context.Context, sourceType models.SourceType, sourceID string) (*models.Channel, error) {
	return c.inner.GetChannelBySource(ctx, sourceType, sourceID)
}

func (c *CachedStore) ListGroupsByOwner(ctx context.Context, ownerID string) ([]models.SubscriptionGroup, error) {
	return c.inner.ListGroupsByOwner(ctx, ownerID)
}

func (c *CachedStore) CreateGroup(ctx context.Context, g *models.SubscriptionGroup) error {
	return c.inner.CreateGroup(ctx, g)
}

// --- helpers ---

func (c *CachedStore) invalidateGroup(ctx context.Context, groupID string) {
	c.invalidate(ctx, groupChannelsKey(groupID))
	c.invalidatePattern(ctx, cache.Key("group-events", groupID, "*"))
}

func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := cache.DelPattern(ctx, c.cache, p); err != nil {
			c.log.Warn().Err(err).Str("pattern", p).Msg("cache invalidation failed")
		}
	}
}
