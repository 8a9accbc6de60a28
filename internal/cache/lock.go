package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock is already held")

// releaseScript deletes the key only while it still holds the caller's token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// ChannelLocker serializes channel synchronization across processes with a
// SET NX EX lock per external show id.
type ChannelLocker struct {
	r   *Redis
	ttl time.Duration
}

// NewChannelLocker returns a locker whose locks expire after ttl if never released.
func NewChannelLocker(r *Redis, ttl time.Duration) *ChannelLocker {
	return &ChannelLocker{r: r, ttl: ttl}
}

// ChannelLockKey is the lock key for a provider show id.
func ChannelLockKey(externalID int) string {
	return Key("lock", "channel", fmt.Sprint(externalID))
}

// TryLock acquires the lock for externalID. The returned release func must be
// called once the sync finishes. ErrLocked means someone else is syncing.
func (l *ChannelLocker) TryLock(ctx context.Context, externalID int) (release func(), err error) {
	key := ChannelLockKey(externalID)
	token := randomToken()

	ok, err := l.r.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// The request context may already be gone by now.
		_ = l.r.client.Eval(context.Background(), releaseScript, []string{key}, token).Err()
	}, nil
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
