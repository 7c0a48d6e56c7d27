package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sistemagestao/sistemagestao/internal/shared"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockerConfig tunes the Redis locker.
type LockerConfig struct {
	// TTL bounds how long a crashed holder can keep a key.
	TTL time.Duration
	// Wait bounds how long Lock retries before giving up.
	Wait time.Duration
	// Retry is the pause between attempts.
	Retry time.Duration
}

// Locker implements shared.Locker on top of Redis SET NX PX.
type Locker struct {
	client redis.UniversalClient
	cfg    LockerConfig
}

var _ shared.Locker = (*Locker)(nil)

// NewLocker constructs a Redis backed locker.
func NewLocker(client redis.UniversalClient, cfg LockerConfig) *Locker {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 10 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &Locker{client: client, cfg: cfg}
}

// Lock acquires every key in sorted order, releasing those already held when
// one cannot be obtained.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("platform/cache: locker not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()

	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	release := func() {
		// release must work after the caller's context is gone
		relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer relCancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(relCtx, l.client, []string{held[i]}, token).Err()
		}
	}
	for _, key := range shared.SortedKeys(keys) {
		if err := l.acquire(ctx, key, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}
	return release, nil
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.cfg.Retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("platform/cache: lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", shared.ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}
