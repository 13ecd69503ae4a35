package redis

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/lib/provider"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var Logger = logger.GetLogger("provider/redis")

// --------------------------------------------------------------------------
// Redis Provider
// --------------------------------------------------------------------------

const (
	lockKeyPrefix    = "dlock:lock:"
	requestKeyPrefix = "dlock:req:"

	// tokenTTL bounds how long a crashed process can leave a lock or
	// marker behind. Live tokens are refreshed at a third of the TTL.
	tokenTTL  = 30 * time.Second
	opTimeout = 5 * time.Second
)

// redisProvider coordinates processes across hosts through a shared Redis
// instance.
//
// The exclusive lock is a redislock lease (SET NX + ownership-checked
// release). Request markers are plain volatile keys, one per waiting
// party, tagged with the provider instance id so CheckLockRequest can tell
// foreign markers from our own. Both kinds of token are kept alive by a
// refresh goroutine and expire on their own if the process dies.
type redisProvider struct {
	client  redis.UniversalClient
	locker  *redislock.Client
	id      string // distinguishes this instance's markers from foreign ones
	counter atomic.Uint64
}

// NewRedisLockProvider creates a provider on top of the given client. All
// processes that should coordinate must point at the same Redis.
func NewRedisLockProvider(client redis.UniversalClient) provider.ILockProvider {
	return &redisProvider{
		client: client,
		locker: redislock.New(client),
		id:     uuid.NewString(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see provider/interface.go)
// --------------------------------------------------------------------------

func (p *redisProvider) Name() string {
	return "redis"
}

func (p *redisProvider) GetLock(name string) (provider.IToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	lock, err := p.locker.Obtain(ctx, lockKeyPrefix+keyify(name), tokenTTL, &redislock.Options{
		RetryStrategy: redislock.NoRetry(),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, nil
	}
	if err != nil {
		return nil, provider.NewError(p.Name(), "GetLock", name, err)
	}

	t := &lockToken{lock: lock, stop: make(chan struct{})}
	go t.refresh(name)
	return t, nil
}

func (p *redisProvider) GetLockRequest(name string) (provider.IToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := fmt.Sprintf("%s%s:%s:%d", requestKeyPrefix, keyify(name), p.id, p.counter.Add(1))
	if err := p.client.Set(ctx, key, "1", tokenTTL).Err(); err != nil {
		return nil, provider.NewError(p.Name(), "GetLockRequest", name, err)
	}

	t := &markerToken{client: p.client, key: key, stop: make(chan struct{})}
	go t.refresh(name)
	return t, nil
}

func (p *redisProvider) CheckLockRequest(name string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	own := fmt.Sprintf("%s%s:%s:", requestKeyPrefix, keyify(name), p.id)
	pattern := requestKeyPrefix + keyify(name) + ":*"

	iter := p.client.Scan(ctx, 0, pattern, 64).Iterator()
	for iter.Next(ctx) {
		if len(iter.Val()) < len(own) || iter.Val()[:len(own)] != own {
			return true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return false, provider.NewError(p.Name(), "CheckLockRequest", name, err)
	}
	return false, nil
}

// keyify maps an arbitrary lock name to a fixed-width key segment, so
// names cannot collide with the key scheme or inject SCAN patterns.
func keyify(name string) string {
	h := fnv.New64a()
	_, _ = io.WriteString(h, name)
	return fmt.Sprintf("%016x", h.Sum64())
}

// --------------------------------------------------------------------------
// Tokens
// --------------------------------------------------------------------------

// lockToken is a held exclusive lock. The refresh goroutine extends the
// lease until Release is called; if refreshing fails repeatedly the lease
// simply runs out, which is the crash behavior anyway.
type lockToken struct {
	lock *redislock.Lock
	stop chan struct{}
	once sync.Once
}

func (t *lockToken) refresh(name string) {
	ticker := time.NewTicker(tokenTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			err := t.lock.Refresh(ctx, tokenTTL, nil)
			cancel()
			if err != nil {
				Logger.Warningf("failed to refresh redis lock for %q: %v", name, err)
			}
		}
	}
}

func (t *lockToken) Release() error {
	var err error
	t.once.Do(func() {
		close(t.stop)
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if relErr := t.lock.Release(ctx); relErr != nil && !errors.Is(relErr, redislock.ErrLockNotHeld) {
			err = relErr
		}
	})
	return err
}

// markerToken is a held request marker.
type markerToken struct {
	client redis.UniversalClient
	key    string
	stop   chan struct{}
	once   sync.Once
}

func (t *markerToken) refresh(name string) {
	ticker := time.NewTicker(tokenTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			err := t.client.Expire(ctx, t.key, tokenTTL).Err()
			cancel()
			if err != nil {
				Logger.Warningf("failed to refresh request marker for %q: %v", name, err)
			}
		}
	}
}

func (t *markerToken) Release() error {
	var err error
	t.once.Do(func() {
		close(t.stop)
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		err = t.client.Del(ctx, t.key).Err()
	})
	return err
}
