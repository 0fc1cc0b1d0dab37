package redisclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockLost is the context cause when a held lock could not be renewed.
	ErrLockLost = errors.New("lock lost")
)

// Locker guards critical sections that must serialize across processes:
// reservations per doctor/location, reminder firing per appointment and
// turns within one conversational session.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SlotKey scopes the reservation critical section to one doctor at one location.
func SlotKey(doctorID, location string) string {
	return fmt.Sprintf("lock:slot:%s:%s", doctorID, location)
}

// AppointmentKey serializes reminder firing, patient responses and cancellation.
func AppointmentKey(id uuid.UUID) string {
	return fmt.Sprintf("lock:appointment:%s", id.String())
}

// SessionKey serializes turns of one conversation.
func SessionKey(id uuid.UUID) string {
	return fmt.Sprintf("lock:session:%s", id.String())
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker creates a locker backed by SET NX keys. A held lock is polled
// for up to wait before ErrLockNotAcquired is returned; wait 0 fails fast.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

// WithLock holds key while fn runs. The key's TTL is renewed every third of
// the TTL, so fn may outlive a single TTL; if renewal fails fn's context is
// cancelled with ErrLockLost as its cause.
func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	fnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(fnCtx, key, token, stop, cancel)
	}()

	err := fn(fnCtx)
	close(stop)
	<-done

	if err != nil && errors.Is(context.Cause(fnCtx), ErrLockLost) {
		return fmt.Errorf("%w: %s: %w", ErrLockLost, key, err)
	}
	return err
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

func (l *redisLocker) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	if l.ttl <= 0 {
		return
	}
	interval := l.ttl / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			if err != nil && ctx.Err() != nil {
				return
			}
			if err != nil || n == 0 {
				cancel(ErrLockLost)
				return
			}
		}
	}
}

func (l *redisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		backoff := time.Duration(10+rand.Intn(30)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
