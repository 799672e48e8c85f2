/*
Package redislock provides a Redis-backed perks.Locker.

PURPOSE:
  perks.KeyedLocker serializes mutations of one perk inside one process.
  When several server instances share a database, the single-writer rule
  per (user, perk) needs a lock every instance sees. This package takes
  that lock in Redis.

PROTOCOL:
  Lock:   SET perk:<user>:<perk> <token> NX PX <ttl>, polled until acquired
          or ctx is done
  Unlock: Lua compare-and-delete, so a holder whose lease expired never
          deletes someone else's lock

  The TTL bounds how long a crashed holder blocks the perk. It must be
  longer than the slowest redemption.

SEE ALSO:
  - perks/locker.go: Locker interface and in-process implementation
  - perks/coordinator.go: The only caller
*/
package redislock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/perks"
)

const (
	DefaultTTL          = 10 * time.Second
	DefaultPollInterval = 25 * time.Millisecond
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client is the subset of *redis.Client the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

type Locker struct {
	client       Client
	prefix       string
	TTL          time.Duration
	PollInterval time.Duration
	Logger       logrus.FieldLogger
}

// New returns a locker; prefix namespaces keys when Redis is shared.
func New(client Client, prefix string) *Locker {
	return &Locker{
		client:       client,
		prefix:       prefix,
		TTL:          DefaultTTL,
		PollInterval: DefaultPollInterval,
		Logger:       logrus.StandardLogger(),
	}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled; release regardless.
			ctx, cancel := context.WithTimeout(context.Background(), l.TTL)
			defer cancel()
			if err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.Logger.WithFields(logrus.Fields{"op": "unlock", "key": redisKey}).
					WithError(err).Warn("failed to release perk lock; it expires with its TTL")
			}
		})
	}
}

var _ perks.Locker = (*Locker)(nil)
