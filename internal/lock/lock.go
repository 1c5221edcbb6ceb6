package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrEmptyKey   = errors.New("lock_key_empty")
	ErrInvalidTTL = errors.New("lock_ttl_invalid")
)

// Locker hands out short-lived exclusive leases on a key. A nil *Locker is
// valid and grants every lease, which is what a single instance wants.
type Locker struct {
	client *redis.Client
	script *redis.Script
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
		prefix: prefix,
	}
}

// TryLock returns the lease token and whether the lease was acquired.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}
	if l == nil || l.client == nil {
		return "", true, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release drops the lease only if token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}

// Enabled reports whether leases are coordinated through redis.
func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}
