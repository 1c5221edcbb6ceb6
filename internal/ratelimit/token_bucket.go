package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	ErrEmptyKey      = errors.New("rate_limiter_key_empty")
	ErrInvalidRate   = errors.New("rate_limiter_invalid_rate")
	ErrBadResponse   = errors.New("rate_limiter_bad_response")
)

// Tokens are stored in milli-tokens so the bucket survives redis truncating
// Lua numbers to integers on return.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst * 1000
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst * 1000, tokens + delta * rate)
end

local allowed = 0
if tokens >= 1000 then
  allowed = 1
  tokens = tokens - 1000
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), now}
`

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow takes one token from the bucket at key. rate is tokens per second.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, ErrNotConfigured
	}
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	if rate <= 0 || burst <= 0 {
		return Result{}, ErrInvalidRate
	}

	ttl := bucketTTL(rate, burst)
	res, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 3 {
		return Result{}, ErrBadResponse
	}
	return evaluate(res[0] == 1, res[1], rate, burst), nil
}

func evaluate(allowed bool, milliTokens int64, rate float64, burst int) Result {
	result := Result{
		Allowed:   allowed,
		Limit:     burst,
		Remaining: int(milliTokens / 1000),
	}
	if !allowed {
		needed := float64(1000-milliTokens) / 1000
		if needed > 0 {
			result.RetryAfter = time.Duration(math.Ceil(needed / rate * float64(time.Second)))
		}
	}
	return result
}

func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
