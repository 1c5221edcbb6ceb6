package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/escrowd/internal/config"
)

const keyWebhookProvider = "webhook:ingress:"

// WebhookLimiter caps inbound webhook deliveries per gateway. A nil limiter
// admits everything.
type WebhookLimiter struct {
	bucket *TokenBucket
	prefix string
	rate   float64
	burst  int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	limit := cfg.RateLimit
	if client == nil || limit.WebhookRate <= 0 || limit.WebhookBurst <= 0 {
		return nil
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		prefix: cfg.AppName + ":ratelimit:",
		rate:   limit.WebhookRate,
		burst:  limit.WebhookBurst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := l.prefix + keyWebhookProvider + strings.ToLower(strings.TrimSpace(provider))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
