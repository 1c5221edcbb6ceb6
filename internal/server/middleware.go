package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/escrowd/internal/observability/context"
	"go.uber.org/zap"
)

// Admin identity is asserted by the auth gateway in front of the service.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorIDKey   = "actor_id"
	contextActorRoleKey = "actor_role"
)

// AdminActorRequired reads the gateway-asserted actor headers and puts the
// actor on the request context for audit and logging.
func (s *Server) AdminActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
		if actorID == "" || role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), obscontext.ActorTypeAdmin, actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorIDKey, actorID)
		c.Set(contextActorRoleKey, role)
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (string, string) {
	return c.GetString(contextActorIDKey), c.GetString(contextActorRoleKey)
}

// WebhookRateLimit sheds gateway deliveries past the per-provider budget.
// Gateways redeliver on 429, so nothing is lost. A limiter failure admits the
// request.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		provider := c.Param("provider")
		res, err := s.limiter.Allow(c.Request.Context(), provider)
		if err != nil {
			s.log.Warn("webhook rate limiter unavailable", zap.String("provider", provider), zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			s.telemetry.RecordWebhookThrottled(provider)
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
