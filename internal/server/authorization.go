package server

import (
	"github.com/gin-gonic/gin"
)

// authorize checks the actor's role against the casbin policy for object and
// action before the handler runs.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, role := actorFromContext(c)
		if actorID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actorID, role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
