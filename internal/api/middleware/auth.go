package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserIDKey is the gin context key the authenticated user ID is stored under.
const UserIDKey = "user_id"

// UserIDHeader identifies the caller. The control plane in front of this
// service authenticates users and forwards their identity in this header.
const UserIDHeader = "X-User-ID"

// Auth extracts the caller identity from the request and rejects requests
// without one.
func Auth(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth").Logger()

	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserIDHeader + " header"})
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			log.Warn().Str("value", raw).Msg("malformed user ID header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user ID set by Auth.
func UserID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
