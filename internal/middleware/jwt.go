package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rosterleague/backend/internal/auth"
	"github.com/rosterleague/backend/pkg/response"
)

const (
	// ContextParticipantID is the key for the caller's participant ID in gin context.
	ContextParticipantID = "participant_id"
	// ContextRole is the key for the caller's role in gin context.
	ContextRole = "role"
)

// JWT returns a middleware that validates the bearer token and sets the caller in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextParticipantID, claims.ParticipantID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// ParticipantID returns the authenticated caller set by JWT.
func ParticipantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextParticipantID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
