package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// CheckSingleDevice rejects candidate tokens that are no longer the subject's
// latest, so a session cannot be driven from two devices at once.
func CheckSingleDevice(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.Role != service.RoleCandidate {
			c.Next()
			return
		}

		err := authService.ValidateSubjectSession(c.Request.Context(), claims.Subject, claims.ID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrTokenSuperseded):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		default:
			zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Single-device check failed")
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
		}
	}
}
