package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/ai-saas/internal/auth"
	"github.com/suPer8Hu/ai-saas/internal/common"
)

const (
	SessionKey = "auth_session"
	UserIDKey  = "user_id"
)

// AuthRequired evaluates the guard before any protected handler runs.
// A redirect decision answers 401 with the sign-in location.
func AuthRequired(g auth.Guard, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Evaluate(c.Request.Context(), c.GetHeader("Authorization"))
		switch d.State {
		case auth.GuardAuthorized:
			c.Set(SessionKey, d.Session)
			c.Set(UserIDKey, d.Session.UserID)
			c.Next()
		default:
			if d.Err != nil {
				log.WithError(d.Err).Error("session store")
				common.Abort(c, http.StatusInternalServerError, 50001, "internal error", nil)
				return
			}
			status, code := http.StatusUnauthorized, 40101
			if d.Reason == "forbidden" {
				status, code = http.StatusForbidden, 40301
			}
			c.Header("Location", d.Location)
			common.Abort(c, status, code, d.Reason, gin.H{"redirect": d.Location})
		}
	}
}

// RequireAdmin runs after AuthRequired.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := SessionFrom(c)
		if !ok || !s.IsAdmin() {
			common.Abort(c, http.StatusForbidden, 40301, "forbidden", nil)
			return
		}
		c.Next()
	}
}

// SessionFrom returns the session AuthRequired stored on the context.
func SessionFrom(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return auth.Session{}, false
	}
	s, ok := v.(auth.Session)
	return s, ok
}
