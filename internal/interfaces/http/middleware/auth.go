// internal/interfaces/http/middleware/auth.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/auth"
)

const (
	sessionCookie     = "storefront_session"
	sessionContextKey = "session"
)

// Session resolves the storefront session for every request. The session id
// comes from the x-session-id header or the session cookie; a client with
// neither gets a fresh id set as a cookie. A valid bearer token on the request
// switches the resolved session to authenticated mode for this call.
func Session(sessions *session.Store, cfg *config.Config) gin.HandlerFunc {
	jwtManager := auth.NewJWTManager(cfg)

	return func(c *gin.Context) {
		id := c.GetHeader("x-session-id")
		if id == "" {
			if cookie, err := c.Cookie(sessionCookie); err == nil {
				id = cookie
			}
		}
		if id == "" {
			id = uuid.New().String()
			c.SetCookie(sessionCookie, id, 7*24*3600, "/", "", false, true)
		}

		sess, err := sessions.Load(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load session",
			})
			c.Abort()
			return
		}

		if token := auth.ExtractTokenFromHeader(c.GetHeader("Authorization")); token != "" {
			if claims, err := jwtManager.ValidateAccessToken(token); err == nil {
				sess.Token = token
				sess.UserID = claims.UserID
			}
		}

		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// RequireAuth ensures the session carries a valid bearer token
func RequireAuth(cfg *config.Config) gin.HandlerFunc {
	jwtManager := auth.NewJWTManager(cfg)

	return func(c *gin.Context) {
		sess, ok := GetSessionFromContext(c)
		if !ok || !sess.IsAuthenticated() {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			c.Abort()
			return
		}

		if _, err := jwtManager.ValidateAccessToken(sess.Token); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetSessionFromContext extracts the storefront session from gin context
func GetSessionFromContext(c *gin.Context) (*session.Session, bool) {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		return nil, false
	}
	sess, ok := value.(*session.Session)
	return sess, ok
}
