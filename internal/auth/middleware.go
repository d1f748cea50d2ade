package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const sessionIDContextKey = "session_id"

// Middleware makes sure every request carries a session cookie and a CSRF
// cookie, minting new ones when absent, and stores the session id in the
// context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(s.cookieName)
		if err != nil || !s.ValidSessionID(sessionID) {
			sessionID = s.NewSessionID()
		}
		// refresh the expiry on every request
		s.setCookie(c, s.cookieName, sessionID, true)

		if token, err := c.Cookie(s.csrfCookieName); err != nil || token == "" {
			token, err = s.NewCSRFToken()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "issue csrf token failed", "kind": "InternalError"})
				return
			}
			s.setCookie(c, s.csrfCookieName, token, false)
		}
		c.Set(sessionIDContextKey, sessionID)
		c.Next()
	}
}

// SessionIDFromContext retrieves the session id stored by the middleware.
func SessionIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// ClearCookies expires both cookies so the next request starts a new session.
func (s *Service) ClearCookies(c *gin.Context) {
	for _, name := range []string{s.cookieName, s.csrfCookieName} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   s.secure,
			HttpOnly: name == s.cookieName,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (s *Service) setCookie(c *gin.Context, name, value string, httpOnly bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		Secure:   s.secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteStrictMode,
	})
}
