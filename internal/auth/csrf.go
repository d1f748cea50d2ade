package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CSRFMiddleware guards uploads, questions and session removal. The browser
// session cookie is the only credential, so every mutating call must echo the
// readable pdfqa_csrf cookie in the X-CSRF-Token header. Reads such as
// GET /api/session change nothing and pass through, which lets the page load
// its state before it has picked up the token.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if safeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if !s.csrfTokenMatches(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token", "kind": "CSRFError"})
			return
		}
		c.Next()
	}
}

func (s *Service) csrfTokenMatches(c *gin.Context) bool {
	header := c.GetHeader(s.csrfHeaderName)
	cookie, err := c.Cookie(s.csrfCookieName)
	if err != nil || header == "" || cookie == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) == 1
}

// safeMethod reports methods that never reach a mutating handler.
func safeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
