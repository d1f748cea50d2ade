package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Service hands out anonymous browser sessions and the CSRF tokens paired
// with them. No accounts exist; the session cookie is the identity.
type Service struct {
	sessionTTL     time.Duration
	cookieName     string
	csrfCookieName string
	csrfHeaderName string
	secure         bool
}

// NewService constructs the cookie service. secure marks cookies HTTPS-only.
func NewService(ttl time.Duration, secure bool) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		sessionTTL:     ttl,
		cookieName:     "pdfqa_session",
		csrfCookieName: "pdfqa_csrf",
		csrfHeaderName: "X-CSRF-Token",
		secure:         secure,
	}
}

// NewSessionID returns a fresh random session identifier.
func (s *Service) NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id looks like an identifier we issued.
func (s *Service) ValidSessionID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SessionCookieName returns the cookie name storing session ids.
func (s *Service) SessionCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the header the page echoes the CSRF token in.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}
