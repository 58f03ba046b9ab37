// Package auth issues and verifies the signed session tokens that identify
// requesters.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	// ErrNoSession is returned when the request carries no session token.
	ErrNoSession = errors.New("no session")

	// ErrInvalidSession is returned for tokens that are malformed, expired
	// or signed with another key.
	ErrInvalidSession = errors.New("invalid session")
)

// Sessions issues HS256 session tokens whose subject is the user id.
type Sessions struct {
	secret []byte
	cookie string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a session codec. Tokens are read from the named cookie
// or from an "Authorization: Bearer" header.
func NewSessions(secret []byte, cookie string, ttl time.Duration) *Sessions {
	return &Sessions{
		secret: secret,
		cookie: cookie,
		ttl:    ttl,
		now:    time.Now,
	}
}

// CookieName returns the session cookie name.
func (s *Sessions) CookieName() string {
	return s.cookie
}

// Issue signs a token for userID.
func (s *Sessions) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidSession)
	}
	now := s.now()
	claims := jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the token signature and expiry and returns its user id.
func (s *Sessions) Verify(token string) (string, error) {
	var claims jwt.StandardClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidSession
	}
	if claims.ExpiresAt != 0 && s.now().Unix() > claims.ExpiresAt {
		return "", fmt.Errorf("%w: token is expired", ErrInvalidSession)
	}
	return claims.Subject, nil
}

// UserID returns the authenticated user id of r.
func (s *Sessions) UserID(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(s.cookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return "", ErrNoSession
	}
	return s.Verify(token)
}

// Cookie builds the session cookie carrying token.
func (s *Sessions) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
