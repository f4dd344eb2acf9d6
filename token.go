package trustgate

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trustgate/trustgate/session"
)

// tokenManager issues and validates session-bound HS256 access tokens.
// Token lifetime never exceeds the session lifetime: revoking the session
// kills the token at validation time regardless of its exp claim.
type tokenManager struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

func newTokenManager(cfg TokenConfig) *tokenManager {
	if !cfg.Enabled {
		return nil
	}
	return &tokenManager{
		key:    cfg.SigningKey,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
	}
}

// Issue signs a token for the admitted session. exp is the session expiry,
// tightened by the configured token TTL when one is set.
func (m *tokenManager) Issue(sess *session.Session, now time.Time) (string, time.Time, error) {
	if m == nil {
		return "", time.Time{}, nil
	}

	expires := time.UnixMilli(sess.ExpiresAt)
	if m.ttl > 0 {
		if capped := now.Add(m.ttl); capped.Before(expires) {
			expires = capped
		}
	}

	claims := jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   sess.UserID,
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	return signed, expires, nil
}

// Parse validates the signature and standard claims and returns the
// embedded session and user IDs.
func (m *tokenManager) Parse(tokenString string) (sessionID, userID string, err error) {
	if m == nil {
		return "", "", ErrTokenInvalid
	}

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return "", "", ErrTokenInvalid
	}

	return claims.ID, claims.Subject, nil
}
