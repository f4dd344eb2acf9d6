package trustgate

import (
	"errors"
	"testing"
	"time"

	"github.com/trustgate/trustgate/session"
)

func testTokenManager(ttl time.Duration) *tokenManager {
	return newTokenManager(TokenConfig{
		Enabled:    true,
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "trustgate-test",
		TTL:        ttl,
	})
}

func tokenSession(expiry time.Time) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:             "sess-1",
		UserID:         "alice",
		CreatedAt:      now.UnixMilli(),
		LastActivityAt: now.UnixMilli(),
		ExpiresAt:      expiry.UnixMilli(),
	}
}

func TestToken_IssueParseRoundTrip(t *testing.T) {
	m := testTokenManager(0)
	now := time.Now()

	signed, expires, err := m.Issue(tokenSession(now.Add(time.Hour)), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if signed == "" {
		t.Fatal("expected a signed token")
	}
	// No token TTL: the token lives exactly as long as the session.
	if got := expires.Sub(now.Add(time.Hour)); got < -time.Second || got > time.Second {
		t.Fatalf("expiry should track the session, got %v", expires)
	}

	sessionID, userID, err := m.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sessionID != "sess-1" || userID != "alice" {
		t.Fatalf("claims = %s/%s", sessionID, userID)
	}
}

func TestToken_TTLCapsAtSessionExpiry(t *testing.T) {
	m := testTokenManager(10 * time.Minute)
	now := time.Now()

	_, expires, err := m.Issue(tokenSession(now.Add(time.Hour)), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expires.After(now.Add(10*time.Minute + time.Second)) {
		t.Fatalf("token ttl should tighten the expiry, got %v", expires)
	}

	// A session shorter than the TTL wins.
	_, expires, err = m.Issue(tokenSession(now.Add(time.Minute)), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expires.After(now.Add(time.Minute + time.Second)) {
		t.Fatalf("session expiry must bound the token, got %v", expires)
	}
}

func TestToken_ParseRejectsForgeries(t *testing.T) {
	m := testTokenManager(0)
	now := time.Now()

	signed, _, err := m.Issue(tokenSession(now.Add(time.Hour)), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := newTokenManager(TokenConfig{
		Enabled:    true,
		SigningKey: []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:     "trustgate-test",
	})
	if _, _, err := other.Parse(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong key must fail, got %v", err)
	}

	if _, _, err := m.Parse(signed + "tampered"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("tampered token must fail, got %v", err)
	}
	if _, _, err := m.Parse("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage must fail, got %v", err)
	}
}

func TestToken_ExpiredRejected(t *testing.T) {
	m := testTokenManager(0)
	past := time.Now().Add(-2 * time.Hour)

	signed, _, err := m.Issue(tokenSession(past.Add(time.Hour)), past)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := m.Parse(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

func TestToken_DisabledManagerIsNil(t *testing.T) {
	if m := newTokenManager(TokenConfig{Enabled: false}); m != nil {
		t.Fatal("disabled token config must yield no manager")
	}

	var m *tokenManager
	signed, _, err := m.Issue(tokenSession(time.Now().Add(time.Hour)), time.Now())
	if err != nil || signed != "" {
		t.Fatalf("nil manager issue = %q, %v", signed, err)
	}
	if _, _, err := m.Parse("anything"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("nil manager parse must fail, got %v", err)
	}
}
