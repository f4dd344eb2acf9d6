// Package stores holds the Redis-backed ephemeral state stores used by the
// engine: pending MFA challenges and remember-device windows.
package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrChallengeNotFound indicates the challenge does not exist or was consumed.
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	// ErrChallengeExpired indicates the challenge outlived its TTL.
	ErrChallengeExpired = errors.New("mfa challenge expired")
	// ErrChallengeBackend indicates the challenge backend is unreachable.
	ErrChallengeBackend = errors.New("mfa challenge backend unavailable")
)

// Challenge is a pending MFA step-up. It snapshots everything the engine
// needs to finish the login after confirmation, so the attempt is governed
// by the policy that was in force when it started.
type Challenge struct {
	UserID            string   `json:"user_id"`
	ApplicationID     string   `json:"application_id,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	DeviceFingerprint string   `json:"device_fingerprint,omitempty"`
	DeviceType        string   `json:"device_type,omitempty"`
	IPAddress         string   `json:"ip_address,omitempty"`
	Geo               string   `json:"geo,omitempty"`
	LoginMethod       string   `json:"login_method,omitempty"`
	Methods           []string `json:"methods"`
	// CodeHash is the sha256 hex of the delivered one-time code, for sms and
	// email methods. Empty when only totp/backup apply.
	CodeHash         string `json:"code_hash,omitempty"`
	RiskScore        int    `json:"risk_score"`
	Suspicious       bool   `json:"suspicious"`
	SuspiciousReason string `json:"suspicious_reason,omitempty"`
	// Session admission rules snapshotted from the resolved policy.
	SessionTimeoutSecs int64 `json:"session_timeout_secs"`
	MaxConcurrent      int   `json:"max_concurrent"`
	RememberDays       int   `json:"remember_days"`
	ExpiresAt          int64 `json:"expires_at"`
}

// ChallengeStore persists pending challenges with bounded attempts.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":mc:" + id
}

func (s *ChallengeStore) attemptsKey(id string) string {
	return s.prefix + ":mca:" + id
}

// Save stores a challenge under the given TTL.
func (s *ChallengeStore) Save(ctx context.Context, id string, ch *Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get loads a pending challenge. Expired challenges are deleted lazily.
func (s *ChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	raw, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	var ch Challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, ErrChallengeNotFound
	}

	if time.Now().Unix() >= ch.ExpiresAt {
		_, _ = s.Delete(ctx, id)
		return nil, ErrChallengeExpired
	}

	return &ch, nil
}

// Delete consumes a challenge. Returns false when it was already gone,
// which callers treat as replay.
func (s *ChallengeStore) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.redis.Del(ctx, s.key(id), s.attemptsKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return deleted > 0, nil
}

// RecordFailure counts one failed confirmation. When maxAttempts is reached
// the challenge is invalidated and exceeded=true is returned.
func (s *ChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (bool, error) {
	count, err := s.redis.Incr(ctx, s.attemptsKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	if count == 1 {
		// Attempts counter lives exactly as long as the challenge.
		ttl, err := s.redis.PTTL(ctx, s.key(id)).Result()
		if err == nil && ttl > 0 {
			_ = s.redis.PExpire(ctx, s.attemptsKey(id), ttl).Err()
		}
	}

	if int(count) >= maxAttempts {
		if _, err := s.Delete(ctx, id); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}
