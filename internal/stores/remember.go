package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRememberBackend indicates the remember-device backend is unreachable.
var ErrRememberBackend = errors.New("remember device backend unavailable")

// RememberStore tracks devices that may skip MFA after a successful
// confirmation, for a policy-bounded number of days.
type RememberStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRememberStore(redisClient redis.UniversalClient, prefix string) *RememberStore {
	return &RememberStore{redis: redisClient, prefix: prefix}
}

func (s *RememberStore) key(userID, fingerprintHash string) string {
	return s.prefix + ":rm:" + userID + ":" + fingerprintHash
}

// Remember marks the device as MFA-exempt for the given window.
func (s *RememberStore) Remember(ctx context.Context, userID, fingerprintHash string, window time.Duration) error {
	if window <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.key(userID, fingerprintHash), time.Now().Unix(), window).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRememberBackend, err)
	}
	return nil
}

// Remembered reports whether the device is inside an unexpired window.
func (s *RememberStore) Remembered(ctx context.Context, userID, fingerprintHash string) (bool, error) {
	err := s.redis.Get(ctx, s.key(userID, fingerprintHash)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRememberBackend, err)
	}
	return true, nil
}

// Forget drops the window, forcing MFA on the device's next login.
func (s *RememberStore) Forget(ctx context.Context, userID, fingerprintHash string) error {
	if err := s.redis.Del(ctx, s.key(userID, fingerprintHash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRememberBackend, err)
	}
	return nil
}
