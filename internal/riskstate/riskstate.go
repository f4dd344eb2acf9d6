// Package riskstate keeps the short-lived per-account signals the risk
// scorer reads: an attempt velocity counter and the countries of recent
// successful logins.
package riskstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the risk state backend is unreachable.
var ErrUnavailable = errors.New("risk state backend unavailable")

// Store is the Redis-backed risk signal store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) velocityKey(accountID string) string {
	return s.prefix + ":vel:" + accountID
}

func (s *Store) geoKey(accountID string) string {
	return s.prefix + ":geo:" + accountID
}

// RecordAttempt counts one authentication attempt, success or failure, in
// the rolling velocity window. Returns the count including this attempt.
func (s *Store) RecordAttempt(ctx context.Context, accountID string, window time.Duration) (int64, error) {
	count, err := s.redis.Incr(ctx, s.velocityKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if count == 1 && window > 0 {
		if err := s.redis.Expire(ctx, s.velocityKey(accountID), window).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}

// RecentCountries returns the countries of the account's most recent
// successful logins, newest first.
func (s *Store) RecentCountries(ctx context.Context, accountID string) ([]string, error) {
	countries, err := s.redis.LRange(ctx, s.geoKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return countries, nil
}

// RecordCountry prepends the origin country of a successful login, keeping
// the newest `keep` entries. Unknown origins are not recorded.
func (s *Store) RecordCountry(ctx context.Context, accountID, country string, keep int) error {
	if country == "" || keep <= 0 {
		return nil
	}

	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, s.geoKey(accountID), country)
	pipe.LTrim(ctx, s.geoKey(accountID), 0, int64(keep-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
