// Package lockout tracks failed authentication attempts per account and
// trips time-bounded lockouts when a policy threshold is crossed.
//
// State lives in Redis so multiple engine instances share one view of an
// account's failure count. The count-and-trip step runs as a Lua script:
// two instances racing on the same account cannot both observe a
// pre-threshold count and miss the lock.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rules is the per-policy lockout configuration applied to one attempt.
type Rules struct {
	Enabled   bool
	Threshold int
	// Duration is how long a tripped lock holds. 0 = manual unlock only.
	Duration time.Duration
	// ResetWindow is the rolling window failures are counted in.
	ResetWindow time.Duration
}

var (
	// ErrUnavailable indicates the lockout backend is unreachable.
	ErrUnavailable = errors.New("lockout backend unavailable")
)

// recordFailureScript resets the window if it elapsed, increments the
// failure count, and atomically trips the lock at threshold. Returns
// {locked, count}.
var recordFailureScript = redis.NewScript(`
local fail = KEYS[1]
local lock = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local lockdur = tonumber(ARGV[4])

local started = tonumber(redis.call("HGET", fail, "window_started_at") or "0")
if started == 0 or (now - started) >= window then
  redis.call("HSET", fail, "count", 0, "window_started_at", now)
end

local count = redis.call("HINCRBY", fail, "count", 1)
redis.call("EXPIRE", fail, window)

if threshold > 0 and count >= threshold then
  if lockdur > 0 then
    redis.call("SET", lock, now + lockdur, "EX", lockdur)
  else
    redis.call("SET", lock, "0")
  end
  redis.call("DEL", fail)
  return {1, count}
end
return {0, count}
`)

// Tracker is the Redis-backed lockout state machine.
type Tracker struct {
	redis  redis.UniversalClient
	prefix string
}

// NewTracker creates a tracker. Keys are namespaced under prefix.
func NewTracker(redisClient redis.UniversalClient, prefix string) *Tracker {
	return &Tracker{redis: redisClient, prefix: prefix}
}

func (t *Tracker) failKey(accountID string) string {
	return t.prefix + ":lf:" + accountID
}

func (t *Tracker) lockKey(accountID string) string {
	return t.prefix + ":lk:" + accountID
}

// RecordFailure counts one failed attempt under the given rules.
// Returns whether this failure tripped a lockout and the windowed count.
func (t *Tracker) RecordFailure(ctx context.Context, accountID string, rules Rules, now time.Time) (bool, int64, error) {
	if !rules.Enabled || accountID == "" {
		return false, 0, nil
	}

	window := int64(rules.ResetWindow / time.Second)
	if window <= 0 {
		window = 1
	}

	res, err := recordFailureScript.Run(ctx, t.redis,
		[]string{t.failKey(accountID), t.lockKey(accountID)},
		now.Unix(),
		window,
		rules.Threshold,
		int64(rules.Duration/time.Second),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	return res[0] == 1, res[1], nil
}

// RecordSuccess clears the failure counter after an admitted login.
func (t *Tracker) RecordSuccess(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := t.redis.Del(ctx, t.failKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FailureCount returns the current windowed failure count without mutating it.
func (t *Tracker) FailureCount(ctx context.Context, accountID string, window time.Duration, now time.Time) (int64, error) {
	if accountID == "" {
		return 0, nil
	}

	vals, err := t.redis.HMGet(ctx, t.failKey(accountID), "count", "window_started_at").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count := parseField(vals[0])
	started := parseField(vals[1])
	if count == 0 || started == 0 {
		return 0, nil
	}
	if window > 0 && now.Unix()-started >= int64(window/time.Second) {
		return 0, nil
	}
	return count, nil
}

// Locked reports whether the account is under an active lockout and, when
// the lock is time-bounded, when it expires. Expired locks are observed
// lazily through the key TTL.
func (t *Tracker) Locked(ctx context.Context, accountID string, now time.Time) (bool, time.Time, error) {
	if accountID == "" {
		return false, time.Time{}, nil
	}

	val, err := t.redis.Get(ctx, t.lockKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	until, convErr := strconv.ParseInt(val, 10, 64)
	if convErr != nil || until == 0 {
		// 0 or unparseable means indefinite: manual unlock only.
		return true, time.Time{}, nil
	}
	if now.Unix() >= until {
		return false, time.Time{}, nil
	}
	return true, time.Unix(until, 0), nil
}

// Lock places a manual lockout. duration 0 locks until Unlock.
func (t *Tracker) Lock(ctx context.Context, accountID string, duration time.Duration, now time.Time) error {
	if accountID == "" {
		return nil
	}

	var err error
	if duration > 0 {
		err = t.redis.Set(ctx, t.lockKey(accountID), now.Add(duration).Unix(), duration).Err()
	} else {
		err = t.redis.Set(ctx, t.lockKey(accountID), "0", 0).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Unlock clears both the lock and the failure counter.
func (t *Tracker) Unlock(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := t.redis.Del(ctx, t.lockKey(accountID), t.failKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func parseField(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
