package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound indicates the session does not exist, expired, or was revoked.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable indicates the session backend is unreachable.
	ErrUnavailable = errors.New("session backend unavailable")
)

// issueScript prunes dead index entries, evicts the stalest sessions until
// the account is under its cap, then stores the new session. Eviction order
// is oldest last activity first; equal scores fall back to oldest creation
// time, read from the candidates' stored documents. Returns the evicted IDs.
var issueScript = redis.NewScript(`
local index = KEYS[1]
local prefix = ARGV[1]
local id = ARGV[2]
local payload = ARGV[3]
local ttl = tonumber(ARGV[4])
local max = tonumber(ARGV[5])
local score = tonumber(ARGV[6])

local members = redis.call("ZRANGE", index, 0, -1)
for _, m in ipairs(members) do
  if redis.call("EXISTS", prefix .. m) == 0 then
    redis.call("ZREM", index, m)
  end
end

local evicted = {}
if max > 0 then
  while redis.call("ZCARD", index) >= max do
    local oldest = redis.call("ZRANGE", index, 0, 0, "WITHSCORES")
    if #oldest == 0 then break end
    local victim = oldest[1]
    local ties = redis.call("ZRANGEBYSCORE", index, oldest[2], oldest[2])
    if #ties > 1 then
      local best = nil
      for _, m in ipairs(ties) do
        local raw = redis.call("GET", prefix .. m)
        if raw then
          local ok, doc = pcall(cjson.decode, raw)
          if ok and doc.created_at and (best == nil or doc.created_at < best) then
            best = doc.created_at
            victim = m
          end
        end
      end
    end
    redis.call("DEL", prefix .. victim)
    redis.call("ZREM", index, victim)
    table.insert(evicted, victim)
  end
end

redis.call("SET", prefix .. id, payload, "PX", ttl)
redis.call("ZADD", index, score, id)
return evicted
`)

// touchScript refreshes the activity timestamp of a live session without
// extending its TTL. Missing, expired, or revoked sessions are a silent no-op.
var touchScript = redis.NewScript(`
local key = KEYS[1]
local index = KEYS[2]
local id = ARGV[1]
local now = tonumber(ARGV[2])

local raw = redis.call("GET", key)
if not raw then return 0 end
local ok, doc = pcall(cjson.decode, raw)
if not ok then return 0 end
if doc.revoked then return 0 end
if doc.expires_at and now >= doc.expires_at then return 0 end

local ttl = redis.call("PTTL", key)
if ttl <= 0 then return 0 end

doc.last_activity_at = now
redis.call("SET", key, cjson.encode(doc), "PX", ttl)
redis.call("ZADD", index, now, id)
return 1
`)

// Store persists sessions in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session store. Keys are namespaced under prefix.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) sessionKeyPrefix() string {
	return s.prefix + ":s:"
}

func (s *Store) sessionKey(id string) string {
	return s.sessionKeyPrefix() + id
}

func (s *Store) indexKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Issue admits a new session, evicting the stalest live sessions when the
// account is at maxConcurrent. The new session is always admitted.
func (s *Store) Issue(ctx context.Context, sess *Session, maxConcurrent int, ttl time.Duration) ([]string, error) {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return nil, errors.New("session id and user id required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}

	res, err := issueScript.Run(ctx, s.redis,
		[]string{s.indexKey(sess.UserID)},
		s.sessionKeyPrefix(),
		sess.ID,
		payload,
		ttl.Milliseconds(),
		maxConcurrent,
		sess.LastActivityAt,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return res, nil
}

// Get returns a live session. Expired and revoked sessions are deleted
// lazily and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session payload", ErrNotFound)
	}

	if !sess.Active(time.Now()) {
		_ = s.redis.Del(ctx, s.sessionKey(sessionID)).Err()
		_ = s.redis.ZRem(ctx, s.indexKey(sess.UserID), sessionID).Err()
		return nil, ErrNotFound
	}

	return &sess, nil
}

// Touch records activity on a session. Touching a missing, expired, or
// revoked session is a silent no-op; activity never extends the lifetime.
func (s *Store) Touch(ctx context.Context, sessionID string, userID string, now time.Time) error {
	err := touchScript.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID), s.indexKey(userID)},
		sessionID,
		now.UnixMilli(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Revoke removes one session. Revoking an unknown session is not an error.
func (s *Store) Revoke(ctx context.Context, sessionID string) (bool, error) {
	raw, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	userID := ""
	if json.Unmarshal(raw, &sess) == nil {
		userID = sess.UserID
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.sessionKey(sessionID))
	if userID != "" {
		pipe.ZRem(ctx, s.indexKey(userID), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return true, nil
}

// RevokeAll removes every session belonging to the user. Returns how many
// stored sessions were deleted.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	members, err := s.redis.ZRange(ctx, s.indexKey(userID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, id := range members {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, s.indexKey(userID))

	deleted, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	n := int(deleted) - 1 // index key
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Active returns the user's live sessions ordered stalest first.
func (s *Store) Active(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	members, err := s.redis.ZRange(ctx, s.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, id := range members {
		keys[i] = s.sessionKey(id)
	}

	raws, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessions := make([]*Session, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var sess Session
		if json.Unmarshal([]byte(str), &sess) != nil {
			continue
		}
		if sess.Active(now) {
			copyOf := sess
			sessions = append(sessions, &copyOf)
		}
	}

	return sessions, nil
}
