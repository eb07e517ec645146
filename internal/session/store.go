package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every failure talking to redis.
var ErrRedisUnavailable = errors.New("session: redis unavailable")

const (
	userKeyPrefix      = "user:"
	blacklistKeyPrefix = "blacklist:"
)

// deleteOtherScript removes every device entry whose refresh token differs from ARGV[1].
const deleteOtherScript = `
local fields = redis.call("HGETALL", KEYS[1])
local removed = 0
for i = 1, #fields, 2 do
  if fields[i + 1] ~= ARGV[1] then
    redis.call("HDEL", KEYS[1], fields[i])
    removed = removed + 1
  end
end
return removed
`

var deleteOtherLua = redis.NewScript(deleteOtherScript)

// Store keeps one refresh token per (user, user agent) in the hash
// "user:{id}" and banned access tokens under "blacklist:{token}".
type Store struct {
	rdb redis.UniversalClient
}

func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

func userKey(userID string) string           { return userKeyPrefix + userID }
func blacklistKey(accessToken string) string { return blacklistKeyPrefix + accessToken }

// AddSession records the refresh token for a device and resets the expiry of
// the whole user hash to ttl. A previous token for the same device is replaced.
func (s *Store) AddSession(ctx context.Context, userID, userAgent, refreshToken string, ttl time.Duration) error {
	key := userKey(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, userAgent, refreshToken)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: add session: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SessionToken returns the refresh token stored for a device.
func (s *Store) SessionToken(ctx context.Context, userID, userAgent string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, userKey(userID), userAgent).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get session: %v", ErrRedisUnavailable, err)
	}
	return v, true, nil
}

// Sessions returns every device of a user mapped to its refresh token.
func (s *Store) Sessions(ctx context.Context, userID string) (map[string]string, error) {
	all, err := s.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrRedisUnavailable, err)
	}
	return all, nil
}

// DeleteSession forgets one device.
func (s *Store) DeleteSession(ctx context.Context, userID, userAgent string) error {
	if err := s.rdb.HDel(ctx, userKey(userID), userAgent).Err(); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteUser forgets every device of a user.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: delete user: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteOtherSessions removes every device whose refresh token is not
// keepToken and returns how many were removed.
func (s *Store) DeleteOtherSessions(ctx context.Context, userID, keepToken string) (int64, error) {
	n, err := deleteOtherLua.Run(ctx, s.rdb, []string{userKey(userID)}, keepToken).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: delete other sessions: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// Ban blacklists an access token for ttl. Tokens with no remaining lifetime
// are already unusable and are not stored.
func (s *Store) Ban(ctx context.Context, accessToken string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.rdb.SetEx(ctx, blacklistKey(accessToken), "true", ttl).Err(); err != nil {
		return fmt.Errorf("%w: ban token: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsBanned reports whether an access token is blacklisted.
func (s *Store) IsBanned(ctx context.Context, accessToken string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blacklistKey(accessToken)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check ban: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}
