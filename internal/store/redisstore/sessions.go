package redisstore

import (
	"context"
	"time"
)

// TouchSession refreshes the session hash and its membership in the tenant's
// active-session set, resetting both TTLs. All writes go through one
// pipeline so a turn is applied as a unit.
func (s *Store) TouchSession(ctx context.Context, sessionID, apiKey, companyName string, ttl time.Duration) error {
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, sessionKey(sessionID), map[string]any{
		"api_key":       apiKey,
		"company_name":  companyName,
		"last_activity": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.HIncrBy(ctx, sessionKey(sessionID), "total_messages", 1)
	pipe.Expire(ctx, sessionKey(sessionID), ttl)

	pipe.SAdd(ctx, activeKey(apiKey), sessionID)
	pipe.Expire(ctx, activeKey(apiKey), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// SessionActive reports whether the session key still exists; expiry is the
// only way a session ends.
func (s *Store) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ActiveSessionCount(ctx context.Context, apiKey string) (int64, error) {
	return s.rdb.SCard(ctx, activeKey(apiKey)).Result()
}

// GetSession returns the raw session hash for dashboard reads; an empty map
// means the session expired.
func (s *Store) GetSession(ctx context.Context, sessionID string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
}
