package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velonix/chatlytics/internal/analytics"
)

// Store wraps the Redis client behind the operations the pipeline needs:
// the event stream, the per-tenant counter hashes, and session state.
// Shared counters are only ever touched through Redis' own atomic commands.
type Store struct {
	rdb    *redis.Client
	stream string
	group  string
}

func New(addr, password string, db int, stream, group string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb, stream: stream, group: group}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func statsKey(apiKey string) string    { return "stats:" + apiKey }
func ratingsKey(apiKey string) string  { return "ratings:" + apiKey }
func responseKey(apiKey string) string { return "response_stats:" + apiKey }
func sessionKey(id string) string      { return "session:" + id }
func activeKey(apiKey string) string   { return "active_sessions:" + apiKey }
func ratedKey(sessionID string) string { return "rated:" + sessionID }

// IncrMessageCounters bumps the tenant's message counters for one turn.
// Assistant turns with a response time also grow the running time sum and
// refresh the stored average (sum / assistant count).
func (s *Store) IncrMessageCounters(ctx context.Context, apiKey, role string, responseTimeMS *float64) error {
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, statsKey(apiKey), "total_messages", 1)
	switch role {
	case analytics.RoleUser:
		pipe.HIncrBy(ctx, statsKey(apiKey), "total_user_messages", 1)
	case analytics.RoleAssistant:
		pipe.HIncrBy(ctx, statsKey(apiKey), "total_assistant_messages", 1)
	}
	pipe.HSet(ctx, statsKey(apiKey), "last_message_at", time.Now().UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if role != analytics.RoleAssistant || responseTimeMS == nil {
		return nil
	}

	if err := s.rdb.HIncrByFloat(ctx, responseKey(apiKey), "total_time", *responseTimeMS/1000).Err(); err != nil {
		return err
	}

	// Recompute the stored average. The read-then-set is not atomic; the
	// value is a display aid, the sums are authoritative.
	totalTime, _ := s.rdb.HGet(ctx, responseKey(apiKey), "total_time").Float64()
	assistantCount, _ := s.rdb.HGet(ctx, statsKey(apiKey), "total_assistant_messages").Int64()
	if assistantCount > 0 {
		avg := totalTime / float64(assistantCount)
		return s.rdb.HSet(ctx, responseKey(apiKey), "avg", strconv.FormatFloat(avg, 'f', -1, 64)).Err()
	}
	return nil
}

// IncrSessionCount adds one to total_sessions; called exactly once per
// session, at creation.
func (s *Store) IncrSessionCount(ctx context.Context, apiKey string) error {
	return s.rdb.HIncrBy(ctx, statsKey(apiKey), "total_sessions", 1).Err()
}

// AddRating records one 1–5 rating and marks the session as having rated,
// so the widget can stop asking.
func (s *Store) AddRating(ctx context.Context, apiKey, sessionID string, value int, ttl time.Duration) error {
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, ratingsKey(apiKey), "count", 1)
	pipe.HIncrBy(ctx, ratingsKey(apiKey), "sum", int64(value))
	if sessionID != "" {
		pipe.Set(ctx, ratedKey(sessionID), "1", ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) HasRated(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, ratedKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CounterSnapshot reads the tenant's counter hashes. The three HGETALLs are
// not one atomic read; the rollup job documents the race this implies.
func (s *Store) CounterSnapshot(ctx context.Context, apiKey string) (analytics.CounterSnapshot, error) {
	var snap analytics.CounterSnapshot

	stats, err := s.rdb.HGetAll(ctx, statsKey(apiKey)).Result()
	if err != nil {
		return snap, err
	}
	ratings, err := s.rdb.HGetAll(ctx, ratingsKey(apiKey)).Result()
	if err != nil {
		return snap, err
	}
	response, err := s.rdb.HGetAll(ctx, responseKey(apiKey)).Result()
	if err != nil {
		return snap, err
	}

	snap.TotalMessages = parseInt(stats["total_messages"])
	snap.UserMessages = parseInt(stats["total_user_messages"])
	snap.AssistantMessages = parseInt(stats["total_assistant_messages"])
	snap.TotalSessions = parseInt(stats["total_sessions"])
	snap.LastMessageAt = stats["last_message_at"]
	snap.RatingsSum = parseInt(ratings["sum"])
	snap.RatingsCount = parseInt(ratings["count"])
	snap.ResponseTimeSum = parseFloat(response["total_time"])
	snap.AvgResponseTime = parseFloat(response["avg"])
	return snap, nil
}

// ResetCounters deletes the tenant's statistics keys. Session keys are left
// alone; live conversations keep their state.
func (s *Store) ResetCounters(ctx context.Context, apiKey string) error {
	return s.rdb.Del(ctx, statsKey(apiKey), ratingsKey(apiKey), responseKey(apiKey)).Err()
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
