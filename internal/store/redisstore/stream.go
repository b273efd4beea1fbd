package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velonix/chatlytics/internal/analytics"
)

// Append adds the event to the stream. XADD is the single durability point
// of the publish path.
func (s *Store) Append(ctx context.Context, event analytics.ChatEvent) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: event.StreamFields(),
	}).Err()
}

// EnsureGroup creates the consumer group at the stream head, creating the
// stream itself if needed. An already-existing group is success.
func (s *Store) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// Fetch blocks up to the timeout for entries never delivered to the group.
func (s *Store) Fetch(ctx context.Context, consumer string, count int64, block time.Duration) ([]analytics.Entry, error) {
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entries []analytics.Entry
	for _, st := range streams {
		for _, msg := range st.Messages {
			entries = append(entries, analytics.Entry{
				ID:     msg.ID,
				Fields: stringFields(msg.Values),
			})
		}
	}
	return entries, nil
}

// Reclaim transfers entries that have been pending longer than minIdle to
// this consumer, carrying their delivery counts for the skip policy.
func (s *Store) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]analytics.PendingEntry, error) {
	pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	retries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		retries[p.ID] = p.RetryCount
	}

	claimed, err := s.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]analytics.PendingEntry, 0, len(claimed))
	for _, msg := range claimed {
		out = append(out, analytics.PendingEntry{
			Entry: analytics.Entry{
				ID:     msg.ID,
				Fields: stringFields(msg.Values),
			},
			RetryCount: retries[msg.ID],
		})
	}
	return out, nil
}

func (s *Store) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.rdb.XAck(ctx, s.stream, s.group, ids...).Err()
}

func stringFields(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch t := v.(type) {
		case string:
			fields[k] = t
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}
