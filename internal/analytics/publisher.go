package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// EventLog is the append side of the event stream.
type EventLog interface {
	Append(ctx context.Context, event ChatEvent) error
}

// MessageCounters is the counter-store surface the publisher needs. The
// implementation must be atomic per field (HINCRBY-style), never
// read-modify-write.
type MessageCounters interface {
	IncrMessageCounters(ctx context.Context, apiKey, role string, responseTimeMS *float64) error
}

// Publisher appends chat events to the event log and opportunistically bumps
// the tenant's ephemeral counters. It is telemetry: callers on the chat path
// must treat failures as best-effort, never as authoritative state.
type Publisher struct {
	events   EventLog
	counters MessageCounters
	retries  int
	backoff  time.Duration
}

func NewPublisher(events EventLog, counters MessageCounters, retries int, backoff time.Duration) *Publisher {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return &Publisher{events: events, counters: counters, retries: retries, backoff: backoff}
}

// PublishInput carries one message turn. ResponseTimeMS is set on assistant
// turns only.
type PublishInput struct {
	SessionID      string
	APIKey         string
	CompanyName    string
	Role           string
	Content        string
	ResponseTimeMS *float64
}

// Publish appends the event with bounded retry, then updates counters.
// Counter updates are fire-and-forget relative to log durability: the two
// paths are only loosely consistent, and a counter failure is logged but
// never surfaced to the chat path.
func (p *Publisher) Publish(ctx context.Context, in PublishInput) (ChatEvent, error) {
	event := ChatEvent{
		EventID:        uuid.NewString(),
		SessionID:      in.SessionID,
		APIKey:         in.APIKey,
		CompanyName:    in.CompanyName,
		Role:           in.Role,
		Content:        in.Content,
		Timestamp:      time.Now().UTC(),
		ResponseTimeMS: in.ResponseTimeMS,
	}

	if err := p.appendWithRetry(ctx, event); err != nil {
		return ChatEvent{}, fmt.Errorf("publish event %s: %w", event.EventID, err)
	}

	if err := p.counters.IncrMessageCounters(ctx, in.APIKey, in.Role, in.ResponseTimeMS); err != nil {
		log.Printf("publisher: counter update failed tenant=%s err=%v", in.APIKey, err)
	}

	return event, nil
}

func (p *Publisher) appendWithRetry(ctx context.Context, event ChatEvent) error {
	var lastErr error
	delay := p.backoff

	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if lastErr = p.events.Append(ctx, event); lastErr == nil {
			return nil
		}
		log.Printf("publisher: append failed attempt=%d err=%v", attempt+1, lastErr)
	}

	// Retries exhausted. The event is dropped.
	return lastErr
}
