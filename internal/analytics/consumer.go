package analytics

import (
	"context"
	"errors"
	"log"
	"time"
)

// Entry is one raw event-log record as delivered to a consumer group.
type Entry struct {
	ID     string
	Fields map[string]string
}

// PendingEntry is a reclaimed record together with how many times it has
// already been delivered.
type PendingEntry struct {
	Entry
	RetryCount int64
}

// StreamGroup is the consumer-group view of the event log: group-cursor
// reads, acknowledgment, and reclaim of entries a dead consumer left pending.
type StreamGroup interface {
	// EnsureGroup creates the consumer group if missing; an already-existing
	// group is success, not an error.
	EnsureGroup(ctx context.Context) error
	// Fetch blocks up to the given timeout for new, never-delivered entries.
	Fetch(ctx context.Context, consumer string, count int64, block time.Duration) ([]Entry, error)
	// Reclaim transfers entries pending longer than minIdle to this consumer.
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]PendingEntry, error)
	Ack(ctx context.Context, ids ...string) error
}

// DocumentStore persists events durably; the upsert is idempotent on event_id.
type DocumentStore interface {
	UpsertEvent(ctx context.Context, doc *EventDocument) (bool, error)
}

var errMalformedEvent = errors.New("malformed event: missing event_id")

// Consumer drains the event log into the document store. Multiple instances
// may run under the same group; the log delivers each entry to exactly one
// live instance, redelivering after a crash (at-least-once).
type Consumer struct {
	stream        StreamGroup
	docs          DocumentStore
	name          string
	batchSize     int64
	blockTimeout  time.Duration
	reclaimIdle   time.Duration
	maxDeliveries int64

	lastReclaim time.Time
}

func NewConsumer(stream StreamGroup, docs DocumentStore, name string, batchSize int64, blockTimeout, reclaimIdle time.Duration, maxDeliveries int64) *Consumer {
	if batchSize <= 0 {
		batchSize = 10
	}
	if blockTimeout <= 0 {
		blockTimeout = 2 * time.Second
	}
	if reclaimIdle <= 0 {
		reclaimIdle = time.Minute
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &Consumer{
		stream:        stream,
		docs:          docs,
		name:          name,
		batchSize:     batchSize,
		blockTimeout:  blockTimeout,
		reclaimIdle:   reclaimIdle,
		maxDeliveries: maxDeliveries,
	}
}

// Run loops until ctx is canceled. Persistence failures leave entries
// unacknowledged so the log redelivers them; a single bad record never
// crashes the loop.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.EnsureGroup(ctx); err != nil {
		return err
	}
	log.Printf("consumer %s started", c.name)

	for {
		select {
		case <-ctx.Done():
			log.Printf("consumer %s shutting down", c.name)
			return nil
		default:
		}

		c.reclaimStale(ctx)

		entries, err := c.stream.Fetch(ctx, c.name, c.batchSize, c.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("consumer %s shutting down", c.name)
				return nil
			}
			log.Printf("consumer %s fetch error: %v", c.name, err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				// Unprocessed entries stay pending and will be reclaimed.
				break
			}
			if err := c.process(ctx, entry); err != nil {
				log.Printf("consumer %s entry %s failed: %v", c.name, entry.ID, err)
			}
		}
	}
}

// reclaimStale picks up entries a crashed consumer left pending. Entries
// delivered too many times are logged and skipped so a poison record cannot
// wedge the group.
func (c *Consumer) reclaimStale(ctx context.Context) {
	if time.Since(c.lastReclaim) < c.reclaimIdle {
		return
	}
	c.lastReclaim = time.Now()

	pending, err := c.stream.Reclaim(ctx, c.name, c.reclaimIdle, c.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("consumer %s reclaim error: %v", c.name, err)
		}
		return
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		if p.RetryCount >= c.maxDeliveries {
			log.Printf("consumer %s skipping entry %s after %d deliveries fields=%v",
				c.name, p.ID, p.RetryCount, p.Fields)
			if err := c.stream.Ack(ctx, p.ID); err != nil {
				log.Printf("consumer %s ack skip failed entry=%s err=%v", c.name, p.ID, err)
			}
			continue
		}
		if err := c.process(ctx, p.Entry); err != nil {
			log.Printf("consumer %s reclaimed entry %s failed: %v", c.name, p.ID, err)
		}
	}
}

// process maps the entry to a document, upserts it, and acknowledges on
// success. Duplicate event_ids count as success (redelivery is expected).
func (c *Consumer) process(ctx context.Context, entry Entry) error {
	event := EventFromStream(entry.Fields)
	if event.EventID == "" {
		return errMalformedEvent
	}

	doc := &EventDocument{
		EventID:        event.EventID,
		SessionID:      event.SessionID,
		APIKey:         event.APIKey,
		CompanyName:    event.CompanyName,
		Role:           event.Role,
		Content:        event.Content,
		Timestamp:      event.Timestamp,
		ResponseTimeMS: event.ResponseTimeMS,
		ProcessedAt:    time.Now().UTC(),
	}

	if _, err := c.docs.UpsertEvent(ctx, doc); err != nil {
		return err
	}
	return c.stream.Ack(ctx, entry.ID)
}
