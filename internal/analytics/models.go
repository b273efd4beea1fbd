package analytics

import (
	"strconv"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatEvent is one message turn as it travels through the event log.
// Immutable once published; event_id is the idempotency key.
type ChatEvent struct {
	EventID        string
	SessionID      string
	APIKey         string
	CompanyName    string
	Role           string
	Content        string
	Timestamp      time.Time
	ResponseTimeMS *float64
}

// StreamFields flattens the event into the string map stored in the stream.
func (e ChatEvent) StreamFields() map[string]any {
	fields := map[string]any{
		"event_id":     e.EventID,
		"session_id":   e.SessionID,
		"api_key":      e.APIKey,
		"company_name": e.CompanyName,
		"role":         e.Role,
		"content":      e.Content,
		"timestamp":    e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.ResponseTimeMS != nil {
		fields["response_time_ms"] = strconv.FormatFloat(*e.ResponseTimeMS, 'f', -1, 64)
	}
	return fields
}

// EventFromStream rebuilds a ChatEvent from raw stream fields. A missing or
// unparsable timestamp falls back to zero time; the consumer treats an empty
// event_id as malformed.
func EventFromStream(fields map[string]string) ChatEvent {
	e := ChatEvent{
		EventID:     fields["event_id"],
		SessionID:   fields["session_id"],
		APIKey:      fields["api_key"],
		CompanyName: fields["company_name"],
		Role:        fields["role"],
		Content:     fields["content"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["timestamp"]); err == nil {
		e.Timestamp = ts
	}
	if raw, ok := fields["response_time_ms"]; ok && raw != "" {
		if ms, err := strconv.ParseFloat(raw, 64); err == nil {
			e.ResponseTimeMS = &ms
		}
	}
	return e
}

// EventDocument is the durable per-event record the consumer materializes.
// The unique index on event_id makes redelivered entries a no-op.
type EventDocument struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	EventID        string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"event_id"`
	SessionID      string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	APIKey         string    `gorm:"type:varchar(100);not null;index:idx_chat_events_tenant_ts,priority:1" json:"api_key"`
	CompanyName    string    `gorm:"type:varchar(255)" json:"company_name"`
	Role           string    `gorm:"type:varchar(16);index;not null" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	Timestamp      time.Time `gorm:"index:idx_chat_events_tenant_ts,priority:2" json:"timestamp"`
	ResponseTimeMS *float64  `json:"response_time_ms,omitempty"`
	ProcessedAt    time.Time `json:"processed_at"`
}

func (EventDocument) TableName() string { return "chat_events" }

// CounterSnapshot is a point-in-time read of one tenant's ephemeral counters.
// The read is not isolated from concurrent publishers; see the rollup job.
type CounterSnapshot struct {
	TotalMessages     int64
	UserMessages      int64
	AssistantMessages int64
	TotalSessions     int64
	RatingsSum        int64
	RatingsCount      int64
	ResponseTimeSum   float64 // seconds
	AvgResponseTime   float64 // seconds
	LastMessageAt     string
}

func (s CounterSnapshot) IsZero() bool {
	return s.TotalMessages == 0 && s.TotalSessions == 0 &&
		s.RatingsCount == 0 && s.ResponseTimeSum == 0
}

// AvgRating returns the mean rating, or 0 when no ratings were submitted.
func (s CounterSnapshot) AvgRating() float64 {
	if s.RatingsCount == 0 {
		return 0
	}
	return float64(s.RatingsSum) / float64(s.RatingsCount)
}

// DailyAnalytics is one immutable row per (tenant, date).
type DailyAnalytics struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	APIKey            string    `gorm:"type:varchar(100);not null;index:uniq_daily_tenant_date,unique,priority:1" json:"api_key"`
	Date              time.Time `gorm:"type:date;not null;index:uniq_daily_tenant_date,unique,priority:2" json:"date"`
	CompanyName       string    `gorm:"type:varchar(255);not null" json:"company_name"`
	TotalMessages     int64     `json:"total_messages"`
	UserMessages      int64     `json:"user_messages"`
	AssistantMessages int64     `json:"assistant_messages"`
	TotalSessions     int64     `json:"total_sessions"`
	RatingsSum        int64     `json:"daily_ratings_sum"`
	RatingsCount      int64     `json:"daily_ratings_count"`
	AvgRating         float64   `json:"daily_avg_rating"`
	AvgResponseTime   float64   `json:"daily_avg_response_time"`
	ResponseTimeSum   float64   `json:"daily_response_time_sum"`
	CreatedAt         time.Time `json:"-"`
}

func (DailyAnalytics) TableName() string { return "daily_analytics" }

// TotalAnalytics is the cumulative row per tenant, only ever incremented.
type TotalAnalytics struct {
	APIKey            string    `gorm:"type:varchar(100);primaryKey" json:"api_key"`
	CompanyName       string    `gorm:"type:varchar(255);index;not null" json:"company_name"`
	TotalMessages     int64     `json:"total_messages"`
	UserMessages      int64     `gorm:"column:total_user_messages" json:"total_user_messages"`
	AssistantMessages int64     `gorm:"column:total_assistant_messages" json:"total_assistant_messages"`
	TotalSessions     int64     `json:"total_sessions"`
	RatingsSum        int64     `gorm:"column:total_ratings_sum" json:"total_ratings_sum"`
	RatingsCount      int64     `gorm:"column:total_ratings_count" json:"total_ratings_count"`
	ResponseTimeSum   float64   `gorm:"column:total_response_time_sum" json:"total_response_time_sum"`
	LastUpdated       time.Time `gorm:"type:date;index" json:"last_updated"`
}

func (TotalAnalytics) TableName() string { return "total_analytics" }

// RollupReport summarizes one daily run. Failures are per tenant; one bad
// tenant never aborts the rest of the run.
type RollupReport struct {
	Date     time.Time
	RolledUp []string
	Skipped  []string // already rolled up for this date
	Failures []RollupFailure
}

type RollupFailure struct {
	APIKey string
	Err    error
}

func (r RollupReport) OK() bool { return len(r.Failures) == 0 }
