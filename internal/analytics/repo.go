package analytics

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTotalsNotFound = errors.New("totals row not found")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// DateOnly normalizes a timestamp to its UTC calendar day, the granularity
// of the daily_analytics unique index.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// UpsertEvent inserts the document unless its event_id already exists.
// Redelivered stream entries therefore collapse to a single row.
func (r *Repo) UpsertEvent(ctx context.Context, doc *EventDocument) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(doc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// EnsureTotals seeds a zeroed cumulative row for the tenant if absent.
func (r *Repo) EnsureTotals(ctx context.Context, apiKey, companyName string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TotalAnalytics{
			APIKey:      apiKey,
			CompanyName: companyName,
			LastUpdated: DateOnly(time.Now()),
		}).Error
}

// RollupTenant commits one tenant's daily snapshot in a single transaction:
// insert the daily row, then add the same deltas onto the cumulative row.
// If the daily row for (tenant, date) already exists the whole call is a
// no-op and inserted is false — re-running a day never double counts.
func (r *Repo) RollupTenant(ctx context.Context, daily *DailyAnalytics, snap CounterSnapshot) (inserted bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		daily.Date = DateOnly(daily.Date)

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "api_key"}, {Name: "date"}},
			DoNothing: true,
		}).Create(daily)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Duplicate run for this (tenant, date).
			return nil
		}
		inserted = true

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&TotalAnalytics{
				APIKey:      daily.APIKey,
				CompanyName: daily.CompanyName,
				LastUpdated: daily.Date,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&TotalAnalytics{}).
			Where("api_key = ?", daily.APIKey).
			Updates(map[string]any{
				"total_messages":           gorm.Expr("total_messages + ?", snap.TotalMessages),
				"total_user_messages":      gorm.Expr("total_user_messages + ?", snap.UserMessages),
				"total_assistant_messages": gorm.Expr("total_assistant_messages + ?", snap.AssistantMessages),
				"total_sessions":           gorm.Expr("total_sessions + ?", snap.TotalSessions),
				"total_ratings_sum":        gorm.Expr("total_ratings_sum + ?", snap.RatingsSum),
				"total_ratings_count":      gorm.Expr("total_ratings_count + ?", snap.RatingsCount),
				"total_response_time_sum":  gorm.Expr("total_response_time_sum + ?", snap.ResponseTimeSum),
				"last_updated":             daily.Date,
			}).Error
	})
	return inserted, err
}

func (r *Repo) GetTotals(ctx context.Context, apiKey string) (*TotalAnalytics, error) {
	var t TotalAnalytics
	if err := r.db.WithContext(ctx).
		Where("api_key = ?", apiKey).
		First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTotalsNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *Repo) GetDaily(ctx context.Context, apiKey string, date time.Time) (*DailyAnalytics, error) {
	var d DailyAnalytics
	if err := r.db.WithContext(ctx).
		Where("api_key = ? AND date = ?", apiKey, DateOnly(date)).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// CountEvents counts stored documents for a tenant, optionally filtered by
// role, over the half-open window [from, to).
func (r *Repo) CountEvents(ctx context.Context, apiKey, role string, from, to time.Time) (int64, error) {
	q := r.db.WithContext(ctx).Model(&EventDocument{}).
		Where("api_key = ? AND timestamp >= ? AND timestamp < ?", apiKey, from, to)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

func (r *Repo) ListEvents(ctx context.Context, apiKey string, from, to time.Time, limit int) ([]EventDocument, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var docs []EventDocument
	err := r.db.WithContext(ctx).
		Where("api_key = ? AND timestamp >= ? AND timestamp < ?", apiKey, from, to).
		Order("timestamp ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

// Overview aggregates across all tenants for the admin dashboard.
type Overview struct {
	TotalEvents       int64   `json:"total_messages"`
	ActiveTenants     int64   `json:"active_chatbots"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
}

func (r *Repo) GetOverview(ctx context.Context) (*Overview, error) {
	var o Overview

	if err := r.db.WithContext(ctx).Model(&EventDocument{}).
		Count(&o.TotalEvents).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Model(&EventDocument{}).
		Distinct("api_key").
		Count(&o.ActiveTenants).Error; err != nil {
		return nil, err
	}

	var avg *float64
	if err := r.db.WithContext(ctx).Model(&EventDocument{}).
		Select("AVG(response_time_ms)").
		Where("response_time_ms IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg != nil {
		o.AvgResponseTimeMS = *avg
	}
	return &o, nil
}
