package analytics

import (
	"context"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&EventDocument{}, &DailyAnalytics{}, &TotalAnalytics{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func docAt(eventID, apiKey, role string, ts time.Time, rtMS *float64) *EventDocument {
	return &EventDocument{
		EventID:        eventID,
		SessionID:      "sess-" + eventID,
		APIKey:         apiKey,
		CompanyName:    "Acme",
		Role:           role,
		Content:        "hi",
		Timestamp:      ts,
		ResponseTimeMS: rtMS,
		ProcessedAt:    ts,
	}
}

func TestUpsertEvent_DuplicateEventIDIsNoOp(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	ts := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	inserted, err := repo.UpsertEvent(ctx, docAt("up-ev-1", "cb_upsert", RoleUser, ts, nil))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !inserted {
		t.Fatalf("first upsert must insert")
	}

	inserted, err = repo.UpsertEvent(ctx, docAt("up-ev-1", "cb_upsert", RoleUser, ts, nil))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Fatalf("redelivered event must not insert a second row")
	}

	n, err := repo.CountEvents(ctx, "cb_upsert", "", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stored row, got %d", n)
	}
}

func TestRollupTenant_InsertsDailyAndIncrementsTotals(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	snap := CounterSnapshot{
		TotalMessages:     10,
		UserMessages:      6,
		AssistantMessages: 4,
		TotalSessions:     2,
		RatingsSum:        12,
		RatingsCount:      3,
		ResponseTimeSum:   2.0,
		AvgResponseTime:   0.5,
	}
	daily := &DailyAnalytics{
		APIKey:            "cb_roll",
		Date:              day,
		CompanyName:       "Acme",
		TotalMessages:     snap.TotalMessages,
		UserMessages:      snap.UserMessages,
		AssistantMessages: snap.AssistantMessages,
		TotalSessions:     snap.TotalSessions,
		RatingsSum:        snap.RatingsSum,
		RatingsCount:      snap.RatingsCount,
		AvgRating:         snap.AvgRating(),
		AvgResponseTime:   snap.AvgResponseTime,
		ResponseTimeSum:   snap.ResponseTimeSum,
	}

	inserted, err := repo.RollupTenant(ctx, daily, snap)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if !inserted {
		t.Fatalf("first rollup for the day must insert")
	}

	got, err := repo.GetDaily(ctx, "cb_roll", day)
	if err != nil {
		t.Fatalf("get daily: %v", err)
	}
	if got.TotalMessages != 10 || got.AvgRating != 4.0 {
		t.Fatalf("daily row mismatch: messages=%d avg_rating=%v", got.TotalMessages, got.AvgRating)
	}

	totals, err := repo.GetTotals(ctx, "cb_roll")
	if err != nil {
		t.Fatalf("get totals: %v", err)
	}
	if totals.TotalMessages != 10 || totals.RatingsSum != 12 || totals.RatingsCount != 3 {
		t.Fatalf("totals mismatch: %+v", totals)
	}

	// Same day again: must not insert and must not double-count.
	inserted, err = repo.RollupTenant(ctx, daily, snap)
	if err != nil {
		t.Fatalf("rollup rerun: %v", err)
	}
	if inserted {
		t.Fatalf("rerun for the same day must be a no-op")
	}
	totals, err = repo.GetTotals(ctx, "cb_roll")
	if err != nil {
		t.Fatalf("get totals after rerun: %v", err)
	}
	if totals.TotalMessages != 10 {
		t.Fatalf("totals double-counted: %d", totals.TotalMessages)
	}

	// A later day accumulates on top.
	daily2 := *daily
	daily2.ID = 0
	daily2.Date = day.AddDate(0, 0, 1)
	inserted, err = repo.RollupTenant(ctx, &daily2, snap)
	if err != nil {
		t.Fatalf("rollup next day: %v", err)
	}
	if !inserted {
		t.Fatalf("next day must insert")
	}
	totals, err = repo.GetTotals(ctx, "cb_roll")
	if err != nil {
		t.Fatalf("get totals next day: %v", err)
	}
	if totals.TotalMessages != 20 || totals.TotalSessions != 4 {
		t.Fatalf("totals after two days mismatch: %+v", totals)
	}
}

func TestGetTotals_MissingTenant(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	if _, err := repo.GetTotals(context.Background(), "cb_missing"); err != ErrTotalsNotFound {
		t.Fatalf("expected ErrTotalsNotFound, got %v", err)
	}
}

func TestCountEvents_WindowAndRoleFilter(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	rt := 400.0
	seed := []*EventDocument{
		docAt("cnt-1", "cb_count", RoleUser, base.Add(1*time.Hour), nil),
		docAt("cnt-2", "cb_count", RoleAssistant, base.Add(2*time.Hour), &rt),
		docAt("cnt-3", "cb_count", RoleUser, base.Add(26*time.Hour), nil), // next day
		docAt("cnt-4", "cb_other", RoleUser, base.Add(1*time.Hour), nil),
	}
	for _, doc := range seed {
		if _, err := repo.UpsertEvent(ctx, doc); err != nil {
			t.Fatalf("seed %s: %v", doc.EventID, err)
		}
	}

	day := base.AddDate(0, 0, 1)
	n, err := repo.CountEvents(ctx, "cb_count", "", base, day)
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events in window, got %d", n)
	}

	n, err = repo.CountEvents(ctx, "cb_count", RoleUser, base, day)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 user event in window, got %d", n)
	}

	// to is exclusive: an event exactly at the boundary is next day's.
	n, err = repo.CountEvents(ctx, "cb_count", "", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("count next day: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event next day, got %d", n)
	}
}

func TestListEvents_OrderedWithinWindow(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"ls-3", "ls-1", "ls-2"} {
		offset := []time.Duration{3 * time.Hour, 1 * time.Hour, 2 * time.Hour}[i]
		if _, err := repo.UpsertEvent(ctx, docAt(id, "cb_list", RoleUser, base.Add(offset), nil)); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	docs, err := repo.ListEvents(ctx, "cb_list", base, base.AddDate(0, 0, 1), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(docs))
	}
	for i, want := range []string{"ls-1", "ls-2", "ls-3"} {
		if docs[i].EventID != want {
			t.Fatalf("position %d: want %s got %s", i, want, docs[i].EventID)
		}
	}
}

func TestGetOverview_AggregatesAcrossTenants(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	ts := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	rt1, rt2 := 300.0, 500.0
	seed := []*EventDocument{
		docAt("ov-1", "cb_ov_a", RoleUser, ts, nil),
		docAt("ov-2", "cb_ov_a", RoleAssistant, ts, &rt1),
		docAt("ov-3", "cb_ov_b", RoleAssistant, ts, &rt2),
	}
	for _, doc := range seed {
		if _, err := repo.UpsertEvent(ctx, doc); err != nil {
			t.Fatalf("seed %s: %v", doc.EventID, err)
		}
	}

	o, err := repo.GetOverview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if o.TotalEvents < 3 {
		t.Fatalf("expected at least 3 events, got %d", o.TotalEvents)
	}
	if o.ActiveTenants < 2 {
		t.Fatalf("expected at least 2 tenants, got %d", o.ActiveTenants)
	}
	if o.AvgResponseTimeMS <= 0 {
		t.Fatalf("expected a positive average response time, got %v", o.AvgResponseTimeMS)
	}
}
