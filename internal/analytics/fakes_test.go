package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/velonix/chatlytics/internal/tenant"
)

// fakeLog records appends and can fail the first N of them.
type fakeLog struct {
	mu       sync.Mutex
	failNext int
	attempts int
	events   []ChatEvent
}

func (f *fakeLog) Append(ctx context.Context, event ChatEvent) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failNext > 0 {
		f.failNext--
		return errors.New("append refused")
	}
	f.events = append(f.events, event)
	return nil
}

type tenantCounters struct {
	total, user, assistant int64
	sessions               int64
	ratingsSum, ratingsCnt int64
	responseTimeSum        float64 // seconds
	lastMessageAt          string
}

// fakeCounters emulates the per-tenant counter hashes with key-level
// atomicity (every mutation holds the lock, mirroring HINCRBY semantics).
type fakeCounters struct {
	mu           sync.Mutex
	tenants      map[string]*tenantCounters
	incrErr      error
	snapErr      map[string]error
	snapshotHook func(apiKey string) // runs between snapshot read and return
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{tenants: map[string]*tenantCounters{}}
}

func (f *fakeCounters) get(apiKey string) *tenantCounters {
	tc, ok := f.tenants[apiKey]
	if !ok {
		tc = &tenantCounters{}
		f.tenants[apiKey] = tc
	}
	return tc
}

func (f *fakeCounters) IncrMessageCounters(ctx context.Context, apiKey, role string, responseTimeMS *float64) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return f.incrErr
	}
	tc := f.get(apiKey)
	tc.total++
	switch role {
	case RoleUser:
		tc.user++
	case RoleAssistant:
		tc.assistant++
		if responseTimeMS != nil {
			tc.responseTimeSum += *responseTimeMS / 1000
		}
	}
	tc.lastMessageAt = time.Now().UTC().Format(time.RFC3339)
	return nil
}

func (f *fakeCounters) IncrSessionCount(ctx context.Context, apiKey string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(apiKey).sessions++
	return nil
}

func (f *fakeCounters) AddRating(apiKey string, value int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tc := f.get(apiKey)
	tc.ratingsSum += value
	tc.ratingsCnt++
}

func (f *fakeCounters) CounterSnapshot(ctx context.Context, apiKey string) (CounterSnapshot, error) {
	_ = ctx
	f.mu.Lock()
	if err := f.snapErr[apiKey]; err != nil {
		f.mu.Unlock()
		return CounterSnapshot{}, err
	}
	tc := f.get(apiKey)
	snap := CounterSnapshot{
		TotalMessages:     tc.total,
		UserMessages:      tc.user,
		AssistantMessages: tc.assistant,
		TotalSessions:     tc.sessions,
		RatingsSum:        tc.ratingsSum,
		RatingsCount:      tc.ratingsCnt,
		ResponseTimeSum:   tc.responseTimeSum,
		LastMessageAt:     tc.lastMessageAt,
	}
	if tc.assistant > 0 {
		snap.AvgResponseTime = tc.responseTimeSum / float64(tc.assistant)
	}
	hook := f.snapshotHook
	f.mu.Unlock()

	if hook != nil {
		hook(apiKey)
	}
	return snap, nil
}

func (f *fakeCounters) ResetCounters(ctx context.Context, apiKey string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tenants, apiKey)
	return nil
}

type fakeSession struct {
	apiKey      string
	companyName string
	messages    int64
	expiresAt   time.Time
}

// fakeSessionStore models the sliding-TTL session keys against a manual
// clock, so tests can let sessions expire without sleeping.
type fakeSessionStore struct {
	mu        sync.Mutex
	now       time.Time
	counters  *fakeCounters
	sessions  map[string]*fakeSession
	active    map[string]map[string]bool
	activeTTL map[string]time.Time
}

func newFakeSessionStore(counters *fakeCounters) *fakeSessionStore {
	return &fakeSessionStore{
		now:       time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC),
		counters:  counters,
		sessions:  map[string]*fakeSession{},
		active:    map[string]map[string]bool{},
		activeTTL: map[string]time.Time{},
	}
}

func (f *fakeSessionStore) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeSessionStore) TouchSession(ctx context.Context, sessionID, apiKey, companyName string, ttl time.Duration) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || !s.expiresAt.After(f.now) {
		s = &fakeSession{}
		f.sessions[sessionID] = s
	}
	s.apiKey = apiKey
	s.companyName = companyName
	s.messages++
	s.expiresAt = f.now.Add(ttl)

	set, ok := f.active[apiKey]
	if !ok || !f.activeTTL[apiKey].After(f.now) {
		set = map[string]bool{}
		f.active[apiKey] = set
	}
	set[sessionID] = true
	f.activeTTL[apiKey] = f.now.Add(ttl)
	return nil
}

func (f *fakeSessionStore) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	return ok && s.expiresAt.After(f.now), nil
}

func (f *fakeSessionStore) ActiveSessionCount(ctx context.Context, apiKey string) (int64, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.activeTTL[apiKey].After(f.now) {
		return 0, nil
	}
	return int64(len(f.active[apiKey])), nil
}

func (f *fakeSessionStore) IncrSessionCount(ctx context.Context, apiKey string) error {
	return f.counters.IncrSessionCount(ctx, apiKey)
}

func (f *fakeSessionStore) totalMessages(sessionID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		return s.messages
	}
	return 0
}

// fakeStream serves a fixed queue of entries and tracks acknowledgments.
type fakeStream struct {
	mu        sync.Mutex
	queue     []Entry
	pending   []PendingEntry
	acked     []string
	groupInit int
	onDrained func() // called when a fetch finds the queue empty
}

func (f *fakeStream) EnsureGroup(ctx context.Context) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupInit++
	return nil
}

func (f *fakeStream) Fetch(ctx context.Context, consumer string, count int64, block time.Duration) ([]Entry, error) {
	_, _, _ = ctx, consumer, block
	f.mu.Lock()
	if len(f.queue) == 0 {
		drained := f.onDrained
		f.mu.Unlock()
		if drained != nil {
			drained()
		}
		return nil, nil
	}
	n := int(count)
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := f.queue[:n]
	f.queue = f.queue[n:]
	f.mu.Unlock()
	return batch, nil
}

func (f *fakeStream) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]PendingEntry, error) {
	_, _, _, _ = ctx, consumer, minIdle, count
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeStream) Ack(ctx context.Context, ids ...string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

// fakeDocs is an in-memory document store keyed by event_id.
type fakeDocs struct {
	mu      sync.Mutex
	docs    map[string]*EventDocument
	failFor map[string]error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string]*EventDocument{}, failFor: map[string]error{}}
}

func (f *fakeDocs) UpsertEvent(ctx context.Context, doc *EventDocument) (bool, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[doc.EventID]; err != nil {
		return false, err
	}
	if _, ok := f.docs[doc.EventID]; ok {
		return false, nil
	}
	f.docs[doc.EventID] = doc
	return true, nil
}

func (f *fakeDocs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func testTenants(apiKeys ...string) []tenant.Tenant {
	out := make([]tenant.Tenant, 0, len(apiKeys))
	for _, key := range apiKeys {
		out = append(out, tenant.Tenant{APIKey: key, CompanyName: "Acme " + key, Status: "active"})
	}
	return out
}

type fakeTenantSource struct {
	tenants []tenant.Tenant
	err     error
}

func (f *fakeTenantSource) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	_ = ctx
	if f.err != nil {
		return nil, f.err
	}
	return f.tenants, nil
}
