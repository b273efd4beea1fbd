package analytics

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionStore holds per-conversation ephemeral state with a sliding TTL.
// Absence of the key after expiry is the only termination signal.
type SessionStore interface {
	TouchSession(ctx context.Context, sessionID, apiKey, companyName string, ttl time.Duration) error
	SessionActive(ctx context.Context, sessionID string) (bool, error)
	ActiveSessionCount(ctx context.Context, apiKey string) (int64, error)
	IncrSessionCount(ctx context.Context, apiKey string) error
}

type Tracker struct {
	store SessionStore
	ttl   time.Duration
}

func NewTracker(store SessionStore, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Tracker{store: store, ttl: ttl}
}

func NewSessionID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Ensure returns the session id to use for a request. When the caller has no
// id yet, a fresh non-guessable one is generated and the tenant's session
// counter is incremented — creation is the only time that happens, so
// total_sessions never decreases.
func (t *Tracker) Ensure(ctx context.Context, sessionID, apiKey string) (string, bool, error) {
	if sessionID != "" {
		return sessionID, false, nil
	}
	id, err := NewSessionID()
	if err != nil {
		return "", false, err
	}
	if err := t.store.IncrSessionCount(ctx, apiKey); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Touch refreshes last activity, bumps the session's message counter, and
// resets the expiry window on both the session hash and the tenant's
// active-session set.
func (t *Tracker) Touch(ctx context.Context, sessionID, apiKey, companyName string) error {
	return t.store.TouchSession(ctx, sessionID, apiKey, companyName, t.ttl)
}

func (t *Tracker) IsActive(ctx context.Context, sessionID string) (bool, error) {
	return t.store.SessionActive(ctx, sessionID)
}

// ActiveCount is an O(1) read of the tenant's active-session set. It is an
// approximation bounded by the TTL window.
func (t *Tracker) ActiveCount(ctx context.Context, apiKey string) (int64, error) {
	return t.store.ActiveSessionCount(ctx, apiKey)
}

func (t *Tracker) TTL() time.Duration { return t.ttl }
