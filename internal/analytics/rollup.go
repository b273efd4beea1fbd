package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/velonix/chatlytics/internal/tenant"
)

// CounterReader is the rollup's view of the counter store: a non-atomic
// multi-key snapshot and a reset.
type CounterReader interface {
	CounterSnapshot(ctx context.Context, apiKey string) (CounterSnapshot, error)
	ResetCounters(ctx context.Context, apiKey string) error
}

type TenantSource interface {
	ListActive(ctx context.Context) ([]tenant.Tenant, error)
}

// Rollup folds each tenant's ephemeral counters into the durable daily and
// cumulative tables, then resets the counters.
//
// The snapshot read and the reset are not isolated from concurrent
// publishers: a message arriving between them is lost from both the daily
// record and the reset baseline. This is an accepted eventual-consistency
// gap, not a bug; see the lost-update test.
type Rollup struct {
	tenants  TenantSource
	counters CounterReader
	repo     *Repo
}

func NewRollup(tenants TenantSource, counters CounterReader, repo *Repo) *Rollup {
	return &Rollup{tenants: tenants, counters: counters, repo: repo}
}

// RunDaily rolls up every active tenant for the given day. Tenant failures
// are isolated: they are reported and the run moves on. Each tenant commits
// in its own relational transaction; there is no cross-tenant transaction.
// Re-running the same day is a no-op per tenant already rolled up.
func (j *Rollup) RunDaily(ctx context.Context, today time.Time) (*RollupReport, error) {
	today = DateOnly(today)
	report := &RollupReport{Date: today}

	tenants, err := j.tenants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	log.Printf("rollup: starting date=%s tenants=%d", today.Format("2006-01-02"), len(tenants))

	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		inserted, err := j.rollupTenant(ctx, t, today)
		switch {
		case err != nil:
			log.Printf("rollup: tenant %s failed: %v", t.APIKey, err)
			report.Failures = append(report.Failures, RollupFailure{APIKey: t.APIKey, Err: err})
		case inserted:
			report.RolledUp = append(report.RolledUp, t.APIKey)
		default:
			log.Printf("rollup: tenant %s already rolled up for %s", t.APIKey, today.Format("2006-01-02"))
			report.Skipped = append(report.Skipped, t.APIKey)
		}
	}

	log.Printf("rollup: finished date=%s ok=%d skipped=%d failed=%d",
		today.Format("2006-01-02"), len(report.RolledUp), len(report.Skipped), len(report.Failures))
	return report, nil
}

func (j *Rollup) rollupTenant(ctx context.Context, t tenant.Tenant, today time.Time) (bool, error) {
	snap, err := j.counters.CounterSnapshot(ctx, t.APIKey)
	if err != nil {
		return false, fmt.Errorf("snapshot: %w", err)
	}

	daily := &DailyAnalytics{
		APIKey:            t.APIKey,
		Date:              today,
		CompanyName:       t.CompanyName,
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

	inserted, err := j.repo.RollupTenant(ctx, daily, snap)
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	if !inserted {
		// Already rolled up for this day: leave counters untouched, the
		// durable rows already carry them.
		return false, nil
	}

	// Reset only after the relational transaction durably committed.
	if err := j.counters.ResetCounters(ctx, t.APIKey); err != nil {
		// The durable rows are in place but counters survived; the next run
		// for a later date would count them again. Surface it loudly.
		return false, fmt.Errorf("reset counters after commit: %w", err)
	}
	return true, nil
}
