package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cast"

	"purchase_gateway/internal/apperrors"
	"purchase_gateway/internal/models"
	"purchase_gateway/internal/services"
)

const (
	defaultStaleMinutes   = 15
	defaultSweepLimit     = 100
	defaultReconcileLimit = 50
)

// SweepPendingPurchasesTask re-verifies purchases stuck in PENDING, for callbacks that
// never arrived or gateway responses that were lost.
type SweepPendingPurchasesTask struct {
	purchases  *services.PurchaseService
	store      *services.PurchaseStore
	businesses *services.BusinessStore
}

// TaskID returns the unique identifier for this task
func (t *SweepPendingPurchasesTask) TaskID() string {
	return "sweep_pending_purchases"
}

// HandleExecution verifies every PENDING purchase older than older_than_minutes
func (t *SweepPendingPurchasesTask) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	olderThan := cast.ToInt(task.Arguments["older_than_minutes"])
	if olderThan <= 0 {
		olderThan = defaultStaleMinutes
	}
	limit := cast.ToInt(task.Arguments["limit"])
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	cutoff := time.Now().Add(-time.Duration(olderThan) * time.Minute)
	stale, err := t.store.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}

	counts := map[models.PurchaseStatus]int{}
	var ledgerFailed, errored int
	lookup := newBusinessLookup(t.businesses)

	for i := range stale {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p := &stale[i]
		if p.Authority == nil {
			continue
		}

		business, err := lookup.get(ctx, p.BusinessName)
		if err != nil {
			slog.Error("Sweep could not resolve business", "business", p.BusinessName, "purchase_id", p.ID, "error", err)
			errored++
			continue
		}

		verified, err := t.purchases.Verify(ctx, business, p.ID, services.StatusFlagOK, *p.Authority)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrLedgerPostFailed):
			ledgerFailed++
		default:
			slog.Warn("Sweep could not verify purchase", "purchase_id", p.ID, "error", err)
			errored++
			continue
		}
		counts[verified.Status]++
	}

	return map[string]interface{}{
		"status":        "success",
		"checked":       len(stale),
		"settled":       counts[models.PurchaseStatusSuccess],
		"failed":        counts[models.PurchaseStatusFailed],
		"still_pending": counts[models.PurchaseStatusPending] + errored,
		"ledger_failed": ledgerFailed,
	}, nil
}

// ReconcileLedgerPostsTask re-submits settled purchases whose latest ledger post failed.
// Operators schedule it; nothing in the request path does.
type ReconcileLedgerPostsTask struct {
	purchases  *services.PurchaseService
	store      *services.PurchaseStore
	businesses *services.BusinessStore
}

// TaskID returns the unique identifier for this task
func (t *ReconcileLedgerPostsTask) TaskID() string {
	return "reconcile_ledger_posts"
}

// HandleExecution reposts up to limit failed ledger submissions
func (t *ReconcileLedgerPostsTask) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	limit := cast.ToInt(task.Arguments["limit"])
	if limit <= 0 {
		limit = defaultReconcileLimit
	}

	posts, err := t.store.ListUnreconciledLedgerPosts(ctx, limit)
	if err != nil {
		return nil, err
	}

	var reposted, failed int
	lookup := newBusinessLookup(t.businesses)
	for i := range posts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		post := &posts[i]

		business, err := lookup.get(ctx, post.BusinessName)
		if err != nil {
			slog.Error("Reconcile could not resolve business", "business", post.BusinessName, "purchase_id", post.PurchaseID, "error", err)
			failed++
			continue
		}
		if _, err := t.purchases.RepostLedger(ctx, business, post); err != nil {
			failed++
			continue
		}
		reposted++
	}

	slog.Info("Ledger reconciliation finished", "pending", len(posts), "reposted", reposted, "failed", failed)
	return map[string]interface{}{
		"status":   "success",
		"pending":  len(posts),
		"reposted": reposted,
		"failed":   failed,
	}, nil
}

// businessLookup memoizes business lookups for one task run
type businessLookup struct {
	businesses *services.BusinessStore
	seen       map[string]*models.Business
}

func newBusinessLookup(businesses *services.BusinessStore) *businessLookup {
	return &businessLookup{businesses: businesses, seen: map[string]*models.Business{}}
}

func (l *businessLookup) get(ctx context.Context, name string) (*models.Business, error) {
	if b, ok := l.seen[name]; ok {
		return b, nil
	}
	b, err := l.businesses.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load business %q: %w", name, err)
	}
	l.seen[name] = b
	return b, nil
}
