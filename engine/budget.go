package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/weftworks/weft/engine/store"
)

// CostEstimate is the result of a pre-flight budget check for a set of
// nodes about to run.
type CostEstimate struct {
	// TotalEstimated is the sum of all per-node estimates.
	TotalEstimated float64 `json:"totalEstimated"`

	// Breakdown maps node id to its estimated cost.
	Breakdown map[string]float64 `json:"breakdown"`

	// WithinBudget is true only when the total passes both the
	// per-execution limit and the remaining daily allowance.
	WithinBudget bool `json:"withinBudget"`

	// Reason names the first violated limit when WithinBudget is false.
	Reason string `json:"reason,omitempty"`
}

// BudgetGuard answers "can I afford this run" questions and accumulates
// actual spend as executions finish.
//
// The guard is advisory: the engine records real cost but never refuses a
// run on its own, because the true cost of a node depends on inputs the
// estimate cannot see. Callers are expected to check Estimate before
// dispatching expensive work and honor the denial.
type BudgetGuard struct {
	store store.Store
	now   func() time.Time
}

// NewBudgetGuard creates a guard backed by the given store.
func NewBudgetGuard(st store.Store) *BudgetGuard {
	return &BudgetGuard{store: st, now: time.Now}
}

// Estimate sums the per-node cost estimates and checks the total against
// both configured limits:
//
//  1. total vs the per-execution limit
//  2. today's spend + total vs the daily limit
//
// Reason reports the first check that failed. estimates maps node id to
// the handler's estimated cost for that node's params; nodes without an
// entry count as zero cost.
func (g *BudgetGuard) Estimate(ctx context.Context, nodeIDs []string, estimates map[string]float64) (*CostEstimate, error) {
	breakdown := make(map[string]float64, len(nodeIDs))
	total := 0.0
	for _, id := range nodeIDs {
		cost := estimates[id]
		breakdown[id] = cost
		total += cost
	}

	cfg, err := g.store.GetBudget(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	spent, err := g.store.GetDailySpend(ctx, utcDateKey(g.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to load daily spend: %w", err)
	}

	est := &CostEstimate{
		TotalEstimated: total,
		Breakdown:      breakdown,
	}
	switch {
	case total > cfg.PerExecutionLimit:
		est.Reason = fmt.Sprintf("estimated cost $%.2f exceeds per-execution limit $%.2f", total, cfg.PerExecutionLimit)
	case spent+total > cfg.DailyLimit:
		est.Reason = fmt.Sprintf("estimated cost $%.2f would exceed daily limit $%.2f with $%.2f already spent today", total, cfg.DailyLimit, spent)
	default:
		est.WithinBudget = true
	}
	return est, nil
}

// RecordSpend adds the actual cost of a finished execution to today's
// total and returns the new total. Zero-cost executions are not written.
func (g *BudgetGuard) RecordSpend(ctx context.Context, amount float64) (float64, error) {
	if amount <= 0 {
		return g.store.GetDailySpend(ctx, utcDateKey(g.now()))
	}
	return g.store.AddDailySpend(ctx, utcDateKey(g.now()), amount)
}

// GetBudget returns the configured limits.
func (g *BudgetGuard) GetBudget(ctx context.Context) (store.BudgetConfig, error) {
	return g.store.GetBudget(ctx)
}

// SetBudget saves new limits.
func (g *BudgetGuard) SetBudget(ctx context.Context, cfg store.BudgetConfig) error {
	return g.store.SetBudget(ctx, cfg)
}

// GetDailySpend returns today's accumulated spend.
func (g *BudgetGuard) GetDailySpend(ctx context.Context) (float64, error) {
	return g.store.GetDailySpend(ctx, utcDateKey(g.now()))
}

// utcDateKey renders the daily-spend bucket key. Days roll over at UTC
// midnight so the bucket does not depend on the machine's timezone.
func utcDateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
