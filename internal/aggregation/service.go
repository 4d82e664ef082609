package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/cardwatch-lab/cardwatch/internal/api/v1"
	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
	"github.com/cardwatch-lab/cardwatch/internal/core/period"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
	"github.com/cardwatch-lab/cardwatch/internal/core/threshold"
	"github.com/cardwatch-lab/cardwatch/internal/notify"
)

// casRetries bounds the read-modify-write retry loop on version conflicts
// and create races. Contention on a single period key is low, so losing
// three races in a row means something is genuinely wrong.
const casRetries = 3

const updatedBy = "aggregation-service"

// Service rolls one transaction into its daily, weekly, and monthly
// aggregates and runs the threshold alerting state machine for the two
// granularities that alert.
type Service struct {
	store    storage.AggregateStore
	notifier notify.Notifier
	policy   threshold.Policy
	nowFn    func() time.Time
}

// NewService wires the aggregation service. All dependencies are required.
func NewService(store storage.AggregateStore, notifier notify.Notifier, policy threshold.Policy) *Service {
	if store == nil {
		panic("aggregation: store must not be nil")
	}
	if notifier == nil {
		panic("aggregation: notifier must not be nil")
	}
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("aggregation: invalid threshold policy: %v", err))
	}
	return &Service{
		store:    store,
		notifier: notifier,
		policy:   policy,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// GranularityResult is the outcome of folding one transaction into one
// granularity's aggregate.
type GranularityResult struct {
	Granularity string
	Path        string
	Aggregate   *aggregate.Aggregate

	// Created is true when this transaction opened a brand-new period.
	Created bool

	// Skipped is true when the transaction id was already present in the
	// aggregate's document set (replay or retry) and nothing changed.
	Skipped bool

	// NotifiedLevels lists threshold levels announced by this call.
	NotifiedLevels []int

	// Err is the granularity's failure, if any. A failure in one
	// granularity never blocks the other two.
	Err error

	// NotifyErr records a failed alert delivery. The totals update is
	// already durable when this is set; delivery failure is non-fatal.
	NotifyErr error
}

// Result is the combined outcome of recording one transaction.
type Result struct {
	Daily   *GranularityResult
	Weekly  *GranularityResult
	Monthly *GranularityResult
}

// Errors returns the per-granularity failures, if any.
func (r *Result) Errors() []error {
	var errs []error
	for _, gr := range r.results() {
		if gr != nil && gr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", gr.Granularity, gr.Err))
		}
	}
	return errs
}

// Succeeded reports whether every attempted granularity was persisted.
func (r *Result) Succeeded() bool {
	return len(r.Errors()) == 0
}

func (r *Result) results() []*GranularityResult {
	return []*GranularityResult{r.Daily, r.Weekly, r.Monthly}
}

func (r *Result) set(gr *GranularityResult) {
	switch gr.Granularity {
	case aggregate.GranularityDaily:
		r.Daily = gr
	case aggregate.GranularityWeekly:
		r.Weekly = gr
	case aggregate.GranularityMonthly:
		r.Monthly = gr
	}
}

// RecordTransaction folds one transaction into all three granularities.
// Each granularity is an independent unit of work: a store failure in one is
// captured in its result and reported to the error channel, while the others
// proceed. The returned error is reserved for invalid input.
func (s *Service) RecordTransaction(ctx context.Context, tx *v1.Transaction) (*Result, error) {
	return s.RecordTransactionFor(ctx, tx, aggregate.Granularities)
}

// RecordTransactionFor folds one transaction into a subset of granularities.
// Used by recalculation jobs that rebuild only the requested granularities.
func (s *Service) RecordTransactionFor(ctx context.Context, tx *v1.Transaction, granularities []string) (*Result, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	result := &Result{}
	for _, granularity := range granularities {
		gr := s.apply(ctx, tx, granularity)
		result.set(gr)

		if gr.Err != nil {
			slog.Error("[Aggregation] Granularity update failed",
				"granularity", granularity,
				"transaction_id", tx.ID,
				"error", gr.Err)
			s.reportError(ctx, gr.Err, tx, granularity)
		}
	}
	return result, nil
}

// apply runs the load-fold-persist cycle for one granularity, retrying on
// create races and version conflicts.
func (s *Service) apply(ctx context.Context, tx *v1.Transaction, granularity string) *GranularityResult {
	gr := &GranularityResult{Granularity: granularity}
	key := period.KeyFor(tx.OccurredAt, granularity)

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		existing, err := s.store.Get(ctx, key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			created, path, createErr := s.createFromEvent(ctx, tx, key)
			if errors.Is(createErr, storage.ErrDuplicate) {
				// A concurrent writer opened the period first; fold into it.
				lastErr = createErr
				continue
			}
			if createErr != nil {
				gr.Err = createErr
				return gr
			}
			gr.Aggregate = created
			gr.Path = path
			gr.Created = true
			s.evaluateThresholds(ctx, gr, decimal.Zero)
			return gr

		case err != nil:
			gr.Err = fmt.Errorf("load aggregate %s: %w", key.DocPath(), err)
			return gr
		}

		if existing.Contains(tx.ID) {
			// Already folded in — replays and retries are no-ops.
			slog.Info("[Aggregation] Transaction already applied, skipping",
				"transaction_id", tx.ID,
				"path", key.DocPath())
			gr.Aggregate = existing
			gr.Path = key.DocPath()
			gr.Skipped = true
			return gr
		}

		previousTotal := existing.TotalAmount
		updated, path, err := s.foldAndUpdate(ctx, tx, existing)
		if errors.Is(err, storage.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			gr.Err = err
			return gr
		}

		gr.Aggregate = updated
		gr.Path = path
		s.evaluateThresholds(ctx, gr, previousTotal)
		return gr
	}

	gr.Err = fmt.Errorf("update aggregate %s: retries exhausted: %w", key.DocPath(), lastErr)
	return gr
}

// createFromEvent opens a new period with the event already folded in.
func (s *Service) createFromEvent(ctx context.Context, tx *v1.Transaction, key aggregate.Key) (*aggregate.Aggregate, string, error) {
	start, end := period.Bounds(tx.OccurredAt, key.Granularity)

	agg := &aggregate.Aggregate{
		Key:           key,
		TotalAmount:   tx.Amount,
		TotalCount:    1,
		DocumentIDs:   []string{tx.ID},
		PeriodStart:   start,
		PeriodEnd:     end,
		LastUpdated:   s.nowFn(),
		LastUpdatedBy: updatedBy,
	}

	path, err := s.store.Create(ctx, agg)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("create aggregate %s: %w", key.DocPath(), err)
	}

	slog.Info("[Aggregation] Opened new period",
		"path", path,
		"transaction_id", tx.ID,
		"amount", tx.Amount)
	return agg, path, nil
}

// foldAndUpdate applies the event to an existing aggregate and persists the
// new totals under the aggregate's current version.
func (s *Service) foldAndUpdate(ctx context.Context, tx *v1.Transaction, existing *aggregate.Aggregate) (*aggregate.Aggregate, string, error) {
	newTotal := existing.TotalAmount.Add(tx.Amount)
	newCount := existing.TotalCount + 1
	docIDs := append(append([]string{}, existing.DocumentIDs...), tx.ID)
	now := s.nowFn()

	patch := aggregate.Patch{
		TotalAmount:   &newTotal,
		TotalCount:    &newCount,
		DocumentIDs:   docIDs,
		LastUpdated:   now,
		LastUpdatedBy: updatedBy,
	}

	path, err := s.store.Update(ctx, existing.Key, patch, existing.Version)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("update aggregate %s: %w", existing.Key.DocPath(), err)
	}

	updated := *existing
	updated.TotalAmount = newTotal
	updated.TotalCount = newCount
	updated.DocumentIDs = docIDs
	updated.Version = existing.Version + 1
	updated.LastUpdated = now
	updated.LastUpdatedBy = updatedBy
	return &updated, path, nil
}

// evaluateThresholds runs the alerting state machine after a durable totals
// write. Weekly and monthly only; daily tracks totals and nothing else.
// All newly-crossed levels go out in a single combined notification, and the
// flags are persisted only after delivery succeeds, so a failed delivery is
// re-attempted when the next event arrives.
func (s *Service) evaluateThresholds(ctx context.Context, gr *GranularityResult, previousTotal decimal.Decimal) {
	agg := gr.Aggregate
	crossed := s.policy.Evaluate(gr.Granularity, agg.TotalAmount, agg)
	if len(crossed) == 0 {
		return
	}

	summary := notify.Summary{
		Kind:          notify.KindThresholdAlert,
		Granularity:   gr.Granularity,
		PeriodStart:   agg.PeriodStart,
		PeriodEnd:     agg.PeriodEnd,
		TotalAmount:   agg.TotalAmount,
		TotalCount:    agg.TotalCount,
		CrossedLevels: crossed,
	}

	var notifyErr error
	switch gr.Granularity {
	case aggregate.GranularityWeekly:
		notifyErr = s.notifier.NotifyWeekly(ctx, summary)
	case aggregate.GranularityMonthly:
		notifyErr = s.notifier.NotifyMonthly(ctx, summary)
	}
	if notifyErr != nil {
		gr.NotifyErr = notifyErr
		slog.Error("[Aggregation] Threshold alert delivery failed",
			"granularity", gr.Granularity,
			"path", agg.Key.DocPath(),
			"levels", crossed,
			"error", notifyErr)
		s.reportNotifyError(ctx, notifyErr, gr)
		return
	}

	flags := aggregate.Flags{}
	for _, level := range crossed {
		switch level {
		case 1:
			flags.Level1 = true
			agg.NotifiedLevel1 = true
		case 2:
			flags.Level2 = true
			agg.NotifiedLevel2 = true
		case 3:
			flags.Level3 = true
			agg.NotifiedLevel3 = true
		}
	}

	if err := s.store.MarkNotified(ctx, agg.Key, flags, updatedBy); err != nil {
		// The alert went out but the flags did not stick; the next event may
		// announce the same levels again. Surfaced, not fatal.
		gr.NotifyErr = fmt.Errorf("persist alert flags %s: %w", agg.Key.DocPath(), err)
		slog.Error("[Aggregation] Failed to persist alert flags",
			"path", agg.Key.DocPath(),
			"levels", crossed,
			"error", err)
		s.reportNotifyError(ctx, gr.NotifyErr, gr)
		return
	}

	gr.NotifiedLevels = crossed
	slog.Info("[Aggregation] Threshold alert sent",
		"granularity", gr.Granularity,
		"path", agg.Key.DocPath(),
		"levels", crossed,
		"previous_total", previousTotal,
		"new_total", agg.TotalAmount)
}

func (s *Service) reportError(ctx context.Context, cause error, tx *v1.Transaction, granularity string) {
	details := map[string]string{
		"granularity":    granularity,
		"transaction_id": tx.ID,
		"path":           period.KeyFor(tx.OccurredAt, granularity).DocPath(),
	}
	if err := s.notifier.NotifyError(ctx, cause, details); err != nil {
		slog.Error("[Aggregation] Error notification failed", "error", err)
	}
}

func (s *Service) reportNotifyError(ctx context.Context, cause error, gr *GranularityResult) {
	details := map[string]string{
		"granularity": gr.Granularity,
		"path":        gr.Aggregate.Key.DocPath(),
	}
	if err := s.notifier.NotifyError(ctx, cause, details); err != nil {
		slog.Error("[Aggregation] Error notification failed", "error", err)
	}
}
