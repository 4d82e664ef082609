package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
	"github.com/cardwatch-lab/cardwatch/internal/core/period"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
	"github.com/cardwatch-lab/cardwatch/internal/notify"
)

const updatedBy = "schedule-service"

// Skip reasons reported in attempt results.
const (
	SkipNoAggregate = "no aggregate for period"
	SkipAlreadySent = "summary already sent"
	SkipPeriodOpen  = "period not closed"
)

// Attempt is the outcome of one granularity's summary attempt.
type Attempt struct {
	Granularity string
	Path        string
	Sent        bool
	Skipped     bool
	SkipReason  string
	Err         error
}

// Report is the combined outcome of one daily schedule run.
type Report struct {
	Target  time.Time // the closed day being reported on, midnight JST
	Daily   Attempt
	Weekly  Attempt
	Monthly Attempt
}

// Errors returns the failures across the three attempts.
func (r *Report) Errors() []error {
	var errs []error
	for _, a := range []Attempt{r.Daily, r.Weekly, r.Monthly} {
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Granularity, a.Err))
		}
	}
	return errs
}

// Succeeded reports whether no attempt failed. Skips are not failures.
func (r *Report) Succeeded() bool {
	return len(r.Errors()) == 0
}

// Service decides which final summaries are due and sends each exactly once.
// It only ever reads aggregates and flips their summary-sent flag; totals are
// the aggregation service's business.
type Service struct {
	store    storage.AggregateStore
	notifier notify.Notifier
}

// NewService wires the scheduling service.
func NewService(store storage.AggregateStore, notifier notify.Notifier) *Service {
	if store == nil {
		panic("schedule: store must not be nil")
	}
	if notifier == nil {
		panic("schedule: notifier must not be nil")
	}
	return &Service{store: store, notifier: notifier}
}

// RunDailySchedule closes out "yesterday" relative to asOf: the daily summary
// is always attempted; weekly and monthly only when yesterday was the last
// day of its term or month. The three attempts are independent — a failure
// in one never blocks the others.
func (s *Service) RunDailySchedule(ctx context.Context, asOf time.Time) *Report {
	yesterday := period.Resolve(asOf).Date.AddDate(0, 0, -1)
	info := period.Resolve(yesterday)

	report := &Report{Target: info.Date}

	report.Daily = s.attempt(ctx, info.DailyKey, true)
	report.Weekly = s.attempt(ctx, info.WeeklyKey, info.IsLastDayOfTerm)
	report.Monthly = s.attempt(ctx, info.MonthlyKey, info.IsLastDayOfMonth)

	slog.Info("[Schedule] Daily schedule run complete",
		"target", info.Date.Format("2006-01-02"),
		"daily_sent", report.Daily.Sent,
		"weekly_sent", report.Weekly.Sent,
		"monthly_sent", report.Monthly.Sent,
		"errors", len(report.Errors()))
	return report
}

// attempt sends one final summary when the period is closed, the aggregate
// exists, and the summary has not gone out yet. Not-found and already-sent
// are silent skips, not errors.
func (s *Service) attempt(ctx context.Context, key aggregate.Key, periodClosed bool) Attempt {
	a := Attempt{Granularity: key.Granularity, Path: key.DocPath()}

	if !periodClosed {
		a.Skipped = true
		a.SkipReason = SkipPeriodOpen
		return a
	}

	agg, err := s.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		// No transactions in the period — nothing to report.
		a.Skipped = true
		a.SkipReason = SkipNoAggregate
		return a
	}
	if err != nil {
		a.Err = fmt.Errorf("load aggregate %s: %w", key.DocPath(), err)
		s.reportError(ctx, a.Err, key)
		return a
	}

	if agg.SummarySent {
		a.Skipped = true
		a.SkipReason = SkipAlreadySent
		return a
	}

	summary := notify.Summary{
		Kind:        notify.KindFinalReport,
		Granularity: key.Granularity,
		PeriodStart: agg.PeriodStart,
		PeriodEnd:   agg.PeriodEnd,
		TotalAmount: agg.TotalAmount,
		TotalCount:  agg.TotalCount,
	}

	switch key.Granularity {
	case aggregate.GranularityDaily:
		err = s.notifier.NotifyDaily(ctx, summary)
	case aggregate.GranularityWeekly:
		err = s.notifier.NotifyWeekly(ctx, summary)
	case aggregate.GranularityMonthly:
		err = s.notifier.NotifyMonthly(ctx, summary)
	}
	if err != nil {
		// Flag stays unset so the next run retries the summary.
		a.Err = fmt.Errorf("send %s summary: %w", key.Granularity, err)
		s.reportError(ctx, a.Err, key)
		return a
	}

	if err := s.store.MarkNotified(ctx, key, aggregate.Flags{Summary: true}, updatedBy); err != nil {
		a.Err = fmt.Errorf("mark summary sent %s: %w", key.DocPath(), err)
		s.reportError(ctx, a.Err, key)
		return a
	}

	a.Sent = true
	slog.Info("[Schedule] Final summary sent",
		"granularity", key.Granularity,
		"path", key.DocPath(),
		"total_amount", agg.TotalAmount,
		"total_count", agg.TotalCount)
	return a
}

func (s *Service) reportError(ctx context.Context, cause error, key aggregate.Key) {
	details := map[string]string{
		"granularity": key.Granularity,
		"path":        key.DocPath(),
	}
	if err := s.notifier.NotifyError(ctx, cause, details); err != nil {
		slog.Error("[Schedule] Error notification failed", "error", err)
	}
}
