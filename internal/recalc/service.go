package recalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	v1 "github.com/cardwatch-lab/cardwatch/internal/api/v1"
	"github.com/cardwatch-lab/cardwatch/internal/aggregation"
	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
	"github.com/cardwatch-lab/cardwatch/internal/core/period"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
)

const (
	defaultBatchSize  = 50
	defaultBatchPause = 200 * time.Millisecond

	// maxRangeDays is a hard operational guard against unbounded scans.
	// Violating it is a validation error, never a silent clamp.
	maxRangeDays = 90

	// failurePercent: the job fails outright when errors reach this share
	// of processed events.
	failurePercent = 10
)

// ErrValidation marks request validation failures rejected at the boundary.
var ErrValidation = errors.New("invalid recalculation request")

// Request describes one recalculation/backfill job.
type Request struct {
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	Granularities []string  `json:"granularities,omitempty"` // empty = all three
	DryRun        bool      `json:"dry_run"`
	ExecutedBy    string    `json:"executed_by"`
}

// ItemError records one failed event without aborting the batch or the job.
type ItemError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Projection is a dry-run's view of one period: the totals the live path
// would produce on an empty store.
type Projection struct {
	Path        string          `json:"path"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalCount  int64           `json:"total_count"`
}

// Result carries full statistics regardless of job outcome.
type Result struct {
	JobID      string    `json:"job_id"`
	DryRun     bool      `json:"dry_run"`
	ExecutedBy string    `json:"executed_by,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`

	Created map[string]int `json:"created"`
	Updated map[string]int `json:"updated"`
	Skipped map[string]int `json:"skipped"`

	Errors []ItemError `json:"errors,omitempty"`

	// Projections is populated on dry runs only, keyed by granularity.
	Projections map[string][]Projection `json:"projections,omitempty"`

	Succeeded bool `json:"succeeded"`
}

// Options tunes batching; zero values fall back to defaults.
type Options struct {
	BatchSize  int
	BatchPause time.Duration
}

func (o Options) normalized() Options {
	n := o
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.BatchPause <= 0 {
		n.BatchPause = defaultBatchPause
	}
	return n
}

// Service rebuilds aggregates for a historical date range by replaying
// stored transactions through the live aggregation path. Because the
// aggregation service skips already-applied transaction ids, re-running a
// window is a safe verification step rather than a double-count.
type Service struct {
	events     storage.TransactionStore
	aggregator *aggregation.Service
	opts       Options
	nowFn      func() time.Time
}

// NewService wires the recalculation service.
func NewService(events storage.TransactionStore, aggregator *aggregation.Service, opts Options) *Service {
	if events == nil {
		panic("recalc: event source must not be nil")
	}
	if aggregator == nil {
		panic("recalc: aggregator must not be nil")
	}
	return &Service{
		events:     events,
		aggregator: aggregator,
		opts:       opts.normalized(),
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Recalculate validates the request, fetches the window's transactions, and
// either projects them (dry run) or replays them in batches. Per-event
// failures are recorded individually; only validation failures, a failed
// bulk query, or cancellation abort the job.
func (s *Service) Recalculate(ctx context.Context, req Request) (*Result, error) {
	granularities, err := validate(req)
	if err != nil {
		return nil, err
	}

	result := &Result{
		JobID:      uuid.New().String(),
		DryRun:     req.DryRun,
		ExecutedBy: req.ExecutedBy,
		StartedAt:  s.nowFn(),
		Created:    zeroCounts(granularities),
		Updated:    zeroCounts(granularities),
		Skipped:    zeroCounts(granularities),
	}

	slog.Info("[Recalc] Starting recalculation job",
		"job_id", result.JobID,
		"start_date", req.StartDate.Format("2006-01-02"),
		"end_date", req.EndDate.Format("2006-01-02"),
		"granularities", granularities,
		"dry_run", req.DryRun,
		"executed_by", req.ExecutedBy)

	// EndDate is an inclusive calendar date — stretch it to the end of its
	// day so late-evening transactions are not dropped from the window.
	queryEnd := req.EndDate.AddDate(0, 0, 1).Add(-time.Nanosecond)
	events, err := s.events.QueryByDateRange(ctx, req.StartDate, queryEnd)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	result.Fetched = len(events)

	if req.DryRun {
		result.Projections = project(events, granularities)
		result.Processed = len(events)
		result.Succeeded = true
		result.FinishedAt = s.nowFn()
		slog.Info("[Recalc] Dry run complete",
			"job_id", result.JobID,
			"fetched", result.Fetched)
		return result, nil
	}

	if err := s.replay(ctx, events, granularities, result); err != nil {
		result.Succeeded = false
		result.FinishedAt = s.nowFn()
		return result, err
	}

	errCount := len(result.Errors)
	result.Succeeded = errCount == 0 || errCount*100 < result.Processed*failurePercent
	result.FinishedAt = s.nowFn()

	slog.Info("[Recalc] Recalculation job complete",
		"job_id", result.JobID,
		"processed", result.Processed,
		"errors", errCount,
		"succeeded", result.Succeeded)
	return result, nil
}

// replay drives events through the aggregation service in fixed-size batches
// with an interruptible pause between batches to bound store load.
func (s *Service) replay(ctx context.Context, events []*v1.Transaction, granularities []string, result *Result) error {
	for batchStart := 0; batchStart < len(events); batchStart += s.opts.BatchSize {
		batchEnd := batchStart + s.opts.BatchSize
		if batchEnd > len(events) {
			batchEnd = len(events)
		}

		for _, tx := range events[batchStart:batchEnd] {
			s.replayOne(ctx, tx, granularities, result)
			result.Processed++
		}

		slog.Info("[Recalc] Batch complete",
			"job_id", result.JobID,
			"processed", result.Processed,
			"total", len(events))

		if batchEnd < len(events) {
			select {
			case <-time.After(s.opts.BatchPause):
			case <-ctx.Done():
				return fmt.Errorf("recalculation interrupted: %w", ctx.Err())
			}
		}
	}
	return nil
}

func (s *Service) replayOne(ctx context.Context, tx *v1.Transaction, granularities []string, result *Result) {
	res, err := s.aggregator.RecordTransactionFor(ctx, tx, granularities)
	if err != nil {
		result.Errors = append(result.Errors, ItemError{
			Path:    "transactions/" + tx.ID,
			Message: err.Error(),
		})
		return
	}

	for _, gr := range []*aggregation.GranularityResult{res.Daily, res.Weekly, res.Monthly} {
		if gr == nil {
			continue
		}
		if gr.Err != nil {
			result.Errors = append(result.Errors, ItemError{
				Path:    period.KeyFor(tx.OccurredAt, gr.Granularity).DocPath(),
				Message: gr.Err.Error(),
				Detail:  "transaction " + tx.ID,
			})
			continue
		}
		switch {
		case gr.Created:
			result.Created[gr.Granularity]++
		case gr.Skipped:
			result.Skipped[gr.Granularity]++
		default:
			result.Updated[gr.Granularity]++
		}
	}
}

// project groups fetched events by resolved period key per granularity and
// sums them in memory — the same grouping the live path would produce on an
// empty store, with zero writes and zero notifications.
func project(events []*v1.Transaction, granularities []string) map[string][]Projection {
	type bucket struct {
		total decimal.Decimal
		count int64
	}

	projections := make(map[string][]Projection, len(granularities))
	for _, granularity := range granularities {
		buckets := make(map[aggregate.Key]*bucket)
		for _, tx := range events {
			key := period.KeyFor(tx.OccurredAt, granularity)
			b, ok := buckets[key]
			if !ok {
				b = &bucket{}
				buckets[key] = b
			}
			b.total = b.total.Add(tx.Amount)
			b.count++
		}

		list := make([]Projection, 0, len(buckets))
		for key, b := range buckets {
			list = append(list, Projection{
				Path:        key.DocPath(),
				TotalAmount: b.total,
				TotalCount:  b.count,
			})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
		projections[granularity] = list
	}
	return projections
}

func validate(req Request) ([]string, error) {
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, fmt.Errorf("%w: start_date and end_date are required", ErrValidation)
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, fmt.Errorf("%w: end_date must not precede start_date", ErrValidation)
	}
	if req.EndDate.Sub(req.StartDate) > maxRangeDays*24*time.Hour {
		return nil, fmt.Errorf("%w: date range exceeds %d days", ErrValidation, maxRangeDays)
	}

	granularities := req.Granularities
	if len(granularities) == 0 {
		granularities = aggregate.Granularities
	}
	seen := make(map[string]bool, len(granularities))
	for _, g := range granularities {
		if !aggregate.ValidGranularity(g) {
			return nil, fmt.Errorf("%w: unknown granularity %q", ErrValidation, g)
		}
		if seen[g] {
			return nil, fmt.Errorf("%w: duplicate granularity %q", ErrValidation, g)
		}
		seen[g] = true
	}
	return granularities, nil
}

func zeroCounts(granularities []string) map[string]int {
	counts := make(map[string]int, len(granularities))
	for _, g := range granularities {
		counts[g] = 0
	}
	return counts
}
