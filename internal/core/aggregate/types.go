package aggregate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Supported aggregate granularities. Fixed set — the engine rolls every
// transaction into exactly these three buckets.
const (
	GranularityDaily   = "daily"
	GranularityWeekly  = "weekly"
	GranularityMonthly = "monthly"
)

// Granularities lists all granularities in rollup order.
var Granularities = []string{GranularityDaily, GranularityWeekly, GranularityMonthly}

// ValidGranularity reports whether g names a supported granularity.
func ValidGranularity(g string) bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	}
	return false
}

// Key uniquely identifies one period aggregate document.
// Seq is the day of month for daily, the term number (1..5) for weekly,
// and 0 for monthly.
type Key struct {
	Granularity string
	Year        int
	Month       int
	Seq         int
}

// DocPath returns the logical document path for this key.
// One document per period key; the store addresses aggregates by this path.
func (k Key) DocPath() string {
	switch k.Granularity {
	case GranularityDaily:
		return fmt.Sprintf("aggregates/%04d/%02d/daily/%02d", k.Year, k.Month, k.Seq)
	case GranularityWeekly:
		return fmt.Sprintf("aggregates/%04d/%02d/weekly/term%d", k.Year, k.Month, k.Seq)
	default:
		return fmt.Sprintf("aggregates/%04d/%02d/monthly", k.Year, k.Month)
	}
}

// Aggregate is the rolled-up state of one daily, weekly, or monthly bucket.
//
// TotalAmount is always the sum of the amounts of exactly the transactions in
// DocumentIDs, and TotalCount is its length. DocumentIDs is treated as a set
// keyed by transaction id: folding in an id that is already present is a
// no-op, which makes retries and recalculation replays idempotent.
type Aggregate struct {
	Key Key

	TotalAmount decimal.Decimal
	TotalCount  int64
	DocumentIDs []string

	// Inclusive period window, computed once at creation.
	PeriodStart time.Time
	PeriodEnd   time.Time

	// Threshold-crossing alert flags (weekly/monthly only; always false for
	// daily). Monotonic: once true, never reset, even if refunds later pull
	// the total back under the threshold.
	NotifiedLevel1 bool
	NotifiedLevel2 bool
	NotifiedLevel3 bool

	// SummarySent marks the once-only final summary for a closed period.
	// Daily aggregates use only this flag.
	SummarySent bool

	// Version guards totals updates: the store only applies an update when
	// the caller's expected version matches, and bumps it on every write.
	Version int64

	LastUpdated   time.Time
	LastUpdatedBy string
}

// Contains reports whether the transaction id has already been folded in.
func (a *Aggregate) Contains(id string) bool {
	for _, existing := range a.DocumentIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// NotifiedLevel reports the alert flag for a threshold level (1..3).
func (a *Aggregate) NotifiedLevel(level int) bool {
	switch level {
	case 1:
		return a.NotifiedLevel1
	case 2:
		return a.NotifiedLevel2
	case 3:
		return a.NotifiedLevel3
	}
	return false
}

// Patch is a partial totals update. Nil fields are left untouched by the
// store. Flags are never part of a Patch — they go through Flags, whose
// writes are monotonic and need no version check.
type Patch struct {
	TotalAmount *decimal.Decimal
	TotalCount  *int64
	DocumentIDs []string

	LastUpdated   time.Time
	LastUpdatedBy string
}

// Flags is a monotonic flag update: true fields are ORed into the stored
// aggregate, false fields are ignored. A flag can never be cleared.
type Flags struct {
	Level1  bool
	Level2  bool
	Level3  bool
	Summary bool
}

// Empty reports whether the update would change nothing.
func (f Flags) Empty() bool {
	return !f.Level1 && !f.Level2 && !f.Level3 && !f.Summary
}
