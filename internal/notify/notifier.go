package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Notification kinds. A threshold alert fires mid-period when the running
// total crosses configured levels; a final report fires once after a period
// closes.
const (
	KindThresholdAlert = "threshold_alert"
	KindFinalReport    = "final_report"
)

// Summary is the outbound payload for one notification.
type Summary struct {
	Kind        string          `json:"kind"`
	Granularity string          `json:"granularity"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalCount  int64           `json:"total_count"`

	// CrossedLevels lists the alert levels announced by this notification
	// (threshold alerts only). One event crossing several levels produces a
	// single notification carrying all of them.
	CrossedLevels []int `json:"crossed_levels,omitempty"`
}

// Notifier is the outbound notification sink. Failures are non-fatal to
// callers: aggregate state is already durable before any notify call, and a
// failed delivery is surfaced through NotifyError, not retried in-band.
type Notifier interface {
	NotifyDaily(ctx context.Context, summary Summary) error
	NotifyWeekly(ctx context.Context, summary Summary) error
	NotifyMonthly(ctx context.Context, summary Summary) error
	NotifyError(ctx context.Context, notifyErr error, details map[string]string) error
}
