package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the structured log. Used in development
// and as a safe default when no webhooks are configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyDaily(ctx context.Context, summary Summary) error {
	return n.log("daily", summary)
}

func (n *LogNotifier) NotifyWeekly(ctx context.Context, summary Summary) error {
	return n.log("weekly", summary)
}

func (n *LogNotifier) NotifyMonthly(ctx context.Context, summary Summary) error {
	return n.log("monthly", summary)
}

func (n *LogNotifier) NotifyError(ctx context.Context, notifyErr error, details map[string]string) error {
	slog.Error("[Notify] Error notification", "error", notifyErr, "details", details)
	return nil
}

func (n *LogNotifier) log(channel string, summary Summary) error {
	slog.Info("[Notify] Notification",
		"channel", channel,
		"kind", summary.Kind,
		"period_start", summary.PeriodStart,
		"period_end", summary.PeriodEnd,
		"total_amount", summary.TotalAmount,
		"total_count", summary.TotalCount,
		"crossed_levels", summary.CrossedLevels,
	)
	return nil
}
