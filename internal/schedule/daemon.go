package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardwatch-lab/cardwatch/internal/core/period"
)

// Daemon triggers the schedule service once per day at a fixed JST clock
// time. Deployments fronted by an external cron can disable it and hit the
// HTTP trigger instead.
type Daemon struct {
	service *Service
	runHour int
	runMin  int
	nowFn   func() time.Time
}

// NewDaemon creates a daily trigger firing at runAt ("HH:MM", JST).
func NewDaemon(service *Service, runAt string) (*Daemon, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(runAt, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("invalid schedule run_at %q (want HH:MM): %w", runAt, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid schedule run_at %q (want HH:MM)", runAt)
	}
	return &Daemon{
		service: service,
		runHour: hour,
		runMin:  minute,
		nowFn:   func() time.Time { return time.Now().In(period.JST) },
	}, nil
}

// Start runs the daily trigger loop until the context is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("[Schedule] Starting daily schedule daemon",
		"run_at", fmt.Sprintf("%02d:%02d JST", d.runHour, d.runMin))

	for {
		wait := d.untilNextRun()
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			asOf := d.nowFn()
			report := d.service.RunDailySchedule(ctx, asOf)
			if !report.Succeeded() {
				slog.Error("[Schedule] Scheduled run reported failures",
					"target", report.Target.Format("2006-01-02"),
					"errors", report.Errors())
			}
		case <-ctx.Done():
			timer.Stop()
			slog.Info("[Schedule] Stopping daily schedule daemon (context cancelled)")
			return nil
		}
	}
}

// untilNextRun returns the duration until the next HH:MM JST occurrence.
func (d *Daemon) untilNextRun() time.Duration {
	now := d.nowFn()
	next := time.Date(now.Year(), now.Month(), now.Day(), d.runHour, d.runMin, 0, 0, period.JST)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
