package notify

import (
	"context"
	"sync"
)

// Recorder is a Notifier that captures every call. Used by service tests to
// assert exactly-once delivery semantics.
type Recorder struct {
	mu sync.Mutex

	DailyCalls   []Summary
	WeeklyCalls  []Summary
	MonthlyCalls []Summary
	ErrorCalls   []RecordedError

	// Failure injection per channel.
	FailDaily   error
	FailWeekly  error
	FailMonthly error
}

// RecordedError is one captured NotifyError invocation.
type RecordedError struct {
	Err     error
	Details map[string]string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) NotifyDaily(ctx context.Context, summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailDaily != nil {
		return r.FailDaily
	}
	r.DailyCalls = append(r.DailyCalls, summary)
	return nil
}

func (r *Recorder) NotifyWeekly(ctx context.Context, summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWeekly != nil {
		return r.FailWeekly
	}
	r.WeeklyCalls = append(r.WeeklyCalls, summary)
	return nil
}

func (r *Recorder) NotifyMonthly(ctx context.Context, summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailMonthly != nil {
		return r.FailMonthly
	}
	r.MonthlyCalls = append(r.MonthlyCalls, summary)
	return nil
}

func (r *Recorder) NotifyError(ctx context.Context, notifyErr error, details map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ErrorCalls = append(r.ErrorCalls, RecordedError{Err: notifyErr, Details: details})
	return nil
}
