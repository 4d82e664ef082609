package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookConfig holds one endpoint URL per notification channel.
// An empty URL disables that channel (the notify call becomes a logged no-op).
type WebhookConfig struct {
	DailyURL   string
	WeeklyURL  string
	MonthlyURL string
	ErrorURL   string
	Timeout    time.Duration
}

// WebhookNotifier delivers summaries as JSON POSTs to per-channel endpoints.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier with the given endpoints.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) NotifyDaily(ctx context.Context, summary Summary) error {
	return n.post(ctx, n.cfg.DailyURL, "daily", summary)
}

func (n *WebhookNotifier) NotifyWeekly(ctx context.Context, summary Summary) error {
	return n.post(ctx, n.cfg.WeeklyURL, "weekly", summary)
}

func (n *WebhookNotifier) NotifyMonthly(ctx context.Context, summary Summary) error {
	return n.post(ctx, n.cfg.MonthlyURL, "monthly", summary)
}

func (n *WebhookNotifier) NotifyError(ctx context.Context, notifyErr error, details map[string]string) error {
	payload := map[string]interface{}{
		"error":   notifyErr.Error(),
		"details": details,
	}
	return n.postPayload(ctx, n.cfg.ErrorURL, "error", payload)
}

func (n *WebhookNotifier) post(ctx context.Context, url, channel string, summary Summary) error {
	return n.postPayload(ctx, url, channel, summary)
}

func (n *WebhookNotifier) postPayload(ctx context.Context, url, channel string, payload interface{}) error {
	if url == "" {
		slog.Debug("[Webhook] Channel not configured, skipping", "channel", channel)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: build request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", channel, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", channel, resp.StatusCode)
	}

	slog.Info("[Webhook] Notification delivered", "channel", channel, "status", resp.StatusCode)
	return nil
}
