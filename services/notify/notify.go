package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Summary describes the outcome of a finished background job.
type Summary struct {
	Job        string    `json:"job"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Details    []string  `json:"details,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Elapsed    string    `json:"elapsed"`
}

// Notifier delivers job summaries to an external sink.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
}

// RetryBounded runs op up to maxAttempts times, waiting interval between
// attempts. It stops early when ctx is cancelled.
func RetryBounded(ctx context.Context, maxAttempts uint64, interval time.Duration, op func() error) error {
	if maxAttempts == 0 {
		return fmt.Errorf("maxAttempts must be at least 1")
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxAttempts-1),
		ctx,
	)
	return backoff.Retry(op, policy)
}

// NopNotifier discards summaries. Used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Summary) error { return nil }

// WebhookNotifier posts job summaries as JSON to a configured URL.
type WebhookNotifier struct {
	url         string
	client      *http.Client
	maxAttempts uint64
	interval    time.Duration
}

// NewWebhookNotifier creates a notifier for url. Delivery is retried up to
// three times with a short constant wait.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:         url,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		interval:    2 * time.Second,
	}
}

// Notify posts summary to the webhook, retrying transient failures.
func (n *WebhookNotifier) Notify(ctx context.Context, summary Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	}

	if err := RetryBounded(ctx, n.maxAttempts, n.interval, op); err != nil {
		return fmt.Errorf("failed to deliver summary for job %s: %w", summary.Job, err)
	}
	log.Printf("Delivered summary for job %s", summary.Job)
	return nil
}
