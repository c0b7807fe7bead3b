// Package webhook delivers signed job-completion notifications to an HTTP
// endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// Request headers
const (
	HeaderEvent     = "X-Frameflow-Event"
	HeaderDelivery  = "X-Frameflow-Delivery"
	HeaderSignature = "X-Frameflow-Signature"
)

// Event is the JSON body of every delivery
type Event struct {
	Event     string               `json:"event"`
	Timestamp time.Time            `json:"timestamp"`
	Job       models.ExtractionJob `json:"job"`
}

// EventName maps a terminal job status to its event name
func EventName(status string) string {
	return "extraction." + status
}

// Notifier posts job outcomes to a single endpoint
type Notifier struct {
	client *http.Client
	url    string
	secret string
	delays []time.Duration
	logger *logging.Logger
}

// DefaultRetryDelays are the waits between delivery attempts
var DefaultRetryDelays = []time.Duration{time.Second, 5 * time.Second}

// NewNotifier creates a notifier for url. Deliveries are signed when secret
// is non-empty. maxAttempts caps the number of tries per event.
func NewNotifier(url, secret string, timeout time.Duration, maxAttempts int, logger *logging.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	delays := DefaultRetryDelays
	if maxAttempts >= 1 && maxAttempts-1 < len(delays) {
		delays = delays[:maxAttempts-1]
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		url:    url,
		secret: secret,
		delays: delays,
		logger: logger,
	}
}

// WithRetryDelays replaces the backoff schedule
func (n *Notifier) WithRetryDelays(delays ...time.Duration) *Notifier {
	n.delays = delays
	return n
}

// NotifyJob delivers the finished job. It retries failed attempts and
// returns the last error once the schedule is exhausted.
func (n *Notifier) NotifyJob(ctx context.Context, job *models.ExtractionJob) error {
	event := Event{
		Event:     EventName(job.Status),
		Timestamp: time.Now().UTC(),
		Job:       *job,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	deliveryID := uuid.New().String()
	log := n.logger.WithJobID(job.ID)

	for attempt := 0; ; attempt++ {
		err = n.deliver(ctx, event.Event, deliveryID, payload)
		if err == nil {
			metrics.RecordWebhookDelivery("delivered")
			log.Debugf("Delivered %s webhook", event.Event)
			return nil
		}
		if attempt >= len(n.delays) {
			break
		}
		log.WithError(err).Warnf("Webhook delivery attempt %d failed", attempt+1)

		select {
		case <-ctx.Done():
			metrics.RecordWebhookDelivery("failed")
			return ctx.Err()
		case <-time.After(n.delays[attempt]):
		}
	}

	metrics.RecordWebhookDelivery("failed")
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", len(n.delays)+1, err)
}

func (n *Notifier) deliver(ctx context.Context, event, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Frameflow-Webhook/1.0")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, deliveryID)
	if n.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
