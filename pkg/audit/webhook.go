package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/dormshare/pkg/async"
	"github.com/platinummonkey/dormshare/pkg/observability"
)

// Headers set on webhook deliveries
const (
	HeaderEventID   = "X-Dormshare-Event-ID"
	HeaderSignature = "X-Dormshare-Signature"
	HeaderDelivery  = "X-Dormshare-Delivery"
)

// RetryConfig configures webhook redelivery
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffMultiplier <= 1.0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	return c
}

// delay returns the wait before attempt n+1, given n failed attempts
func (c RetryConfig) delay(attempts int) time.Duration {
	if attempts <= 1 {
		return c.InitialDelay
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempts-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// WebhookConfig configures a WebhookEmitter
type WebhookConfig struct {
	URL    string
	Secret string
	// Workers deliver concurrently; QueueSize bounds pending events
	Workers   int
	QueueSize int
	// Timeout bounds one event's delivery, retries included
	Timeout time.Duration
	Retry   RetryConfig
	Client  *http.Client
}

// WebhookEmitter posts events as JSON to an external security sink. Events
// are queued and delivered in the background, so Emit never waits on the
// network. A full queue drops the event and returns async.ErrQueueFull.
type WebhookEmitter struct {
	url    string
	secret string
	client *http.Client
	retry  RetryConfig
	pool   *async.WorkerPool
	logger *observability.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewWebhookEmitter starts the delivery workers. Close drains them.
func NewWebhookEmitter(cfg WebhookConfig, logger *observability.Logger) (*WebhookEmitter, error) {
	if cfg.URL == "" {
		return nil, errors.New("audit webhook URL is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}

	logger = logger.WithField("component", "audit_webhook")
	return &WebhookEmitter{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: cfg.Client,
		retry:  cfg.Retry.withDefaults(),
		pool:   async.NewWorkerPool(context.Background(), cfg.Workers, cfg.QueueSize, "audit webhook", cfg.Timeout, logger),
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// Emit queues the event for delivery
func (w *WebhookEmitter) Emit(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	eventID := uuid.NewString()

	if err := w.pool.TrySubmit(func(ctx context.Context) error {
		return w.deliver(ctx, eventID, payload)
	}); err != nil {
		return fmt.Errorf("audit webhook: %w", err)
	}
	return nil
}

func (w *WebhookEmitter) deliver(ctx context.Context, eventID string, payload []byte) error {
	var err error
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		if err = w.send(ctx, eventID, payload); err == nil {
			return nil
		}
		if attempt == w.retry.MaxAttempts {
			break
		}
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"event_id": eventID,
			"attempt":  attempt,
		}).Debug("audit webhook delivery failed, retrying")
		if sleepErr := w.sleep(ctx, w.retry.delay(attempt)); sleepErr != nil {
			return fmt.Errorf("event %s abandoned: %w", eventID, err)
		}
	}
	return fmt.Errorf("event %s undeliverable after %d attempts: %w", eventID, w.retry.MaxAttempts, err)
}

func (w *WebhookEmitter) send(ctx context.Context, eventID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderDelivery, time.Now().UTC().Format(time.RFC3339))
	if w.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting events and waits for queued deliveries
func (w *WebhookEmitter) Close(ctx context.Context) error {
	return w.pool.Shutdown(ctx)
}

// Sign returns the HMAC-SHA256 signature header value of payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
