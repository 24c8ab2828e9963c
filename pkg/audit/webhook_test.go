package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/dormshare/pkg/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type sink struct {
	mu       sync.Mutex
	failures int32
	calls    atomic.Int32
	events   []Event
	sigOK    []bool
}

func (s *sink) handler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := s.calls.Add(1)
		if n <= s.failures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var event Event
		json.Unmarshal(body, &event)

		s.mu.Lock()
		s.events = append(s.events, event)
		s.sigOK = append(s.sigOK, VerifySignature(body, r.Header.Get(HeaderSignature), secret))
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}
}

func TestWebhookEmitter_DeliversSignedEvents(t *testing.T) {
	s := &sink{failures: 2}
	srv := httptest.NewServer(s.handler("sink-secret"))
	defer srv.Close()

	emitter, err := NewWebhookEmitter(WebhookConfig{URL: srv.URL, Secret: "sink-secret", Workers: 1}, nil)
	require.NoError(t, err)
	emitter.sleep = noSleep

	principal := int64(7)
	require.NoError(t, emitter.Emit(context.Background(), &Event{
		Timestamp: time.Now().UTC(),
		Principal: &principal,
		Reason:    ReasonPermissionDenied,
		Resource:  "bill",
		Action:    "delete",
	}))
	require.NoError(t, emitter.Close(context.Background()))

	assert.Equal(t, int32(3), s.calls.Load(), "two failures then success")
	require.Len(t, s.events, 1)
	assert.Equal(t, ReasonPermissionDenied, s.events[0].Reason)
	assert.Equal(t, int64(7), *s.events[0].Principal)
	assert.True(t, s.sigOK[0], "signature should verify")
}

func TestWebhookEmitter_GivesUpAfterMaxAttempts(t *testing.T) {
	s := &sink{failures: 100}
	srv := httptest.NewServer(s.handler(""))
	defer srv.Close()

	emitter, err := NewWebhookEmitter(WebhookConfig{
		URL:   srv.URL,
		Retry: RetryConfig{MaxAttempts: 3},
	}, nil)
	require.NoError(t, err)
	emitter.sleep = noSleep

	require.NoError(t, emitter.Emit(context.Background(), &Event{Reason: ReasonMissingToken}))
	require.NoError(t, emitter.Close(context.Background()))

	assert.Equal(t, int32(3), s.calls.Load())
	assert.Empty(t, s.events)
}

func TestWebhookEmitter_QueueFull(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	emitter, err := NewWebhookEmitter(WebhookConfig{URL: srv.URL, Workers: 1, QueueSize: 1}, nil)
	require.NoError(t, err)

	var errs []error
	for i := 0; i < 5; i++ {
		if err := emitter.Emit(context.Background(), &Event{Reason: ReasonInvalidToken}); err != nil {
			errs = append(errs, err)
		}
	}
	close(release)
	require.NoError(t, emitter.Close(context.Background()))

	require.NotEmpty(t, errs)
	assert.True(t, errors.Is(errs[0], async.ErrQueueFull))

	err = emitter.Emit(context.Background(), &Event{})
	assert.True(t, errors.Is(err, async.ErrPoolClosed))
}

func TestWebhookEmitter_RequiresURL(t *testing.T) {
	_, err := NewWebhookEmitter(WebhookConfig{}, nil)
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2}.withDefaults()
	assert.Equal(t, time.Second, cfg.delay(1))
	assert.Equal(t, 2*time.Second, cfg.delay(2))
	assert.Equal(t, 4*time.Second, cfg.delay(3))
	assert.Equal(t, 5*time.Second, cfg.delay(4))
}

func TestSignature(t *testing.T) {
	payload := []byte(`{"reason":"permission_denied"}`)
	sig := Sign(payload, "secret")
	assert.True(t, VerifySignature(payload, sig, "secret"))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, "secret"))
}
