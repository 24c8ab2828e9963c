package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSafeGo_RunsAndRecovers(t *testing.T) {
	var wg sync.WaitGroup
	executed := atomic.Bool{}

	wg.Add(2)
	SafeGo(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		defer wg.Done()
		executed.Store(true)
		return errors.New("logged, not returned")
	})
	SafeGo(context.Background(), nil, time.Second, "panicking task", func(ctx context.Context) error {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()

	if !executed.Load() {
		t.Error("SafeGo did not execute function")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	done := make(chan error, 1)
	SafeGo(context.Background(), nil, 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
}

func TestWorkerPool_ProcessesQueuedTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 3, 10, "test pool", time.Second, nil)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		if err := pool.Submit(context.Background(), func(ctx context.Context) error {
			count.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if got := count.Load(); got != 10 {
		t.Errorf("expected 10 tasks processed, got %d", got)
	}

	if err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed after shutdown, got %v", err)
	}
	if err := pool.TrySubmit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed from TrySubmit, got %v", err)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Errorf("second shutdown should be a no-op, got %v", err)
	}
}

func TestWorkerPool_TrySubmitWhenFull(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "full pool", time.Second, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	if err := pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	<-started

	if err := pool.TrySubmit(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("queue slot should be free: %v", err)
	}
	if err := pool.TrySubmit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	close(release)
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestWorkerPool_SurvivesPanics(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 4, "panic pool", time.Second, nil)

	var ran atomic.Bool
	pool.TrySubmit(func(ctx context.Context) error { panic("boom") })
	pool.TrySubmit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !ran.Load() {
		t.Error("worker stopped after a panic")
	}
}

func TestWorkerPool_ShutdownDeadlineCancelsTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "slow pool", time.Minute, nil)
	started := make(chan struct{})
	pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestWorkerPool_ShutdownReleasesBlockedSubmit(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "blocked pool", time.Second, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	pool.TrySubmit(func(ctx context.Context) error { return nil })

	submitErr := make(chan error, 1)
	go func() {
		submitErr <- pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	}()

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- pool.Shutdown(context.Background())
	}()

	select {
	case err := <-submitErr:
		if err != nil && !errors.Is(err, ErrPoolClosed) {
			t.Errorf("expected ErrPoolClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Submit still blocked after Shutdown")
	}

	close(release)
	select {
	case err := <-shutdownErr:
		if err != nil {
			t.Errorf("shutdown failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not complete")
	}
}
