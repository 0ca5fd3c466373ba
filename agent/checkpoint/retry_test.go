package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedStore fails the first failures calls with err, then delegates.
type scriptedStore struct {
	Store
	failures int
	err      error
	calls    int
}

func (s *scriptedStore) Put(ctx context.Context, threadID, namespace string, cp *Checkpoint) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return "", s.err
	}
	return s.Store.Put(ctx, threadID, namespace, cp)
}

func (s *scriptedStore) Get(ctx context.Context, threadID, namespace, checkpointID string) (*Checkpoint, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return s.Store.Get(ctx, threadID, namespace, checkpointID)
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		Attempts:       attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestWithRetryRecoversFromTransientFailures(t *testing.T) {
	t.Parallel()
	inner := &scriptedStore{
		Store:    NewMemoryStore(nil),
		failures: 2,
		err:      fmt.Errorf("%w: transient backend outage", ErrWrite),
	}
	store := WithRetry(inner, fastRetryConfig(3))

	id, err := store.Put(context.Background(), "thread-1", "supervisor", &Checkpoint{ID: "0001"})
	if err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if id != "0001" {
		t.Fatalf("expected id 0001, got %s", id)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}

	if _, err := store.Get(context.Background(), "thread-1", "supervisor", "0001"); err != nil {
		t.Fatalf("expected stored checkpoint to be readable, got %v", err)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()
	inner := &scriptedStore{
		Store:    NewMemoryStore(nil),
		failures: 100,
		err:      fmt.Errorf("%w: backend down", ErrWrite),
	}
	store := WithRetry(inner, fastRetryConfig(3))

	_, err := store.Put(context.Background(), "thread-1", "supervisor", &Checkpoint{ID: "0001"})
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite after exhausting attempts, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", inner.calls)
	}
}

func TestWithRetryDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()
	inner := &scriptedStore{
		Store:    NewMemoryStore(nil),
		failures: 100,
		err:      fmt.Errorf("%w: thread=thread-1 checkpoint=missing", ErrNotFound),
	}
	store := WithRetry(inner, fastRetryConfig(3))

	_, err := store.Get(context.Background(), "thread-1", "supervisor", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt for a miss, got %d", inner.calls)
	}
}

func TestWithRetryDoesNotRetryInvalidArguments(t *testing.T) {
	t.Parallel()
	inner := &scriptedStore{Store: NewMemoryStore(nil)}
	store := WithRetry(inner, fastRetryConfig(3))

	_, err := store.Put(context.Background(), "", "supervisor", &Checkpoint{ID: "0001"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt for invalid input, got %d", inner.calls)
	}
}

func TestWithRetryStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	inner := &scriptedStore{
		Store:    NewMemoryStore(nil),
		failures: 100,
		err:      fmt.Errorf("%w: backend down", ErrWrite),
	}
	store := WithRetry(inner, fastRetryConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "thread-1", "supervisor", &Checkpoint{ID: "0001"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled between attempts, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d attempts", inner.calls)
	}
}

func TestWithRetryClampsAttempts(t *testing.T) {
	t.Parallel()
	inner := &scriptedStore{Store: NewMemoryStore(nil)}
	store := WithRetry(inner, RetryConfig{Attempts: 0})

	if _, err := store.Put(context.Background(), "thread-1", "supervisor", &Checkpoint{ID: "0001"}); err != nil {
		t.Fatalf("expected clamped single attempt to run, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 attempt with clamped config, got %d", inner.calls)
	}
}

func TestRetryConfigBackoff(t *testing.T) {
	t.Parallel()
	cfg := DefaultRetryConfig()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},
		{40, 2 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.Backoff(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
