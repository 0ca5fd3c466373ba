package checkpoint

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryConfig bounds how persistently store operations are retried.
type RetryConfig struct {
	Attempts       int           `split_words:"true" default:"3"`
	OpTimeout      time.Duration `split_words:"true" default:"2s"`
	InitialBackoff time.Duration `split_words:"true" default:"100ms"`
	MaxBackoff     time.Duration `split_words:"true" default:"2s"`
	Multiplier     float64       `split_words:"true" default:"2"`
}

// DefaultRetryConfig returns the settings used when no environment overrides
// are present.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       3,
		OpTimeout:      2 * time.Second,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
	}
}

// Backoff returns the pause before retry number attempt, starting from zero.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt)))
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	if d < 0 {
		return c.MaxBackoff
	}
	return d
}

// WithRetry wraps a store so transient failures are retried with exponential
// backoff. Lookups that miss and invalid arguments are returned immediately.
func WithRetry(store Store, cfg RetryConfig) Store {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &retryStore{next: store, cfg: cfg}
}

type retryStore struct {
	next Store
	cfg  RetryConfig
}

func (s *retryStore) Put(ctx context.Context, threadID, namespace string, cp *Checkpoint) (string, error) {
	var id string
	err := s.do(ctx, func(opCtx context.Context) error {
		var err error
		id, err = s.next.Put(opCtx, threadID, namespace, cp)
		return err
	})
	return id, err
}

func (s *retryStore) Get(ctx context.Context, threadID, namespace, checkpointID string) (*Checkpoint, error) {
	var cp *Checkpoint
	err := s.do(ctx, func(opCtx context.Context) error {
		var err error
		cp, err = s.next.Get(opCtx, threadID, namespace, checkpointID)
		return err
	})
	return cp, err
}

func (s *retryStore) GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error) {
	var cp *Checkpoint
	err := s.do(ctx, func(opCtx context.Context) error {
		var err error
		cp, err = s.next.GetLatest(opCtx, threadID, namespace)
		return err
	})
	return cp, err
}

func (s *retryStore) List(ctx context.Context, threadID, namespace string, opts ListOptions) ([]*Checkpoint, error) {
	var cps []*Checkpoint
	err := s.do(ctx, func(opCtx context.Context) error {
		var err error
		cps, err = s.next.List(opCtx, threadID, namespace, opts)
		return err
	})
	return cps, err
}

func (s *retryStore) do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.Backoff(attempt - 1)):
			}
		}

		opCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.cfg.OpTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, s.cfg.OpTimeout)
		}
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
