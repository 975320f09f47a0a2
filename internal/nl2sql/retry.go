package nl2sql

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryBackoff = 200 * time.Millisecond
	defaultMaxBackoff   = 2 * time.Second
)

type AttemptObserver interface {
	ObserveModelAttempt(provider, result string)
}

// RetryingGenerator retries retryable transport failures with exponential
// backoff. All other errors are returned after the first attempt.
type RetryingGenerator struct {
	Next        Generator
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Observer    AttemptObserver
}

func (g *RetryingGenerator) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	attempts := g.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := g.Backoff
	if delay <= 0 {
		delay = defaultRetryBackoff
	}
	maxDelay := g.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = defaultMaxBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		completion, err := g.Next.Generate(ctx, prompt)
		if err == nil {
			g.observe(completion.Provider, "success")
			return completion, nil
		}
		lastErr = err

		var modelErr *Error
		if !errors.As(err, &modelErr) {
			g.observe("unknown", "error")
			return Completion{}, err
		}
		g.observe(modelErr.Provider, string(modelErr.Kind))
		if !modelErr.Retryable() || attempt == attempts {
			return Completion{}, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Completion{}, err
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return Completion{}, lastErr
}

func (g *RetryingGenerator) observe(provider, result string) {
	if g.Observer != nil {
		g.Observer.ObserveModelAttempt(provider, result)
	}
}
