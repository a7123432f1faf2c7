package control

import (
	"context"
	"time"
)

// Policy bounds the work done for a single inbound update.
type Policy struct {
	CompletionTimeout    time.Duration
	TranscriptionTimeout time.Duration
	MaxConcurrent        int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		CompletionTimeout:    60 * time.Second,
		TranscriptionTimeout: 60 * time.Second,
		MaxConcurrent:        8,
	}
}

// WithTimeout derives a context bounded by d. A non-positive d leaves ctx
// unbounded.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return 30
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}
