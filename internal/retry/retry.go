// Package retry provides the bounded-attempt policy used for every external
// call the pipeline makes (clone, agent invocation, publish). The policy is
// an explicit value injected into its consumers rather than ad hoc
// sleep-and-loop code at call sites.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries of a single operation: at most MaxAttempts tries with
// exponential backoff between them.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Default returns the policy used when none is configured
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     time.Minute,
	}
}

// Permanent wraps err so Do stops retrying immediately
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn up to MaxAttempts times with exponential backoff, stopping early
// on success, a Permanent error, or context cancellation. The returned error
// is the last error fn produced.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Reset()

	return backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}
