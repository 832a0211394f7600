package payment

import (
	"context"
	"time"
)

// Policy bounds retries around calls to the external processor. Injected so
// tests can run with zero backoff and a single attempt.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration // doubles per attempt
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, attempts run out, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	delay := p.Backoff
	for i := 0; i < p.attempts(); i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == p.attempts()-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
