package provider

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds retries of transient provider failures with exponential
// backoff. Permanent failures surface immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultPolicy returns the retry tuning applied to provider calls when no
// explicit configuration is given.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// Do runs fn until it succeeds, fails permanently, the attempt budget is
// exhausted, or ctx is done. The last error is returned as-is so callers can
// still inspect its kind.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) || attempt >= attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.jittered(delay)):
		}
		delay = time.Duration(float64(delay) * multiplier)
	}
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
