package ratelimit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryHinter is implemented by errors that carry a server-provided delay
// (Retry-After or ratelimit-reset).
type RetryHinter interface {
	RetryAfter() time.Duration
}

// Policy describes a jittered exponential retry.
//
// Before attempt n+1 (n counted from 0) the caller sleeps a uniform value in
// [MinWait, MaxWait] multiplied by Factor^n, unless the error carries its own
// delay.
type Policy struct {
	Attempts  int
	MinWait   time.Duration
	MaxWait   time.Duration
	Factor    float64
	Retryable func(error) bool

	// Sleep and Jitter are replaced in tests. Jitter returns a value in [0, 1).
	Sleep  func(context.Context, time.Duration) error
	Jitter func() float64
}

// ReadPolicy is used for XRPC queries.
func ReadPolicy(retryable func(error) bool) Policy {
	return Policy{Attempts: 3, MinWait: 2 * time.Second, MaxWait: 5 * time.Second, Factor: 2, Retryable: retryable}
}

// WritePolicy is used for XRPC procedures. Writes are limited much more
// tightly by the hosted PDS, so the waits are longer.
func WritePolicy(retryable func(error) bool) Policy {
	return Policy{Attempts: 3, MinWait: 15 * time.Second, MaxWait: 35 * time.Second, Factor: 1.6, Retryable: retryable}
}

// BatchPolicy is used per actor by follow/unfollow runs.
func BatchPolicy(buffer float64, retryable func(error) bool) Policy {
	scale := 1 + math.Max(0, buffer)
	return Policy{
		Attempts:  3,
		MinWait:   time.Duration(20 * scale * float64(time.Second)),
		MaxWait:   time.Duration(40 * scale * float64(time.Second)),
		Factor:    1,
		Retryable: retryable,
	}
}

// Backoff returns the wait before the retry following attempt n.
func (p Policy) Backoff(n int) time.Duration {
	jitter := rand.Float64
	if p.Jitter != nil {
		jitter = p.Jitter
	}
	lo, hi := p.MinWait, p.MaxWait
	if hi < lo {
		hi = lo
	}
	base := float64(lo) + jitter()*float64(hi-lo)
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	return time.Duration(base * math.Pow(factor, float64(n)))
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for n := 0; n < attempts; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		if p.Retryable == nil || !p.Retryable(err) || n == attempts-1 {
			return err
		}

		wait := p.Backoff(n)
		var hinter RetryHinter
		if errors.As(err, &hinter) && hinter.RetryAfter() > 0 {
			wait = hinter.RetryAfter()
		}
		log.WithFields(log.Fields{
			"attempt": n + 1,
			"wait":    wait.Round(time.Millisecond),
		}).WithError(err).Warn("retrying")
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}
