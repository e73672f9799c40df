package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

const (
	stateFile = "req.json"
	lockFile  = "req.lock"

	minPoll      = 10 * time.Millisecond
	maxPoll      = 2 * time.Second
	lockInterval = 5 * time.Millisecond
)

type bucketState struct {
	Tokens  float64 `json:"tokens"`
	Updated float64 `json:"updated"`
}

// SharedBucket is a token bucket shared by every process using the same
// state directory. Each Wait takes the file lock, refills, and either spends
// a token or sleeps for the time the deficit needs.
type SharedBucket struct {
	rps   float64
	burst float64

	statePath string
	lock      *flock.Flock

	// flock is per file handle, so goroutines of one process also need mu.
	mu sync.Mutex

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewSharedBucket prepares dir and returns a bucket over its state file.
func NewSharedBucket(dir string, rps, burst float64) (*SharedBucket, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create rate limit directory %s: %w", dir, err)
	}
	rps, burst = clamp(rps, burst)
	return &SharedBucket{
		rps:       rps,
		burst:     burst,
		statePath: filepath.Join(dir, stateFile),
		lock:      flock.New(filepath.Join(dir, lockFile)),
		now:       time.Now,
		sleep:     Sleep,
	}, nil
}

// Rate returns the clamped refill rate and capacity.
func (b *SharedBucket) Rate() (rps, burst float64) {
	return b.rps, b.burst
}

func (b *SharedBucket) Wait(ctx context.Context) error {
	for {
		wait, err := b.take(ctx)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		log.WithField("wait", wait).Trace("rate limit: waiting for token")
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// take spends one token and returns 0, or returns how long to wait before
// trying again.
func (b *SharedBucket) take(ctx context.Context) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	locked, err := b.lock.TryLockContext(ctx, lockInterval)
	if err != nil {
		return 0, fmt.Errorf("failed to lock rate limit state: %w", err)
	}
	if !locked {
		return 0, ctx.Err()
	}
	defer func() {
		if err := b.lock.Unlock(); err != nil {
			log.WithError(err).Debug("rate limit: unlock failed")
		}
	}()

	now := unixSeconds(b.now())
	st := b.load(now)

	elapsed := math.Max(0, now-st.Updated)
	tokens := math.Min(b.burst, st.Tokens+elapsed*b.rps)

	if tokens >= 1 {
		return 0, b.save(bucketState{Tokens: tokens - 1, Updated: now})
	}
	if err := b.save(bucketState{Tokens: tokens, Updated: now}); err != nil {
		return 0, err
	}

	wait := time.Duration((1 - tokens) / b.rps * float64(time.Second))
	if wait < minPoll {
		wait = minPoll
	}
	if wait > maxPoll {
		wait = maxPoll
	}
	return wait, nil
}

// load returns the stored state, or a full bucket when it is missing or
// unreadable.
func (b *SharedBucket) load(now float64) bucketState {
	full := bucketState{Tokens: b.burst, Updated: now}
	data, err := os.ReadFile(b.statePath)
	if err != nil {
		return full
	}
	var st bucketState
	if err := json.Unmarshal(data, &st); err != nil {
		log.WithError(err).Debug("rate limit: resetting unreadable state")
		return full
	}
	if math.IsNaN(st.Tokens) || math.IsNaN(st.Updated) || st.Tokens < 0 {
		return full
	}
	return st
}

func (b *SharedBucket) save(st bucketState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmpPath := b.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write rate limit state: %w", err)
	}
	if err := os.Rename(tmpPath, b.statePath); err != nil {
		return fmt.Errorf("failed to replace rate limit state: %w", err)
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
