// Package ratelimit throttles outgoing XRPC requests and retries calls the
// server rejected for being too fast.
//
// The default limiter is a token bucket whose state lives in a small JSON file
// guarded by flock(2), so several bsky processes started in parallel (one per
// profile, say) draw from one budget.
package ratelimit

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/colthorp/bsky-cli-go/internal/core"
)

// Limiter blocks until one request may be sent.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Config selects and tunes a Limiter.
type Config struct {
	RPS      float64
	Burst    float64
	StateDir string
	Disabled bool
}

// ConfigFromEnv reads BSKY_REQ_RPS and BSKY_REQ_BURST. Unparseable values
// fall back to the defaults.
func ConfigFromEnv(v *viper.Viper) Config {
	if v == nil {
		v = viper.New()
	}
	_ = v.BindEnv("req_rps", core.EnvReqRPS)
	_ = v.BindEnv("req_burst", core.EnvReqBurst)

	return Config{
		RPS:      envFloat(v, "req_rps", core.DefaultReqRPS),
		Burst:    envFloat(v, "req_burst", core.DefaultReqBurst),
		StateDir: core.RateStateDir(),
	}
}

func envFloat(v *viper.Viper, key string, def float64) float64 {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		log.WithField("value", raw).Warnf("ignoring invalid %s, using %g", key, def)
		return def
	}
	return f
}

func clamp(rps, burst float64) (float64, float64) {
	return math.Max(0.001, rps), math.Max(1, burst)
}

// New builds the limiter for cfg: Disabled, a SharedBucket, or a LocalBucket
// when the shared state directory is unusable.
func New(cfg Config) Limiter {
	if cfg.Disabled {
		return Disabled{}
	}
	if cfg.StateDir == "" {
		cfg.StateDir = core.RateStateDir()
	}
	bucket, err := NewSharedBucket(cfg.StateDir, cfg.RPS, cfg.Burst)
	if err != nil {
		log.WithError(err).Warn("shared rate limit unavailable, throttling this process only")
		return NewLocalBucket(cfg.RPS, cfg.Burst)
	}
	return bucket
}

// Disabled never waits.
type Disabled struct{}

func (Disabled) Wait(ctx context.Context) error {
	return ctx.Err()
}

// LocalBucket throttles a single process.
type LocalBucket struct {
	limiter *rate.Limiter
}

// NewLocalBucket creates an in-process token bucket.
func NewLocalBucket(rps, burst float64) *LocalBucket {
	rps, burst = clamp(rps, burst)
	return &LocalBucket{limiter: rate.NewLimiter(rate.Limit(rps), int(math.Ceil(burst)))}
}

func (b *LocalBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
