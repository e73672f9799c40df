package batch

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/core"
	"github.com/colthorp/bsky-cli-go/internal/ratelimit"
)

// Outcome is the result of handling one actor without error.
type Outcome int

const (
	Done Outcome = iota
	Skipped
)

// Processor handles one normalized actor.
type Processor func(ctx context.Context, actor string) (Outcome, error)

// Verb holds the wording of one batch operation.
type Verb struct {
	Name    string
	Done    string
	Skipped string
	Failed  string
	Counter string
}

var (
	FollowVerb = Verb{
		Name:    "follow",
		Done:    "Followed",
		Skipped: "Already following",
		Failed:  "Follow failed",
		Counter: "followed",
	}
	UnfollowVerb = Verb{
		Name:    "unfollow",
		Done:    "Unfollowed",
		Skipped: "Not following",
		Failed:  "Unfollow failed",
		Counter: "unfollowed",
	}
)

// Options configures a Runner. Empty paths disable the matching output.
type Options struct {
	ListPath     string
	Inplace      bool
	RewriteInput bool

	OutDone      string
	OutSkipped   string
	OutFailed    string
	OutRemaining string

	DryRun   bool
	MinDelay float64
	MaxDelay float64
	Buffer   float64

	Verb Verb
}

// DefaultOptions returns the pacing defaults for verb.
func DefaultOptions(verb Verb) Options {
	return Options{
		MinDelay: core.DefaultMinDelay,
		MaxDelay: core.DefaultMaxDelay,
		Buffer:   core.DefaultBuffer,
		Verb:     verb,
	}
}

// Summary lists where every actor of a run ended up. Remaining holds the
// not-yet-attempted actors followed by the failed ones.
type Summary struct {
	Done      []string
	Skipped   []string
	Failed    []string
	Remaining []string
}

// Runner processes a queue one actor at a time.
type Runner struct {
	opts    Options
	process Processor
	out     io.Writer
	errOut  io.Writer

	retry  ratelimit.Policy
	sleep  func(context.Context, time.Duration) error
	jitter func() float64
}

// NewRunner creates a runner writing progress to out and failures to errOut.
func NewRunner(opts Options, process Processor, out, errOut io.Writer) *Runner {
	if opts.Verb.Name == "" {
		opts.Verb = FollowVerb
	}
	return &Runner{
		opts:    opts,
		process: process,
		out:     out,
		errOut:  errOut,
		retry:   ratelimit.BatchPolicy(opts.Buffer, api.IsRateLimited),
		sleep:   ratelimit.Sleep,
		jitter:  rand.Float64,
	}
}

// Delay returns the pause between two actors: uniform in
// [min*(1+buffer), max(min, max)*(1+buffer)].
func (r *Runner) Delay() time.Duration {
	scale := 1 + math.Max(0, r.opts.Buffer)
	minDelay := math.Max(0, r.opts.MinDelay)
	lo := minDelay * scale
	hi := math.Max(minDelay, r.opts.MaxDelay) * scale
	if hi <= 0 {
		return 0
	}
	secs := lo + r.jitter()*(hi-lo)
	return time.Duration(secs * float64(time.Second))
}

func (r *Runner) checkpoint(pending, failed []string) error {
	remaining := make([]string, 0, len(pending)+len(failed))
	remaining = append(remaining, pending...)
	remaining = append(remaining, failed...)

	if r.opts.Inplace && r.opts.ListPath != "" {
		if err := AtomicWriteLines(r.opts.ListPath, remaining); err != nil {
			return err
		}
	}
	if r.opts.OutRemaining != "" {
		if err := AtomicWriteLines(r.opts.OutRemaining, remaining); err != nil {
			return err
		}
	}
	return nil
}

// Run processes actors in order. Each actor is attempted once; rate-limited
// attempts are retried before the actor counts as failed. Every actor ends up
// in exactly one of the done, skipped and failed partitions. On cancellation
// the remainder is checkpointed and the context error returned.
func (r *Runner) Run(ctx context.Context, actors []string) (*Summary, error) {
	verb := r.opts.Verb
	total := len(actors)
	pending := append([]string(nil), actors...)
	sum := &Summary{}

	interrupted := func() (*Summary, error) {
		fmt.Fprintln(r.errOut, "Interrupted. Writing remaining list for resume...")
		if err := r.checkpoint(pending, sum.Failed); err != nil {
			log.WithError(err).Error("failed to write checkpoint")
		}
		sum.Remaining = append(append([]string(nil), pending...), sum.Failed...)
		return sum, ctx.Err()
	}

	for processed := 0; len(pending) > 0; processed++ {
		if ctx.Err() != nil {
			return interrupted()
		}
		actor := pending[0]
		idx := processed + 1

		if r.opts.DryRun {
			fmt.Fprintf(r.out, "DRY RUN %s: %s\n", verb.Name, actor)
			if err := r.record(&sum.Done, r.opts.OutDone, actor); err != nil {
				return sum, err
			}
		} else {
			var outcome Outcome
			err := ratelimit.Retry(ctx, r.retry, func(ctx context.Context) error {
				var perr error
				outcome, perr = r.process(ctx, actor)
				return perr
			})
			if err != nil && ctx.Err() != nil {
				return interrupted()
			}

			switch {
			case err != nil:
				fmt.Fprintf(r.errOut, "%s (%d/%d): %s :: %v\n", verb.Failed, idx, total, actor, err)
				err = r.record(&sum.Failed, r.opts.OutFailed, actor)
			case outcome == Skipped:
				fmt.Fprintf(r.out, "%s (%d/%d): %s\n", verb.Skipped, idx, total, actor)
				err = r.record(&sum.Skipped, r.opts.OutSkipped, actor)
			default:
				fmt.Fprintf(r.out, "%s (%d/%d): %s\n", verb.Done, idx, total, actor)
				err = r.record(&sum.Done, r.opts.OutDone, actor)
			}
			if err != nil {
				return sum, err
			}
		}

		pending = pending[1:]
		if err := r.checkpoint(pending, sum.Failed); err != nil {
			return sum, err
		}

		if len(pending) > 0 {
			if err := r.sleep(ctx, r.Delay()); err != nil {
				return interrupted()
			}
		}
	}

	sum.Remaining = append([]string(nil), sum.Failed...)

	switch {
	case r.opts.RewriteInput && r.opts.Inplace:
		fmt.Fprintln(r.errOut, "Note: --rewrite-input ignored when --inplace is set.")
	case r.opts.RewriteInput && r.opts.ListPath != "":
		if err := AtomicWriteLines(r.opts.ListPath, sum.Failed); err != nil {
			return sum, err
		}
	}

	fmt.Fprintf(r.out, "Done. %s=%d skipped=%d failed=%d\n", verb.Counter, len(sum.Done), len(sum.Skipped), len(sum.Failed))
	return sum, nil
}

func (r *Runner) record(partition *[]string, path, actor string) error {
	*partition = append(*partition, actor)
	return AppendLine(path, actor)
}
