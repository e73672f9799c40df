package cli

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/batch"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

// graphAction is one of follow/unfollow.
type graphAction struct {
	verb      batch.Verb
	title     string
	alias     string
	doneFlag  string
	processor func(batch.GraphClient) batch.Processor
}

var (
	followAction = graphAction{
		verb:      batch.FollowVerb,
		title:     "Follow",
		alias:     "f",
		doneFlag:  "out-followed",
		processor: batch.FollowProcessor,
	}
	unfollowAction = graphAction{
		verb:      batch.UnfollowVerb,
		title:     "Unfollow",
		alias:     "uf",
		doneFlag:  "out-unfollowed",
		processor: batch.UnfollowProcessor,
	}
)

func newGraphActionCmd(a *App, action graphAction) *cobra.Command {
	opts := batch.DefaultOptions(action.verb)
	var maxActors int
	name := action.verb.Name

	cmd := &cobra.Command{
		Use:     name + " [ACTOR]",
		Aliases: []string{action.alias},
		Short:   fmt.Sprintf("%s a user, or everyone in --list", action.title),
		Long: fmt.Sprintf(`%s a single actor, or every actor of a list file (one handle or DID per
line, # comments allowed). Batch runs are paced and checkpointed so they can
be resumed with --inplace or --out-remaining.`, action.title),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []string
			switch {
			case len(args) == 1 && opts.ListPath != "":
				return errors.New("give either an ACTOR or --list, not both")
			case len(args) == 1:
				raw = []string{args[0]}
			case opts.ListPath != "":
				lines, err := batch.ReadActorLines(opts.ListPath)
				if err != nil {
					return err
				}
				raw = lines
			default:
				return errors.New("missing ACTOR or --list FILE")
			}
			if maxActors < 0 {
				return errors.New("--max must be >= 0")
			}

			actors := batch.NormalizeActors(raw, maxActors)
			if len(actors) == 0 {
				fmt.Fprintln(a.out, "Nothing to do.")
				return nil
			}
			log.WithFields(log.Fields{"action": name, "actors": len(actors), "dryRun": opts.DryRun}).Debug("starting batch")

			// Dry runs never reach the processor. The runner owns rate-limit
			// retries, so the client makes single attempts.
			var process batch.Processor
			if !opts.DryRun {
				client, _, err := a.connect(cmd.Context(), api.WithoutRetries())
				if err != nil {
					return err
				}
				process = action.processor(client)
			}
			runner := batch.NewRunner(opts, process, a.out, a.errOut)
			_, err := runner.Run(cmd.Context(), actors)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ListPath, "list", "", "File with one handle or DID per line")
	f.BoolVar(&opts.Inplace, "inplace", false, "Rewrite --list with the remaining actors after each one")
	f.BoolVar(&opts.RewriteInput, "rewrite-input", false, "Rewrite --list with only the failed actors when done")
	f.StringVar(&opts.OutDone, action.doneFlag, "", fmt.Sprintf("Append %s actors to this file", action.verb.Counter))
	f.StringVar(&opts.OutSkipped, "out-skipped", "", "Append skipped actors to this file")
	f.StringVar(&opts.OutFailed, "out-failed", "", "Append failed actors to this file")
	f.StringVar(&opts.OutRemaining, "out-remaining", "", "Rewrite this file with the remaining queue after each actor")
	f.BoolVar(&opts.DryRun, "dry-run", false, "Print what would be done without calling the API")
	f.IntVar(&maxActors, "max", 0, "Process at most N actors (0 = all)")
	f.Float64Var(&opts.MinDelay, "min-delay", core.DefaultMinDelay, "Minimum seconds between actors")
	f.Float64Var(&opts.MaxDelay, "max-delay", core.DefaultMaxDelay, "Maximum seconds between actors")
	f.Float64Var(&opts.Buffer, "buffer", core.DefaultBuffer, "Extra fraction added to every delay")
	return cmd
}
