// Package cli implements the command-line interface for the bsky CLI.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/colthorp/bsky-cli-go/internal/core"
	"github.com/colthorp/bsky-cli-go/internal/output"
)

// newRootCmd builds the command tree around app.
func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "bsky",
		Short:   "bsky – automate your Bluesky account from the terminal",
		Long:    `A command-line client for Bluesky: multiple accounts, shared request throttling and resumable bulk follow/unfollow.`,
		Version: core.Version,

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.profile, "profile", "", "Profile to use (overrides BSKY_PROFILE and the active profile)")
	flags.BoolVar(&app.noThrottle, "no-throttle", false, "Disable client-side request throttling")
	flags.String("config", core.ConfigPath(), "Profile store")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "Verbose debug output to stderr")
	flags.BoolVar(&app.quiet, "quiet", false, "Suppress progress messages")
	flags.StringP("output", "o", string(output.Text), "Output format: text, json or yaml")
	flags.BoolVar(&app.raw, "raw", false, "Shorthand for --output json")

	_ = app.v.BindPFlag("config", flags.Lookup("config"))
	_ = app.v.BindPFlag("output", flags.Lookup("output"))

	rootCmd.AddCommand(
		newLoginCmd(app),
		newAccountsCmd(app),
		newUseCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newTimelineCmd(app),
		newSearchCmd(app),
		newNotificationsCmd(app),
		newProfileCmd(app),
		newPostCmd(app),
		newQuoteCmd(app),
		newDeleteCmd(app),
		newLikeCmd(app),
		newUnlikeCmd(app),
		newRepostCmd(app),
		newUnrepostCmd(app),
		newGraphActionCmd(app, followAction),
		newGraphActionCmd(app, unfollowAction),
		newGraphCmd(app),
		newMCPCmd(app),
	)
	return rootCmd
}

// Execute runs the CLI and exits non-zero on failure. SIGINT and SIGTERM
// cancel the command's context; interrupted runs exit with 130.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(NewApp()).ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	log.WithError(err).Error("error executing command")
	os.Exit(1)
}
