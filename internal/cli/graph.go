package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/batch"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

// exportFormat renders one account of a graph export.
func exportFormat(p api.ProfileViewBasic, mode string) string {
	handle, did := strings.TrimSpace(p.Handle), strings.TrimSpace(p.DID)
	switch mode {
	case "did":
		if did != "" {
			return did
		}
		return handle
	case "handle+did":
		if handle != "" && did != "" {
			return handle + "\t" + did
		}
	}
	if handle != "" {
		return handle
	}
	return did
}

// exportSide collects one side of the graph, de-duplicated in page order.
func exportSide(ctx context.Context, side string, fetch api.PageFunc[api.ProfileViewBasic], mode string, progressEvery int) ([]string, error) {
	var lines []string
	seen := map[string]bool{}
	_, err := api.Paginate(ctx, 0, fetch, func(p api.ProfileViewBasic) bool {
		line := exportFormat(p, mode)
		if line == "" || seen[line] {
			return true
		}
		seen[line] = true
		lines = append(lines, line)
		if progressEvery > 0 && len(lines)%progressEvery == 0 {
			log.Infof("%s: %d ...", side, len(lines))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", side, err)
	}
	return lines, nil
}

func followerPages(client *api.BlueskyAPI, actor string, limit int) api.PageFunc[api.ProfileViewBasic] {
	return func(ctx context.Context, cursor string) ([]api.ProfileViewBasic, string, error) {
		resp, err := client.GetFollowers(ctx, actor, limit, cursor)
		if err != nil {
			return nil, "", err
		}
		return resp.Followers, resp.Cursor, nil
	}
}

func followPages(client *api.BlueskyAPI, actor string, limit int) api.PageFunc[api.ProfileViewBasic] {
	return func(ctx context.Context, cursor string) ([]api.ProfileViewBasic, string, error) {
		resp, err := client.GetFollows(ctx, actor, limit, cursor)
		if err != nil {
			return nil, "", err
		}
		return resp.Follows, resp.Cursor, nil
	}
}

func newGraphCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Social graph tools",
	}
	cmd.AddCommand(newGraphExportCmd(a))
	return cmd
}

func newGraphExportCmd(a *App) *cobra.Command {
	var (
		out           string
		only          string
		mode          string
		limit         int
		progressEvery int
	)
	cmd := &cobra.Command{
		Use:   "export ACTOR",
		Short: "Export followers and/or follows to a text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be > 0")
			}
			switch mode {
			case "handle", "did", "handle+did":
			default:
				return fmt.Errorf("unknown --format %q (want handle, did or handle+did)", mode)
			}
			wantFollowers := only == "followers" || only == "both"
			wantFollows := only == "follows" || only == "both"
			if !wantFollowers && !wantFollows {
				return fmt.Errorf("unknown --only %q (want followers, follows or both)", only)
			}

			actor := strings.TrimSpace(args[0])
			if !core.IsDID(actor) {
				actor = core.NormalizeHandle(actor)
			}

			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			exportedAt := time.Now().UTC().Format(time.RFC3339)

			var followers, follows []string
			g, ctx := errgroup.WithContext(cmd.Context())
			if wantFollowers {
				fmt.Fprintf(a.out, "Exporting followers for %s ...\n", actor)
				g.Go(func() error {
					var err error
					followers, err = exportSide(ctx, "followers", followerPages(client, actor, limit), mode, progressEvery)
					return err
				})
			}
			if wantFollows {
				fmt.Fprintf(a.out, "Exporting follows for %s ...\n", actor)
				g.Go(func() error {
					var err error
					follows, err = exportSide(ctx, "follows", followPages(client, actor, limit), mode, progressEvery)
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			lines := []string{
				"# bsky graph export",
				"# actor: " + actor,
				"# exportedAt: " + exportedAt,
				"# format: " + mode,
				"",
			}
			summary := []string{"Done."}
			if wantFollowers {
				lines = append(append(append(lines, "[followers]"), followers...), "")
				summary = append(summary, fmt.Sprintf("followers=%d", len(followers)))
			}
			if wantFollows {
				lines = append(append(append(lines, "[follows]"), follows...), "")
				summary = append(summary, fmt.Sprintf("follows=%d", len(follows)))
			}
			if err := batch.AtomicWriteLines(out, lines); err != nil {
				return err
			}
			summary = append(summary, "out="+out)
			fmt.Fprintln(a.out, strings.Join(summary, " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file")
	cmd.Flags().StringVar(&only, "only", "both", "Which side to export: followers, follows or both")
	cmd.Flags().StringVar(&mode, "format", "handle", "Line format: handle, did or handle+did")
	cmd.Flags().IntVar(&limit, "limit", core.MaxPageSize, "Page size (1-100)")
	cmd.Flags().IntVar(&progressEvery, "progress-every", 500, "Log progress every N accounts (0 disables)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
