package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

// collect gathers up to limit items across pages. Capacity grows with the
// pages actually received.
func collect[T any](ctx context.Context, limit int, fetch api.PageFunc[T]) ([]T, error) {
	items := make([]T, 0, max(0, min(limit, core.MaxPageSize)))
	_, err := api.Paginate(ctx, limit, fetch, func(item T) bool {
		items = append(items, item)
		return true
	})
	return items, err
}

func timelinePages(client *api.BlueskyAPI, count int) api.PageFunc[api.FeedViewPost] {
	return func(ctx context.Context, cursor string) ([]api.FeedViewPost, string, error) {
		resp, err := client.GetTimeline(ctx, count, cursor)
		if err != nil {
			return nil, "", err
		}
		return resp.Feed, resp.Cursor, nil
	}
}

func searchPages(client *api.BlueskyAPI, query string, count int) api.PageFunc[api.PostView] {
	return func(ctx context.Context, cursor string) ([]api.PostView, string, error) {
		resp, err := client.SearchPosts(ctx, query, count, cursor)
		if err != nil {
			return nil, "", err
		}
		return resp.Posts, resp.Cursor, nil
	}
}

func notificationPages(client *api.BlueskyAPI, count int) api.PageFunc[api.Notification] {
	return func(ctx context.Context, cursor string) ([]api.Notification, string, error) {
		resp, err := client.ListNotifications(ctx, count, cursor)
		if err != nil {
			return nil, "", err
		}
		return resp.Notifications, resp.Cursor, nil
	}
}

func checkCount(count int) error {
	if count <= 0 {
		return errors.New("--count must be > 0")
	}
	return nil
}

func newTimelineCmd(a *App) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:     "timeline",
		Aliases: []string{"tl", "home"},
		Short:   "Show home timeline",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCount(count); err != nil {
				return err
			}
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			feed, err := collect(cmd.Context(), count, timelinePages(client, count))
			if err != nil {
				return err
			}
			return a.printer().Timeline(feed)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of posts")
	return cmd
}

func newSearchCmd(a *App) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:     "search QUERY",
		Aliases: []string{"s"},
		Short:   "Search posts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCount(count); err != nil {
				return err
			}
			query := strings.Join(args, " ")
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			posts, err := collect(cmd.Context(), count, searchPages(client, query, count))
			if err != nil {
				return err
			}
			return a.printer().Search(posts)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of results")
	return cmd
}

func newNotificationsCmd(a *App) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif", "n"},
		Short:   "Show notifications",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCount(count); err != nil {
				return err
			}
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			items, err := collect(cmd.Context(), count, notificationPages(client, count))
			if err != nil {
				return err
			}
			return a.printer().Notifications(items)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 20, "Number of notifications")
	return cmd
}

// profileActor picks the actor for `profile`: the argument normalized, or
// the logged-in account.
func profileActor(client *api.BlueskyAPI, args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return core.NormalizeHandle(args[0]), nil
	}
	s, err := client.Me()
	if err != nil {
		return "", err
	}
	return s.DID, nil
}

func newProfileCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "profile [HANDLE]",
		Short: "Show a profile (default: self)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			actor, err := profileActor(client, args)
			if err != nil {
				return err
			}
			profile, err := client.GetProfile(cmd.Context(), actor)
			if err != nil {
				return err
			}
			return a.printer().Profile(profile)
		},
	}
}
