package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/core"
	"github.com/colthorp/bsky-cli-go/internal/richtext"
)

// publish creates a post with facets and returns its public URL.
func publish(ctx context.Context, client *api.BlueskyAPI, text string, embed *api.Embed) (string, error) {
	s, err := client.Me()
	if err != nil {
		return "", err
	}
	facets, err := richtext.Build(ctx, text, client)
	if err != nil {
		return "", err
	}
	out, err := client.CreatePost(ctx, text, facets, embed)
	if err != nil {
		return "", err
	}
	return core.PostURL(s.Handle, core.RKeyFromURI(out.URI)), nil
}

func newPostCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:     "post TEXT",
		Aliases: []string{"p"},
		Short:   "Create a post",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if err := richtext.Validate(text); err != nil {
				return err
			}
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			url, err := publish(cmd.Context(), client, text, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Posted: %s\n", url)
			return nil
		},
	}
}

func newQuoteCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:     "quote POST TEXT",
		Aliases: []string{"cite", "q"},
		Short:   "Quote/cite a post with your own text",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			if err := richtext.Validate(text); err != nil {
				return err
			}
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := client.ResolvePostRef(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			subject := ref.StrongRef()
			url, err := publish(cmd.Context(), client, text, &api.Embed{Type: api.EmbedRecordType, Record: &subject})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Quoted: %s\n", url)
			fmt.Fprintf(a.out, "  ↳ original: %s\n", ref.Display())
			return nil
		},
	}
}

// postRKey extracts the record key from a post URL, an at:// URI or a bare
// key.
func postRKey(value string) string {
	value = strings.TrimSpace(value)
	if _, rkey, ok := api.ParsePostURL(value); ok {
		return rkey
	}
	if uri, err := api.ParseATURI(value); err == nil {
		return uri.RKey
	}
	return core.RKeyFromURI(value)
}

func newDeleteCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete POST",
		Aliases: []string{"del", "rm"},
		Short:   "Delete one of your posts by ID or URL",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rkey := postRKey(args[0])
			if rkey == "" {
				return fmt.Errorf("cannot find a post id in %q", args[0])
			}
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.DeletePost(cmd.Context(), rkey); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted post: %s\n", rkey)
			return nil
		},
	}
}

// engagement describes one of the like/repost toggles.
type engagement struct {
	use     string
	aliases []string
	short   string
	run     func(ctx context.Context, client *api.BlueskyAPI, ref *api.PostRef) (string, error)
}

func newEngagementCmd(a *App, e engagement) *cobra.Command {
	return &cobra.Command{
		Use:     e.use + " POST",
		Aliases: e.aliases,
		Short:   e.short,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := client.ResolvePostRef(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			msg, err := e.run(cmd.Context(), client, ref)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, msg)
			return nil
		},
	}
}

func newLikeCmd(a *App) *cobra.Command {
	return newEngagementCmd(a, engagement{
		use:     "like",
		aliases: []string{"l"},
		short:   "Like a post by URL",
		run: func(ctx context.Context, client *api.BlueskyAPI, ref *api.PostRef) (string, error) {
			if _, err := client.Like(ctx, ref.StrongRef()); err != nil {
				return "", err
			}
			return "Liked: " + ref.Display(), nil
		},
	})
}

func newUnlikeCmd(a *App) *cobra.Command {
	return newEngagementCmd(a, engagement{
		use:     "unlike",
		aliases: []string{"ul"},
		short:   "Remove your like from a post by URL",
		run: func(ctx context.Context, client *api.BlueskyAPI, ref *api.PostRef) (string, error) {
			like, _, err := client.ViewerRefs(ctx, ref.URI)
			if err != nil {
				return "", err
			}
			if like == "" {
				return "Not liked (nothing to undo).", nil
			}
			if err := client.Unlike(ctx, like); err != nil {
				return "", err
			}
			return "Unliked: " + ref.Display(), nil
		},
	})
}

func newRepostCmd(a *App) *cobra.Command {
	return newEngagementCmd(a, engagement{
		use:     "repost",
		aliases: []string{"rp"},
		short:   "Repost (boost) a post by URL",
		run: func(ctx context.Context, client *api.BlueskyAPI, ref *api.PostRef) (string, error) {
			if _, err := client.Repost(ctx, ref.StrongRef()); err != nil {
				return "", err
			}
			return "Reposted: " + ref.Display(), nil
		},
	})
}

func newUnrepostCmd(a *App) *cobra.Command {
	return newEngagementCmd(a, engagement{
		use:     "unrepost",
		aliases: []string{"urp"},
		short:   "Remove your repost from a post by URL",
		run: func(ctx context.Context, client *api.BlueskyAPI, ref *api.PostRef) (string, error) {
			_, repost, err := client.ViewerRefs(ctx, ref.URI)
			if err != nil {
				return "", err
			}
			if repost == "" {
				return "Not reposted (nothing to undo).", nil
			}
			if err := client.Unrepost(ctx, repost); err != nil {
				return "", err
			}
			return "Unreposted: " + ref.Display(), nil
		},
	})
}
