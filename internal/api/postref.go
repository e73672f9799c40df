package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/goware/urlx"

	"github.com/colthorp/bsky-cli-go/internal/core"
)

// PostRef identifies a post for likes, reposts and quotes.
type PostRef struct {
	URI       string
	CID       string
	PublicURL string
}

// StrongRef returns the {uri, cid} pair records point at.
func (r PostRef) StrongRef() StrongRef {
	return StrongRef{URI: r.URI, CID: r.CID}
}

// Display returns the public URL when known, else the at:// URI.
func (r PostRef) Display() string {
	if r.PublicURL != "" {
		return r.PublicURL
	}
	return r.URI
}

// ATURI is a parsed at://<repo>/<collection>/<rkey>.
type ATURI struct {
	Repo       string
	Collection string
	RKey       string
}

// ParseATURI splits a record URI.
func ParseATURI(uri string) (ATURI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ATURI{}, fmt.Errorf("not an at:// URI: %q", uri)
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ATURI{}, fmt.Errorf("not a record URI: %q", uri)
	}
	return ATURI{Repo: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// ParsePostURL extracts the author and record key from a
// https://bsky.app/profile/<handle>/post/<rkey> URL. The scheme is optional.
func ParsePostURL(value string) (actor, rkey string, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "at://") {
		return "", "", false
	}
	u, err := urlx.Parse(value)
	if err != nil {
		return "", "", false
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if host != "bsky.app" {
		return "", "", false
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 4 || segs[0] != "profile" || segs[2] != "post" || segs[1] == "" || segs[3] == "" {
		return "", "", false
	}
	return segs[1], segs[3], true
}

// ResolvePostRef turns a bsky.app post URL or an at:// URI into a PostRef,
// fetching the CID from the AppView.
func (a *BlueskyAPI) ResolvePostRef(ctx context.Context, value string) (*PostRef, error) {
	value = strings.TrimSpace(value)

	if actor, rkey, ok := ParsePostURL(value); ok {
		did, err := a.ResolveHandle(ctx, actor)
		if err != nil {
			return nil, err
		}
		post, err := a.getPost(ctx, core.RecordURI(did, core.CollectionPost, rkey))
		if err != nil {
			return nil, fmt.Errorf("could not resolve post (use the original post URL with author handle and post id): %w", err)
		}
		return &PostRef{URI: post.URI, CID: post.CID, PublicURL: core.PostURL(actor, rkey)}, nil
	}

	if strings.HasPrefix(value, "at://") {
		post, err := a.getPost(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("could not resolve post: %w", err)
		}
		return &PostRef{URI: post.URI, CID: post.CID}, nil
	}

	return nil, fmt.Errorf("unsupported post reference %q (use a bsky.app post URL or at:// URI)", value)
}

func (a *BlueskyAPI) getPost(ctx context.Context, uri string) (*PostView, error) {
	posts, err := a.GetPosts(ctx, uri)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	return &posts[0], nil
}

// ViewerRefs returns the caller's like and repost record URIs for a post;
// either is empty when absent.
func (a *BlueskyAPI) ViewerRefs(ctx context.Context, uri string) (like, repost string, err error) {
	posts, err := a.GetPosts(ctx, uri)
	if err != nil {
		return "", "", err
	}
	if len(posts) == 0 || posts[0].Viewer == nil {
		return "", "", nil
	}
	return posts[0].Viewer.Like, posts[0].Viewer.Repost, nil
}
