package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/colthorp/bsky-cli-go/internal/core"
)

// ErrNotLoggedIn is returned by calls that need a session before one exists.
var ErrNotLoggedIn = errors.New("not logged in")

const handleCacheTTL = 10 * time.Minute

// BlueskyAPI provides a typed convenience layer over a Transport.
type BlueskyAPI struct {
	transport Transport
	handles   *gocache.Cache

	mu      sync.RWMutex
	session *Session

	now func() time.Time
}

// NewBlueskyAPI creates a new high-level API client.
func NewBlueskyAPI(transport Transport) *BlueskyAPI {
	if transport == nil {
		transport = NewClient("")
	}
	return &BlueskyAPI{
		transport: transport,
		// No janitor goroutine; expired entries are skipped on Get.
		handles:   gocache.New(handleCacheTTL, gocache.NoExpiration),
		now:       time.Now,
	}
}

// Login creates a session with an app password and installs it.
func (a *BlueskyAPI) Login(ctx context.Context, identifier, password string) (*Session, error) {
	var s Session
	in := CreateSessionInput{Identifier: identifier, Password: password}
	if err := a.transport.Procedure(ctx, NSIDCreateSession, in, &s); err != nil {
		return nil, fmt.Errorf("login as %s failed: %w", identifier, err)
	}
	a.ResumeSession(&s)
	return &s, nil
}

// ResumeSession installs a previously obtained session.
func (a *BlueskyAPI) ResumeSession(s *Session) {
	a.transport.SetSession(s)
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
	if s != nil && s.Handle != "" && s.DID != "" {
		a.handles.Set(s.Handle, s.DID, gocache.DefaultExpiration)
	}
}

// Me returns the logged-in account.
func (a *BlueskyAPI) Me() (*Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil || a.session.DID == "" {
		return nil, ErrNotLoggedIn
	}
	return a.session, nil
}

func pageParams(limit int, cursor string) url.Values {
	params := url.Values{}
	if limit > 0 {
		if limit > core.MaxPageSize {
			limit = core.MaxPageSize
		}
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return params
}

// GetTimeline fetches one page of the home timeline.
func (a *BlueskyAPI) GetTimeline(ctx context.Context, limit int, cursor string) (*TimelineResponse, error) {
	var out TimelineResponse
	if err := a.transport.Query(ctx, NSIDGetTimeline, pageParams(limit, cursor), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchPosts runs a full-text post search.
func (a *BlueskyAPI) SearchPosts(ctx context.Context, query string, limit int, cursor string) (*SearchPostsResponse, error) {
	params := pageParams(limit, cursor)
	params.Set("q", query)
	var out SearchPostsResponse
	if err := a.transport.Query(ctx, NSIDSearchPosts, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNotifications fetches one page of notifications.
func (a *BlueskyAPI) ListNotifications(ctx context.Context, limit int, cursor string) (*ListNotificationsResponse, error) {
	var out ListNotificationsResponse
	if err := a.transport.Query(ctx, NSIDListNotifications, pageParams(limit, cursor), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProfile fetches the profile of a handle or DID.
func (a *BlueskyAPI) GetProfile(ctx context.Context, actor string) (*ProfileViewDetailed, error) {
	params := url.Values{}
	params.Set("actor", actor)
	var out ProfileViewDetailed
	if err := a.transport.Query(ctx, NSIDGetProfile, params, &out); err != nil {
		return nil, err
	}
	if out.DID != "" && out.Handle != "" {
		a.handles.Set(out.Handle, out.DID, gocache.DefaultExpiration)
	}
	return &out, nil
}

// ResolveHandle returns the DID of handle. DIDs are returned unchanged and
// answers are remembered for a few minutes.
func (a *BlueskyAPI) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if core.IsDID(handle) {
		return handle, nil
	}
	if did, ok := a.handles.Get(handle); ok {
		return did.(string), nil
	}

	params := url.Values{}
	params.Set("handle", handle)
	var out ResolveHandleResponse
	if err := a.transport.Query(ctx, NSIDResolveHandle, params, &out); err != nil {
		return "", fmt.Errorf("resolving %s: %w", handle, err)
	}
	if out.DID == "" {
		return "", fmt.Errorf("resolving %s: %w", handle, ErrNotFound)
	}
	a.handles.Set(handle, out.DID, gocache.DefaultExpiration)
	return out.DID, nil
}

// GetPosts hydrates posts by at:// URI.
func (a *BlueskyAPI) GetPosts(ctx context.Context, uris ...string) ([]PostView, error) {
	params := url.Values{}
	for _, uri := range uris {
		params.Add("uris", uri)
	}
	var out GetPostsResponse
	if err := a.transport.Query(ctx, NSIDGetPosts, params, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

func (a *BlueskyAPI) timestamp() string {
	return a.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (a *BlueskyAPI) createRecord(ctx context.Context, collection string, record interface{}) (*CreateRecordOutput, error) {
	me, err := a.Me()
	if err != nil {
		return nil, err
	}
	in := CreateRecordInput{Repo: me.DID, Collection: collection, Record: record}
	var out CreateRecordOutput
	if err := a.transport.Procedure(ctx, NSIDCreateRecord, in, &out); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"collection": collection, "uri": out.URI}).Debug("record created")
	return &out, nil
}

func (a *BlueskyAPI) deleteRecord(ctx context.Context, uri string) error {
	me, err := a.Me()
	if err != nil {
		return err
	}
	ref, err := ParseATURI(uri)
	if err != nil {
		return err
	}
	if ref.Repo != me.DID {
		return fmt.Errorf("record %s is not owned by %s", uri, me.Handle)
	}
	in := DeleteRecordInput{Repo: ref.Repo, Collection: ref.Collection, RKey: ref.RKey}
	return a.transport.Procedure(ctx, NSIDDeleteRecord, in, nil)
}

// CreatePost publishes a post. facets and embed may be nil.
func (a *BlueskyAPI) CreatePost(ctx context.Context, text string, facets []Facet, embed *Embed) (*CreateRecordOutput, error) {
	record := PostRecord{
		Type:      core.CollectionPost,
		Text:      text,
		CreatedAt: a.timestamp(),
		Facets:    facets,
		Embed:     embed,
	}
	return a.createRecord(ctx, core.CollectionPost, record)
}

// DeletePost removes one of the caller's posts by record key.
func (a *BlueskyAPI) DeletePost(ctx context.Context, rkey string) error {
	me, err := a.Me()
	if err != nil {
		return err
	}
	return a.deleteRecord(ctx, core.RecordURI(me.DID, core.CollectionPost, rkey))
}

// Like likes the referenced post.
func (a *BlueskyAPI) Like(ctx context.Context, subject StrongRef) (*CreateRecordOutput, error) {
	return a.createRecord(ctx, core.CollectionLike, LikeRecord{
		Type:      core.CollectionLike,
		Subject:   subject,
		CreatedAt: a.timestamp(),
	})
}

// Unlike deletes a like record.
func (a *BlueskyAPI) Unlike(ctx context.Context, likeURI string) error {
	return a.deleteRecord(ctx, likeURI)
}

// Repost reposts the referenced post.
func (a *BlueskyAPI) Repost(ctx context.Context, subject StrongRef) (*CreateRecordOutput, error) {
	return a.createRecord(ctx, core.CollectionRepost, LikeRecord{
		Type:      core.CollectionRepost,
		Subject:   subject,
		CreatedAt: a.timestamp(),
	})
}

// Unrepost deletes a repost record.
func (a *BlueskyAPI) Unrepost(ctx context.Context, repostURI string) error {
	return a.deleteRecord(ctx, repostURI)
}

// Follow creates a follow record for did.
func (a *BlueskyAPI) Follow(ctx context.Context, did string) (*CreateRecordOutput, error) {
	return a.createRecord(ctx, core.CollectionFollow, FollowRecord{
		Type:      core.CollectionFollow,
		Subject:   did,
		CreatedAt: a.timestamp(),
	})
}

// Unfollow deletes a follow record.
func (a *BlueskyAPI) Unfollow(ctx context.Context, followURI string) error {
	return a.deleteRecord(ctx, followURI)
}

// GetFollowers fetches one page of actor's followers.
func (a *BlueskyAPI) GetFollowers(ctx context.Context, actor string, limit int, cursor string) (*FollowersResponse, error) {
	params := pageParams(limit, cursor)
	params.Set("actor", actor)
	var out FollowersResponse
	if err := a.transport.Query(ctx, NSIDGetFollowers, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFollows fetches one page of the accounts actor follows.
func (a *BlueskyAPI) GetFollows(ctx context.Context, actor string, limit int, cursor string) (*FollowsResponse, error) {
	params := pageParams(limit, cursor)
	params.Set("actor", actor)
	var out FollowsResponse
	if err := a.transport.Query(ctx, NSIDGetFollows, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PageFunc fetches the page at cursor and returns its items and the next
// cursor ("" when there are no more pages).
type PageFunc[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// Paginate yields items across cursor-paginated responses until the pages
// run out, limit items (when > 0) have been yielded, or yield returns false.
// It returns the number of items yielded.
func Paginate[T any](ctx context.Context, limit int, fetch PageFunc[T], yield func(T) bool) (int, error) {
	fetched := 0
	pages := 0
	cursor := ""
	seen := map[string]bool{}

	for {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return fetched, err
		}
		pages++
		log.WithFields(log.Fields{"page": pages, "items": len(items), "total": fetched + len(items)}).Debug("fetched page")

		for _, item := range items {
			if limit > 0 && fetched >= limit {
				return fetched, nil
			}
			fetched++
			if !yield(item) {
				return fetched, nil
			}
		}

		if len(items) == 0 || next == "" || seen[next] || (limit > 0 && fetched >= limit) {
			break
		}
		seen[next] = true
		cursor = next
	}
	log.WithFields(log.Fields{"items": fetched, "pages": pages}).Debug("pagination complete")
	return fetched, nil
}
