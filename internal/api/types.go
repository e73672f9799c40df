// Package api provides the XRPC client and the subset of the AT Protocol /
// Bluesky lexicons the CLI uses.
package api

import (
	"context"
	"encoding/json"
	"net/url"
)

// Transport is the interface for making XRPC requests.
type Transport interface {
	// Query performs a GET of /xrpc/<nsid> and decodes the response into out.
	Query(ctx context.Context, nsid string, params url.Values, out interface{}) error
	// Procedure performs a POST of body to /xrpc/<nsid>. out may be nil.
	Procedure(ctx context.Context, nsid string, body, out interface{}) error
	// SetSession installs the credentials used for subsequent calls.
	SetSession(s *Session)
}

// Session is the result of com.atproto.server.createSession / refreshSession.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
	Email      string `json:"email,omitempty"`
	Active     *bool  `json:"active,omitempty"`
}

// CreateSessionInput is the body of com.atproto.server.createSession.
type CreateSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// ViewerState is the relationship of the logged-in account to an actor.
type ViewerState struct {
	Muted      bool   `json:"muted,omitempty"`
	BlockedBy  bool   `json:"blockedBy,omitempty"`
	Following  string `json:"following,omitempty"`
	FollowedBy string `json:"followedBy,omitempty"`
}

// ProfileViewBasic is the compact actor view embedded in posts and lists.
type ProfileViewBasic struct {
	DID         string       `json:"did"`
	Handle      string       `json:"handle"`
	DisplayName string       `json:"displayName,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	Viewer      *ViewerState `json:"viewer,omitempty"`
}

// ProfileViewDetailed is returned by app.bsky.actor.getProfile.
type ProfileViewDetailed struct {
	DID            string       `json:"did"`
	Handle         string       `json:"handle"`
	DisplayName    string       `json:"displayName,omitempty"`
	Description    string       `json:"description,omitempty"`
	FollowersCount int          `json:"followersCount"`
	FollowsCount   int          `json:"followsCount"`
	PostsCount     int          `json:"postsCount"`
	IndexedAt      string       `json:"indexedAt,omitempty"`
	Viewer         *ViewerState `json:"viewer,omitempty"`
}

// ByteSlice addresses a span of the post text in UTF-8 bytes.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Facet feature types.
const (
	FacetLink    = "app.bsky.richtext.facet#link"
	FacetTag     = "app.bsky.richtext.facet#tag"
	FacetMention = "app.bsky.richtext.facet#mention"
)

// FacetFeature is one of link, tag or mention, discriminated by Type.
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
	DID  string `json:"did,omitempty"`
}

// Facet annotates a span of post text.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// StrongRef is com.atproto.repo.strongRef.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// EmbedRecordType is the $type of a quote embed.
const EmbedRecordType = "app.bsky.embed.record"

// Embed is the subset of post embeds the CLI writes (quotes). Other embed
// kinds decode with only Type set.
type Embed struct {
	Type   string     `json:"$type"`
	Record *StrongRef `json:"record,omitempty"`
}

// PostRecord is an app.bsky.feed.post record.
type PostRecord struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Facets    []Facet  `json:"facets,omitempty"`
	Embed     *Embed   `json:"embed,omitempty"`
	Langs     []string `json:"langs,omitempty"`
}

// LikeRecord is an app.bsky.feed.like record. Reposts share its shape.
type LikeRecord struct {
	Type      string    `json:"$type"`
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// FollowRecord is an app.bsky.graph.follow record.
type FollowRecord struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// PostViewerState holds the viewer's like/repost record URIs for a post.
type PostViewerState struct {
	Like   string `json:"like,omitempty"`
	Repost string `json:"repost,omitempty"`
}

// PostView is a hydrated post.
type PostView struct {
	URI         string           `json:"uri"`
	CID         string           `json:"cid"`
	Author      ProfileViewBasic `json:"author"`
	Record      PostRecord       `json:"record"`
	ReplyCount  int              `json:"replyCount"`
	RepostCount int              `json:"repostCount"`
	LikeCount   int              `json:"likeCount"`
	QuoteCount  int              `json:"quoteCount"`
	IndexedAt   string           `json:"indexedAt"`
	Viewer      *PostViewerState `json:"viewer,omitempty"`
}

// FeedReason explains why a post is in a feed (e.g. a repost).
type FeedReason struct {
	Type string            `json:"$type"`
	By   *ProfileViewBasic `json:"by,omitempty"`
}

// FeedViewPost is one entry of a feed.
type FeedViewPost struct {
	Post   PostView    `json:"post"`
	Reason *FeedReason `json:"reason,omitempty"`
}

// TimelineResponse is returned by app.bsky.feed.getTimeline.
type TimelineResponse struct {
	Feed   []FeedViewPost `json:"feed"`
	Cursor string         `json:"cursor,omitempty"`
}

// SearchPostsResponse is returned by app.bsky.feed.searchPosts.
type SearchPostsResponse struct {
	Posts     []PostView `json:"posts"`
	Cursor    string     `json:"cursor,omitempty"`
	HitsTotal int        `json:"hitsTotal,omitempty"`
}

// GetPostsResponse is returned by app.bsky.feed.getPosts.
type GetPostsResponse struct {
	Posts []PostView `json:"posts"`
}

// Notification is one entry of app.bsky.notification.listNotifications.
type Notification struct {
	URI           string           `json:"uri"`
	CID           string           `json:"cid"`
	Author        ProfileViewBasic `json:"author"`
	Reason        string           `json:"reason"`
	ReasonSubject string           `json:"reasonSubject,omitempty"`
	Record        json.RawMessage  `json:"record,omitempty"`
	IsRead        bool             `json:"isRead"`
	IndexedAt     string           `json:"indexedAt"`
}

// ListNotificationsResponse is returned by app.bsky.notification.listNotifications.
type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Cursor        string         `json:"cursor,omitempty"`
}

// ResolveHandleResponse is returned by com.atproto.identity.resolveHandle.
type ResolveHandleResponse struct {
	DID string `json:"did"`
}

// FollowersResponse is returned by app.bsky.graph.getFollowers.
type FollowersResponse struct {
	Subject   ProfileViewBasic   `json:"subject"`
	Followers []ProfileViewBasic `json:"followers"`
	Cursor    string             `json:"cursor,omitempty"`
}

// FollowsResponse is returned by app.bsky.graph.getFollows.
type FollowsResponse struct {
	Subject ProfileViewBasic   `json:"subject"`
	Follows []ProfileViewBasic `json:"follows"`
	Cursor  string             `json:"cursor,omitempty"`
}

// CreateRecordInput is the body of com.atproto.repo.createRecord.
type CreateRecordInput struct {
	Repo       string      `json:"repo"`
	Collection string      `json:"collection"`
	RKey       string      `json:"rkey,omitempty"`
	Record     interface{} `json:"record"`
}

// CreateRecordOutput is returned by com.atproto.repo.createRecord.
type CreateRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// DeleteRecordInput is the body of com.atproto.repo.deleteRecord.
type DeleteRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

// NSIDs used by the client.
const (
	NSIDCreateSession     = "com.atproto.server.createSession"
	NSIDRefreshSession    = "com.atproto.server.refreshSession"
	NSIDGetSession        = "com.atproto.server.getSession"
	NSIDResolveHandle     = "com.atproto.identity.resolveHandle"
	NSIDCreateRecord      = "com.atproto.repo.createRecord"
	NSIDDeleteRecord      = "com.atproto.repo.deleteRecord"
	NSIDGetTimeline       = "app.bsky.feed.getTimeline"
	NSIDSearchPosts       = "app.bsky.feed.searchPosts"
	NSIDGetPosts          = "app.bsky.feed.getPosts"
	NSIDListNotifications = "app.bsky.notification.listNotifications"
	NSIDGetProfile        = "app.bsky.actor.getProfile"
	NSIDGetFollowers      = "app.bsky.graph.getFollowers"
	NSIDGetFollows        = "app.bsky.graph.getFollows"
)
