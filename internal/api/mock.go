package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/colthorp/bsky-cli-go/internal/core"
)

// Actor is an account known to the InMemoryTransport.
type Actor struct {
	DID         string
	Handle      string
	DisplayName string
	Description string
	Password    string
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	NSID   string
	Params url.Values
	Body   json.RawMessage
}

type fakeRecord struct {
	uri        string
	cid        string
	repo       string
	collection string
	rkey       string
	seq        int
	indexedAt  string

	post       *PostRecord
	subjectURI string
	subjectDID string
}

// InMemoryTransport is a lightweight simulation of a PDS + AppView.
// It implements the XRPC methods the CLI calls, enough for unit tests above
// the HTTP layer. Safe for concurrent use.
type InMemoryTransport struct {
	mu sync.Mutex

	actors        map[string]*Actor
	handles       map[string]string
	records       []*fakeRecord
	notifications []Notification
	failures      map[string][]error
	session       *Session
	seq           int

	// DefaultPageSize is used when a request carries no limit.
	DefaultPageSize int
	RequestLog      []RequestLogEntry
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		actors:          make(map[string]*Actor),
		handles:         make(map[string]string),
		failures:        make(map[string][]error),
		DefaultPageSize: 50,
		RequestLog:      make([]RequestLogEntry, 0),
	}
}

// AddActor registers an account.
func (t *InMemoryTransport) AddActor(a Actor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := a
	t.actors[a.DID] = &cp
	t.handles[a.Handle] = a.DID
}

// SeedPost stores a post by did and returns its URI.
func (t *InMemoryTransport) SeedPost(did, text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.insert(did, core.CollectionPost)
	rec.post = &PostRecord{Type: core.CollectionPost, Text: text, CreatedAt: rec.indexedAt}
	return rec.uri
}

// SeedFollow stores a follow of to by from and returns the record URI.
func (t *InMemoryTransport) SeedFollow(from, to string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.insert(from, core.CollectionFollow)
	rec.subjectDID = to
	return rec.uri
}

// SeedLike stores a like of postURI by did and returns the record URI.
func (t *InMemoryTransport) SeedLike(did, postURI string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.insert(did, core.CollectionLike)
	rec.subjectURI = postURI
	return rec.uri
}

// SeedNotification appends a notification for the logged-in account.
func (t *InMemoryTransport) SeedNotification(n Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications = append(t.notifications, n)
}

// FailNext makes the next len(errs) calls of nsid fail with errs, in order.
func (t *InMemoryTransport) FailNext(nsid string, errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[nsid] = append(t.failures[nsid], errs...)
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.RequestLog)
}

// Calls returns how many requests were made for nsid.
func (t *InMemoryTransport) Calls(nsid string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.RequestLog {
		if e.NSID == nsid {
			n++
		}
	}
	return n
}

// Following returns the DIDs did follows, oldest first.
func (t *InMemoryTransport) Following(did string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, r := range t.records {
		if r.repo == did && r.collection == core.CollectionFollow {
			out = append(out, r.subjectDID)
		}
	}
	return out
}

// Records returns the number of stored records in collection.
func (t *InMemoryTransport) Records(collection string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.records {
		if r.collection == collection {
			n++
		}
	}
	return n
}

// LastPost returns the most recently stored post record, or nil.
func (t *InMemoryTransport) LastPost() *PostRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].post != nil {
			cp := *t.records[i].post
			return &cp
		}
	}
	return nil
}

// SetSession implements Transport.
func (t *InMemoryTransport) SetSession(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = s
}

// Query implements Transport.
func (t *InMemoryTransport) Query(ctx context.Context, nsid string, params url.Values, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.RequestLog = append(t.RequestLog, RequestLogEntry{NSID: nsid, Params: copyParams(params)})
	if err := t.popFailure(nsid); err != nil {
		return err
	}

	var (
		resp interface{}
		err  error
	)
	switch nsid {
	case NSIDResolveHandle:
		resp, err = t.resolveHandle(params)
	case NSIDGetProfile:
		resp, err = t.getProfile(params)
	case NSIDGetTimeline:
		resp, err = t.getTimeline(params)
	case NSIDSearchPosts:
		resp, err = t.searchPosts(params)
	case NSIDGetPosts:
		resp, err = t.getPosts(params)
	case NSIDListNotifications:
		resp, err = t.listNotifications(params)
	case NSIDGetFollowers:
		resp, err = t.getFollowers(params)
	case NSIDGetFollows:
		resp, err = t.getFollows(params)
	default:
		err = &APIError{StatusCode: 501, Name: "MethodNotImplemented", Message: nsid}
	}
	if err != nil {
		return err
	}
	return roundTrip(resp, out)
}

// Procedure implements Transport.
func (t *InMemoryTransport) Procedure(ctx context.Context, nsid string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = data
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.RequestLog = append(t.RequestLog, RequestLogEntry{NSID: nsid, Body: raw})
	if err := t.popFailure(nsid); err != nil {
		return err
	}

	var (
		resp interface{}
		err  error
	)
	switch nsid {
	case NSIDCreateSession:
		resp, err = t.createSession(raw)
	case NSIDRefreshSession:
		resp, err = t.refreshSession()
	case NSIDCreateRecord:
		resp, err = t.createRecord(raw)
	case NSIDDeleteRecord:
		err = t.deleteRecord(raw)
	default:
		err = &APIError{StatusCode: 501, Name: "MethodNotImplemented", Message: nsid}
	}
	if err != nil {
		return err
	}
	if out == nil || resp == nil {
		return nil
	}
	return roundTrip(resp, out)
}

func roundTrip(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func copyParams(params url.Values) url.Values {
	cp := url.Values{}
	for k, v := range params {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}

func (t *InMemoryTransport) popFailure(nsid string) error {
	queue := t.failures[nsid]
	if len(queue) == 0 {
		return nil
	}
	t.failures[nsid] = queue[1:]
	return queue[0]
}

func invalid(msg string) error {
	return &APIError{StatusCode: 400, Name: "InvalidRequest", Message: msg}
}

func (t *InMemoryTransport) me() (string, error) {
	if t.session == nil || t.session.DID == "" {
		return "", &APIError{StatusCode: 401, Name: "AuthMissing", Message: "Authentication Required"}
	}
	return t.session.DID, nil
}

func (t *InMemoryTransport) insert(repo, collection string) *fakeRecord {
	t.seq++
	rkey := fmt.Sprintf("3kfake%04d", t.seq)
	rec := &fakeRecord{
		uri:        core.RecordURI(repo, collection, rkey),
		cid:        fmt.Sprintf("bafyfake%04d", t.seq),
		repo:       repo,
		collection: collection,
		rkey:       rkey,
		seq:        t.seq,
		indexedAt:  time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC).Add(time.Duration(t.seq) * time.Minute).Format(time.RFC3339),
	}
	t.records = append(t.records, rec)
	return rec
}

func (t *InMemoryTransport) lookupActor(actor string) (*Actor, error) {
	actor = strings.TrimPrefix(actor, "@")
	did := actor
	if !core.IsDID(actor) {
		did = t.handles[actor]
	}
	if a, ok := t.actors[did]; ok {
		return a, nil
	}
	return nil, invalid("Profile not found")
}

func (t *InMemoryTransport) findFollow(from, to string) *fakeRecord {
	for _, r := range t.records {
		if r.collection == core.CollectionFollow && r.repo == from && r.subjectDID == to {
			return r
		}
	}
	return nil
}

func (t *InMemoryTransport) basic(did string) ProfileViewBasic {
	view := ProfileViewBasic{DID: did, Handle: "handle.invalid"}
	if a, ok := t.actors[did]; ok {
		view.Handle = a.Handle
		view.DisplayName = a.DisplayName
	}
	if t.session != nil && t.session.DID != "" && t.session.DID != did {
		viewer := &ViewerState{}
		if r := t.findFollow(t.session.DID, did); r != nil {
			viewer.Following = r.uri
		}
		if r := t.findFollow(did, t.session.DID); r != nil {
			viewer.FollowedBy = r.uri
		}
		view.Viewer = viewer
	}
	return view
}

func (t *InMemoryTransport) postView(rec *fakeRecord) PostView {
	view := PostView{
		URI:       rec.uri,
		CID:       rec.cid,
		Author:    t.basic(rec.repo),
		Record:    *rec.post,
		IndexedAt: rec.indexedAt,
	}
	viewer := &PostViewerState{}
	for _, r := range t.records {
		if r.subjectURI != rec.uri {
			continue
		}
		switch r.collection {
		case core.CollectionLike:
			view.LikeCount++
			if t.session != nil && r.repo == t.session.DID {
				viewer.Like = r.uri
			}
		case core.CollectionRepost:
			view.RepostCount++
			if t.session != nil && r.repo == t.session.DID {
				viewer.Repost = r.uri
			}
		}
	}
	if viewer.Like != "" || viewer.Repost != "" {
		view.Viewer = viewer
	}
	return view
}

// newestPosts returns post records matching keep, newest first.
func (t *InMemoryTransport) newestPosts(keep func(*fakeRecord) bool) []*fakeRecord {
	var out []*fakeRecord
	for _, r := range t.records {
		if r.post != nil && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

func paginate[T any](items []T, params url.Values, def int) ([]T, string) {
	offset, _ := strconv.Atoi(params.Get("cursor"))
	limit, _ := strconv.Atoi(params.Get("limit"))
	if limit <= 0 {
		limit = def
	}
	if offset >= len(items) {
		return []T{}, ""
	}
	end := offset + limit
	if end >= len(items) {
		return items[offset:], ""
	}
	return items[offset:end], strconv.Itoa(end)
}

func (t *InMemoryTransport) resolveHandle(params url.Values) (interface{}, error) {
	did, ok := t.handles[params.Get("handle")]
	if !ok {
		return nil, invalid("Unable to resolve handle")
	}
	return ResolveHandleResponse{DID: did}, nil
}

func (t *InMemoryTransport) getProfile(params url.Values) (interface{}, error) {
	a, err := t.lookupActor(params.Get("actor"))
	if err != nil {
		return nil, err
	}
	basic := t.basic(a.DID)
	view := ProfileViewDetailed{
		DID:         a.DID,
		Handle:      a.Handle,
		DisplayName: a.DisplayName,
		Description: a.Description,
		Viewer:      basic.Viewer,
	}
	for _, r := range t.records {
		switch {
		case r.collection == core.CollectionFollow && r.subjectDID == a.DID:
			view.FollowersCount++
		case r.collection == core.CollectionFollow && r.repo == a.DID:
			view.FollowsCount++
		case r.post != nil && r.repo == a.DID:
			view.PostsCount++
		}
	}
	return view, nil
}

func (t *InMemoryTransport) getTimeline(params url.Values) (interface{}, error) {
	me, err := t.me()
	if err != nil {
		return nil, err
	}
	posts := t.newestPosts(func(r *fakeRecord) bool {
		return r.repo == me || t.findFollow(me, r.repo) != nil
	})
	page, cursor := paginate(posts, params, t.DefaultPageSize)
	resp := TimelineResponse{Feed: []FeedViewPost{}, Cursor: cursor}
	for _, r := range page {
		resp.Feed = append(resp.Feed, FeedViewPost{Post: t.postView(r)})
	}
	return resp, nil
}

func (t *InMemoryTransport) searchPosts(params url.Values) (interface{}, error) {
	if _, err := t.me(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(params.Get("q")))
	if q == "" {
		return nil, invalid("Error: Params must have the property \"q\"")
	}
	posts := t.newestPosts(func(r *fakeRecord) bool {
		return strings.Contains(strings.ToLower(r.post.Text), q)
	})
	page, cursor := paginate(posts, params, t.DefaultPageSize)
	resp := SearchPostsResponse{Posts: []PostView{}, Cursor: cursor, HitsTotal: len(posts)}
	for _, r := range page {
		resp.Posts = append(resp.Posts, t.postView(r))
	}
	return resp, nil
}

func (t *InMemoryTransport) getPosts(params url.Values) (interface{}, error) {
	resp := GetPostsResponse{Posts: []PostView{}}
	for _, uri := range params["uris"] {
		for _, r := range t.records {
			if r.uri == uri && r.post != nil {
				resp.Posts = append(resp.Posts, t.postView(r))
			}
		}
	}
	return resp, nil
}

func (t *InMemoryTransport) listNotifications(params url.Values) (interface{}, error) {
	if _, err := t.me(); err != nil {
		return nil, err
	}
	page, cursor := paginate(t.notifications, params, t.DefaultPageSize)
	return ListNotificationsResponse{Notifications: page, Cursor: cursor}, nil
}

func (t *InMemoryTransport) getFollowers(params url.Values) (interface{}, error) {
	a, err := t.lookupActor(params.Get("actor"))
	if err != nil {
		return nil, err
	}
	var all []ProfileViewBasic
	for i := len(t.records) - 1; i >= 0; i-- {
		r := t.records[i]
		if r.collection == core.CollectionFollow && r.subjectDID == a.DID {
			all = append(all, t.basic(r.repo))
		}
	}
	page, cursor := paginate(all, params, t.DefaultPageSize)
	return FollowersResponse{Subject: t.basic(a.DID), Followers: page, Cursor: cursor}, nil
}

func (t *InMemoryTransport) getFollows(params url.Values) (interface{}, error) {
	a, err := t.lookupActor(params.Get("actor"))
	if err != nil {
		return nil, err
	}
	var all []ProfileViewBasic
	for i := len(t.records) - 1; i >= 0; i-- {
		r := t.records[i]
		if r.collection == core.CollectionFollow && r.repo == a.DID {
			all = append(all, t.basic(r.subjectDID))
		}
	}
	page, cursor := paginate(all, params, t.DefaultPageSize)
	return FollowsResponse{Subject: t.basic(a.DID), Follows: page, Cursor: cursor}, nil
}

func (t *InMemoryTransport) createSession(raw json.RawMessage) (interface{}, error) {
	var in CreateSessionInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalid(err.Error())
	}
	a, err := t.lookupActor(in.Identifier)
	if err != nil || a.Password != in.Password {
		return nil, &APIError{StatusCode: 401, Name: "AuthenticationRequired", Message: "Invalid identifier or password"}
	}
	t.seq++
	return Session{
		AccessJwt:  fmt.Sprintf("access-%d", t.seq),
		RefreshJwt: fmt.Sprintf("refresh-%d", t.seq),
		Handle:     a.Handle,
		DID:        a.DID,
	}, nil
}

func (t *InMemoryTransport) refreshSession() (interface{}, error) {
	if t.session == nil {
		return nil, &APIError{StatusCode: 401, Name: "AuthMissing", Message: "Authentication Required"}
	}
	t.seq++
	s := *t.session
	s.AccessJwt = fmt.Sprintf("access-%d", t.seq)
	s.RefreshJwt = fmt.Sprintf("refresh-%d", t.seq)
	return s, nil
}

func (t *InMemoryTransport) createRecord(raw json.RawMessage) (interface{}, error) {
	me, err := t.me()
	if err != nil {
		return nil, err
	}
	var in struct {
		Repo       string          `json:"repo"`
		Collection string          `json:"collection"`
		Record     json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalid(err.Error())
	}
	if in.Repo != me {
		return nil, invalid("Invalid repo")
	}

	switch in.Collection {
	case core.CollectionPost:
		var post PostRecord
		if err := json.Unmarshal(in.Record, &post); err != nil {
			return nil, invalid(err.Error())
		}
		rec := t.insert(me, in.Collection)
		rec.post = &post
		return CreateRecordOutput{URI: rec.uri, CID: rec.cid}, nil
	case core.CollectionLike, core.CollectionRepost:
		var like LikeRecord
		if err := json.Unmarshal(in.Record, &like); err != nil {
			return nil, invalid(err.Error())
		}
		rec := t.insert(me, in.Collection)
		rec.subjectURI = like.Subject.URI
		return CreateRecordOutput{URI: rec.uri, CID: rec.cid}, nil
	case core.CollectionFollow:
		var follow FollowRecord
		if err := json.Unmarshal(in.Record, &follow); err != nil {
			return nil, invalid(err.Error())
		}
		if t.findFollow(me, follow.Subject) != nil {
			return nil, &APIError{StatusCode: 400, Name: "AlreadyExists", Message: "Record already exists"}
		}
		rec := t.insert(me, in.Collection)
		rec.subjectDID = follow.Subject
		return CreateRecordOutput{URI: rec.uri, CID: rec.cid}, nil
	default:
		return nil, invalid("Unsupported collection " + in.Collection)
	}
}

func (t *InMemoryTransport) deleteRecord(raw json.RawMessage) error {
	me, err := t.me()
	if err != nil {
		return err
	}
	var in DeleteRecordInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return invalid(err.Error())
	}
	if in.Repo != me {
		return invalid("Invalid repo")
	}
	for i, r := range t.records {
		if r.repo == in.Repo && r.collection == in.Collection && r.rkey == in.RKey {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return nil
		}
	}
	return nil
}
