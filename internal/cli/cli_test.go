package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/cache"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	aliceDID = "did:plc:alice"
	bobDID   = "did:plc:bob"
	carolDID = "did:plc:carol"
)

// harness runs the command tree against a fake PDS, an in-memory session
// cache and a temporary profile store.
type harness struct {
	t        *testing.T
	pds      *api.InMemoryTransport
	sessions *cache.MemoryBackend
	dir      string
	config   string
	stdin    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pds := api.NewInMemoryTransport()
	pds.AddActor(api.Actor{DID: aliceDID, Handle: "alice.bsky.social", DisplayName: "Alice", Password: "pw-alice"})
	pds.AddActor(api.Actor{DID: bobDID, Handle: "bob.bsky.social", DisplayName: "Bob", Password: "pw-bob"})
	pds.AddActor(api.Actor{DID: carolDID, Handle: "carol.bsky.social", Password: "pw-carol"})

	dir := t.TempDir()
	return &harness{
		t:        t,
		pds:      pds,
		sessions: cache.NewMemoryBackend(),
		dir:      dir,
		config:   filepath.Join(dir, "config.json"),
	}
}

func (h *harness) run(args ...string) (string, string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer

	app := NewApp()
	app.in = strings.NewReader(h.stdin)
	app.out = &out
	app.errOut = &errOut
	app.NewTransport = func(string, ...api.Option) api.Transport { return h.pds }
	app.Sessions = cache.NewManager(h.sessions)
	app.IsTerminal = func() bool { return false }

	cmd := newRootCmd(app)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.config, "--no-throttle"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, errOut, err := h.run(args...)
	require.NoError(h.t, err, "stderr: %s", errOut)
	return out
}

func (h *harness) login(name, handle, password string) {
	h.t.Helper()
	h.mustRun("login", "--name", name, "--handle", handle, "--password", password)
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestLoginAndAccounts(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("login", "--name", "work", "--handle", "@alice", "--password", "pw-alice")
	assert.Equal(t, "Logged in profile 'work' as alice.bsky.social (did:plc:alice) (active)\n", out)

	out = h.mustRun("login", "--name", "play", "--handle", "bob.bsky.social", "--password", "pw-bob")
	assert.Equal(t, "Logged in profile 'play' as bob.bsky.social (did:plc:bob)\n", out)
	assert.Equal(t, 2, h.sessions.Len())

	out = h.mustRun("accounts")
	assert.Equal(t,
		"  play: bob.bsky.social  did:plc:bob\n"+
			"* work: alice.bsky.social  did:plc:alice\n",
		out)

	data, err := os.ReadFile(h.config)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"active": "work"`)
}

func TestLoginRequiresPasswordWithoutTerminal(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("login", "--handle", "alice")
	assert.ErrorContains(t, err, "--password is required")
}

func TestLoginBadPassword(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("login", "--handle", "alice", "--password", "wrong")
	assert.ErrorContains(t, err, "login failed")
	assert.Equal(t, 0, h.sessions.Len())

	_, statErr := os.Stat(h.config)
	assert.True(t, os.IsNotExist(statErr), "config must not be written on failed login")
}

func TestAccountsEmpty(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("accounts")
	assert.Contains(t, out, "No profiles configured.")
}

func TestAccountsJSON(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")

	out := h.mustRun("accounts", "-o", "json")
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "work", got[0]["name"])
	assert.Equal(t, true, got[0]["active"])
	assert.NotContains(t, out, "pw-alice")
}

func TestUseAndWhoami(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.login("play", "bob", "pw-bob")

	out := h.mustRun("whoami")
	assert.Equal(t, "Profile: work\nHandle: alice.bsky.social\nDID: did:plc:alice\n", out)

	assert.Equal(t, "Active profile set to 'play'\n", h.mustRun("use", "play"))
	assert.Contains(t, h.mustRun("whoami"), "Handle: bob.bsky.social")

	// --profile wins over the active profile.
	assert.Contains(t, h.mustRun("--profile", "work", "whoami"), "Handle: alice.bsky.social")

	_, _, err := h.run("use", "nope")
	assert.ErrorContains(t, err, "unknown profile")
}

func TestWhoamiNotLoggedIn(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "Not logged in\n", h.mustRun("whoami"))
}

func TestCommandsReuseCachedSession(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	require.Equal(t, 1, h.pds.Calls(api.NSIDCreateSession))

	h.mustRun("whoami")
	h.mustRun("timeline")
	assert.Equal(t, 1, h.pds.Calls(api.NSIDCreateSession))
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.login("play", "bob", "pw-bob")

	assert.Equal(t, "Removed profile 'play'\n", h.mustRun("logout", "play"))
	assert.Equal(t, 1, h.sessions.Len())
	assert.NotContains(t, h.mustRun("accounts"), "play")
}

func TestTimeline(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedFollow(aliceDID, bobDID)
	h.pds.SeedPost(bobDID, "hello from bob")
	h.pds.SeedPost(carolDID, "carol is not followed")

	out := h.mustRun("timeline", "-n", "5")
	assert.Contains(t, out, "@bob.bsky.social")
	assert.Contains(t, out, "hello from bob")
	assert.NotContains(t, out, "carol")

	out = h.mustRun("tl", "--raw")
	var feed []api.FeedViewPost
	require.NoError(t, json.Unmarshal([]byte(out), &feed))
	require.Len(t, feed, 1)
	assert.Equal(t, "hello from bob", feed[0].Post.Record.Text)
}

func TestTimelineRejectsZeroCount(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("timeline", "-n", "0")
	assert.EqualError(t, err, "--count must be > 0")
}

func TestTimelineWithoutProfile(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("timeline")
	assert.ErrorContains(t, err, "no profile selected")
	assert.ErrorContains(t, err, "bsky login")
}

func TestCollectLargeCount(t *testing.T) {
	pages := 0
	var fetch api.PageFunc[string] = func(ctx context.Context, cursor string) ([]string, string, error) {
		pages++
		return []string{"a", "b"}, "", nil
	}

	items, err := collect(context.Background(), 2_000_000_000, fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
	assert.LessOrEqual(t, cap(items), core.MaxPageSize)
	assert.Equal(t, 1, pages)
}

func TestTimelineLargeCount(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedFollow(aliceDID, bobDID)
	h.pds.SeedPost(bobDID, "only post")

	out := h.mustRun("timeline", "-n", "2000000000")
	assert.Contains(t, out, "only post")
}

func TestSearch(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedPost(bobDID, "Go is fun")
	h.pds.SeedPost(carolDID, "so is gopher hunting")

	out := h.mustRun("search", "go")
	assert.Contains(t, out, "@bob.bsky.social: Go is fun")
	assert.Contains(t, out, "@carol.bsky.social: so is gopher hunting")

	assert.Equal(t, "No results found.\n", h.mustRun("s", "nothing", "matches"))
}

func TestNotifications(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedNotification(api.Notification{
		Reason:    "follow",
		Author:    api.ProfileViewBasic{DID: bobDID, Handle: "bob.bsky.social"},
		IndexedAt: "2024-07-15T10:30:00.000Z",
	})

	out := h.mustRun("notifications")
	assert.Equal(t, "👤 @bob.bsky.social followed you · 2024-07-15T10:30\n", out)
}

func TestProfile(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedFollow(bobDID, aliceDID)

	out := h.mustRun("profile")
	assert.Contains(t, out, "@alice.bsky.social")
	assert.Contains(t, out, "Followers: 1")

	out = h.mustRun("profile", "@bob", "-o", "yaml")
	assert.Contains(t, out, "handle: bob.bsky.social")
}

func TestPostQuoteAndDelete(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")

	out := h.mustRun("post", "hello", "@bob.bsky.social")
	require.True(t, strings.HasPrefix(out, "Posted: https://bsky.app/profile/alice.bsky.social/post/"), out)
	post := h.pds.LastPost()
	require.NotNil(t, post)
	assert.Equal(t, "hello @bob.bsky.social", post.Text)
	require.Len(t, post.Facets, 1)

	bobPost := h.pds.SeedPost(bobDID, "quote me")
	bobURL := core.PostURL("bob.bsky.social", core.RKeyFromURI(bobPost))
	out = h.mustRun("quote", bobURL, "so", "true")
	assert.Contains(t, out, "Quoted: https://bsky.app/profile/alice.bsky.social/post/")
	assert.Contains(t, out, "  ↳ original: "+bobURL+"\n")
	quote := h.pds.LastPost()
	require.NotNil(t, quote.Embed)
	assert.Equal(t, api.EmbedRecordType, quote.Embed.Type)
	assert.Equal(t, bobPost, quote.Embed.Record.URI)

	before := h.pds.Records(core.CollectionPost)
	url := strings.TrimSpace(strings.TrimPrefix(strings.SplitN(out, "\n", 2)[0], "Quoted: "))
	rkey := core.RKeyFromURI(url)
	assert.Equal(t, "Deleted post: "+rkey+"\n", h.mustRun("rm", url))
	assert.Equal(t, before-1, h.pds.Records(core.CollectionPost))
}

func TestPostTooLong(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("post", strings.Repeat("a", core.PostGraphemeLimit+1))
	assert.ErrorContains(t, err, "too long")
	assert.Equal(t, 0, h.pds.RequestsMade())
}

func TestLikeUnlike(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	uri := h.pds.SeedPost(bobDID, "like me")

	assert.Equal(t, "Liked: "+uri+"\n", h.mustRun("like", uri))
	assert.Equal(t, 1, h.pds.Records(core.CollectionLike))

	assert.Equal(t, "Unliked: "+uri+"\n", h.mustRun("ul", uri))
	assert.Equal(t, 0, h.pds.Records(core.CollectionLike))

	assert.Equal(t, "Not liked (nothing to undo).\n", h.mustRun("unlike", uri))
}

func TestRepostUnrepost(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	uri := h.pds.SeedPost(bobDID, "boost me")

	assert.Equal(t, "Not reposted (nothing to undo).\n", h.mustRun("unrepost", uri))
	assert.Equal(t, "Reposted: "+uri+"\n", h.mustRun("rp", uri))
	assert.Equal(t, 1, h.pds.Records(core.CollectionRepost))
	assert.Equal(t, "Unreposted: "+uri+"\n", h.mustRun("urp", uri))
	assert.Equal(t, 0, h.pds.Records(core.CollectionRepost))
}

func TestLikeRejectsUnknownReference(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	_, _, err := h.run("like", "not-a-post")
	assert.ErrorContains(t, err, "unsupported post reference")
}

var noDelay = []string{"--min-delay", "0", "--max-delay", "0", "--buffer", "0"}

func TestFollowList(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedFollow(aliceDID, carolDID)

	list := h.path("list.txt")
	require.NoError(t, os.WriteFile(list, []byte("# to follow\nbob\n@carol\ndave   # unknown\nbob\n"), 0644))

	args := append([]string{"follow", "--list", list, "--inplace",
		"--out-followed", h.path("followed.txt"),
		"--out-skipped", h.path("skipped.txt"),
		"--out-failed", h.path("failed.txt"),
		"--out-remaining", h.path("remaining.txt"),
	}, noDelay...)
	out, errOut, err := h.run(args...)
	require.NoError(t, err)

	assert.Equal(t,
		"Followed (1/3): bob.bsky.social\n"+
			"Already following (2/3): carol.bsky.social\n"+
			"Done. followed=1 skipped=1 failed=1\n",
		out)
	assert.Contains(t, errOut, "Follow failed (3/3): dave.bsky.social :: ")

	assert.Equal(t, []string{"bob.bsky.social"}, readLines(t, h.path("followed.txt")))
	assert.Equal(t, []string{"carol.bsky.social"}, readLines(t, h.path("skipped.txt")))
	assert.Equal(t, []string{"dave.bsky.social"}, readLines(t, h.path("failed.txt")))
	assert.Equal(t, []string{"dave.bsky.social"}, readLines(t, h.path("remaining.txt")))
	assert.Equal(t, []string{"dave.bsky.social"}, readLines(t, list))

	if diff := cmp.Diff([]string{carolDID, bobDID}, h.pds.Following(aliceDID)); diff != "" {
		t.Errorf("Following() mismatch (-want +got):\n%s", diff)
	}
}

func TestFollowSingleActor(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")

	out := h.mustRun(append([]string{"f", "@bob"}, noDelay...)...)
	assert.Equal(t, "Followed (1/1): bob.bsky.social\nDone. followed=1 skipped=0 failed=0\n", out)
	assert.Equal(t, []string{bobDID}, h.pds.Following(aliceDID))
}

func TestFollowArgumentErrors(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run("follow")
	assert.ErrorContains(t, err, "missing ACTOR or --list")

	_, _, err = h.run("follow", "bob", "--list", h.path("list.txt"))
	assert.ErrorContains(t, err, "not both")

	_, _, err = h.run("follow", "--list", h.path("missing.txt"))
	assert.ErrorContains(t, err, "list file not found")
}

func TestFollowDryRunNeedsNoLogin(t *testing.T) {
	h := newHarness(t)
	list := h.path("list.txt")
	require.NoError(t, os.WriteFile(list, []byte("bob\ncarol\n"), 0644))

	out := h.mustRun(append([]string{"follow", "--dry-run", "--list", list, "--max", "1"}, noDelay...)...)
	assert.Equal(t, "DRY RUN follow: bob.bsky.social\nDone. followed=1 skipped=0 failed=0\n", out)
	assert.Equal(t, 0, h.pds.RequestsMade())
}

func TestUnfollowList(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedFollow(aliceDID, bobDID)

	list := h.path("list.txt")
	require.NoError(t, os.WriteFile(list, []byte("bob\ncarol\n"), 0644))

	args := append([]string{"uf", "--list", list, "--out-unfollowed", h.path("unfollowed.txt")}, noDelay...)
	out := h.mustRun(args...)
	assert.Equal(t,
		"Unfollowed (1/2): bob.bsky.social\n"+
			"Not following (2/2): carol.bsky.social\n"+
			"Done. unfollowed=1 skipped=1 failed=0\n",
		out)
	assert.Empty(t, h.pds.Following(aliceDID))
	assert.Equal(t, []string{"bob.bsky.social"}, readLines(t, h.path("unfollowed.txt")))
	// Without --inplace or --rewrite-input the list is left alone.
	assert.Equal(t, []string{"bob", "carol"}, readLines(t, list))
}

func TestGraphExport(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedFollow(aliceDID, bobDID)
	h.pds.SeedFollow(carolDID, aliceDID)
	h.pds.SeedFollow(bobDID, aliceDID)

	file := h.path("graph.txt")
	out := h.mustRun("graph", "export", "alice", "--out", file, "--limit", "1")
	assert.Equal(t,
		"Exporting followers for alice.bsky.social ...\n"+
			"Exporting follows for alice.bsky.social ...\n"+
			"Done. followers=2 follows=1 out="+file+"\n",
		out)

	lines := readLines(t, file)
	require.Len(t, lines, 12)
	assert.True(t, strings.HasPrefix(lines[2], "# exportedAt: "), lines[2])
	lines[2] = "# exportedAt: X"
	want := []string{
		"# bsky graph export",
		"# actor: alice.bsky.social",
		"# exportedAt: X",
		"# format: handle",
		"",
		"[followers]",
		"bob.bsky.social",
		"carol.bsky.social",
		"",
		"[follows]",
		"bob.bsky.social",
		"",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}
}

func TestGraphExportOnlyFollowsByDID(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.pds.SeedFollow(aliceDID, bobDID)
	h.pds.SeedFollow(aliceDID, carolDID)

	file := h.path("follows.txt")
	out := h.mustRun("graph", "export", aliceDID, "--out", file, "--only", "follows", "--format", "did")
	assert.Equal(t, "Exporting follows for did:plc:alice ...\nDone. follows=2 out="+file+"\n", out)

	lines := readLines(t, file)
	assert.Equal(t, []string{"[follows]", carolDID, bobDID, ""}, lines[5:])
}

func TestGraphExportValidation(t *testing.T) {
	h := newHarness(t)
	file := h.path("x.txt")

	_, _, err := h.run("graph", "export", "alice", "--out", file, "--limit", "0")
	assert.EqualError(t, err, "--limit must be > 0")

	_, _, err = h.run("graph", "export", "alice", "--out", file, "--format", "csv")
	assert.ErrorContains(t, err, "unknown --format")

	_, _, err = h.run("graph", "export", "alice", "--out", file, "--only", "mutuals")
	assert.ErrorContains(t, err, "unknown --only")
}

func TestExportFormat(t *testing.T) {
	p := api.ProfileViewBasic{DID: bobDID, Handle: "bob.bsky.social"}
	tests := []struct {
		name string
		p    api.ProfileViewBasic
		mode string
		want string
	}{
		{"handle", p, "handle", "bob.bsky.social"},
		{"did", p, "did", bobDID},
		{"both", p, "handle+did", "bob.bsky.social\t" + bobDID},
		{"both without did", api.ProfileViewBasic{Handle: "bob.bsky.social"}, "handle+did", "bob.bsky.social"},
		{"did falls back to handle", api.ProfileViewBasic{Handle: "bob.bsky.social"}, "did", "bob.bsky.social"},
		{"handle falls back to did", api.ProfileViewBasic{DID: bobDID}, "handle", bobDID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exportFormat(tt.p, tt.mode))
		})
	}
}

func TestPostRKey(t *testing.T) {
	tests := map[string]string{
		"https://bsky.app/profile/bob.bsky.social/post/3kabc": "3kabc",
		"at://did:plc:bob/app.bsky.feed.post/3kdef":           "3kdef",
		"3kghi": "3kghi",
	}
	for in, want := range tests {
		assert.Equal(t, want, postRKey(in), in)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("accounts", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}
