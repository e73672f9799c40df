package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/config"
)

func samplePost() api.PostView {
	return api.PostView{
		URI:         "at://did:plc:alice/app.bsky.feed.post/3kabc",
		CID:         "bafy",
		Author:      api.ProfileViewBasic{DID: "did:plc:alice", Handle: "alice.bsky.social"},
		Record:      api.PostRecord{Text: "hello world", CreatedAt: "2024-07-15T10:04:05.000Z"},
		LikeCount:   3,
		RepostCount: 2,
		ReplyCount:  1,
	}
}

func render(t *testing.T, format Format, fn func(p *Printer) error) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, fn(NewPrinter(&buf, format, false)))
	return buf.String()
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", Text, false},
		{"text", Text, false},
		{"JSON", JSON, false},
		{" yaml ", YAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTimelineText(t *testing.T) {
	repost := api.FeedViewPost{
		Post:   samplePost(),
		Reason: &api.FeedReason{Type: "app.bsky.feed.defs#reasonRepost", By: &api.ProfileViewBasic{Handle: "bob.bsky.social"}},
	}
	got := render(t, Text, func(p *Printer) error {
		return p.Timeline([]api.FeedViewPost{{Post: samplePost()}, repost})
	})

	want := "@alice.bsky.social · Jul 15 10:04\n" +
		"  hello world\n" +
		"  ❤️ 3  🔁 2  💬 1\n" +
		"  🔗 https://bsky.app/profile/alice.bsky.social/post/3kabc\n\n"
	assert.True(t, strings.HasPrefix(got, want), got)
	assert.Contains(t, got, "🔁 reposted by @bob.bsky.social")
}

func TestTimelineTruncatesText(t *testing.T) {
	post := samplePost()
	post.Record.Text = strings.Repeat("é", 250)
	got := render(t, Text, func(p *Printer) error {
		return p.Timeline([]api.FeedViewPost{{Post: post}})
	})
	assert.Contains(t, got, "  "+strings.Repeat("é", 200)+"\n")
	assert.NotContains(t, got, strings.Repeat("é", 201))
}

func TestSearchText(t *testing.T) {
	got := render(t, Text, func(p *Printer) error { return p.Search([]api.PostView{samplePost()}) })
	assert.Equal(t, "@alice.bsky.social: hello world\n  ❤️ 3  🔗 https://bsky.app/profile/alice.bsky.social/post/3kabc\n\n", got)

	got = render(t, Text, func(p *Printer) error { return p.Search(nil) })
	assert.Equal(t, "No results found.\n", got)
}

func TestNotificationsText(t *testing.T) {
	items := []api.Notification{
		{Reason: "like", Author: api.ProfileViewBasic{Handle: "a.bsky.social"}, IndexedAt: "2024-07-15T10:04:05.000Z"},
		{Reason: "follow", Author: api.ProfileViewBasic{Handle: "b.bsky.social"}, IndexedAt: "2024-07-15T11:00:00Z"},
		{Reason: "starterpack-joined", Author: api.ProfileViewBasic{Handle: "c.bsky.social"}, IndexedAt: "x"},
	}
	got := render(t, Text, func(p *Printer) error { return p.Notifications(items) })

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "❤️ @a.bsky.social liked your post · 2024-07-15T10:04", lines[0])
	assert.Equal(t, "👤 @b.bsky.social followed you · 2024-07-15T11:00", lines[1])
	assert.Equal(t, "• starterpack-joined from @c.bsky.social · x", lines[2])
}

func TestNotificationMessage(t *testing.T) {
	tests := map[string]string{
		"repost":  "@x reposted",
		"reply":   "@x replied",
		"mention": "@x mentioned you",
		"quote":   "@x quoted you",
	}
	for reason, want := range tests {
		n := api.Notification{Reason: reason, Author: api.ProfileViewBasic{Handle: "x"}}
		assert.Equal(t, want, NotificationMessage(n))
	}
}

func TestProfileText(t *testing.T) {
	profile := &api.ProfileViewDetailed{
		DID:            "did:plc:alice",
		Handle:         "alice.bsky.social",
		FollowersCount: 12345,
		FollowsCount:   10,
		PostsCount:     7,
	}
	got := render(t, Text, func(p *Printer) error { return p.Profile(profile) })
	want := strings.Join([]string{
		"@alice.bsky.social",
		"  Name: (none)",
		"  Bio: (none)",
		"  Followers: 12,345",
		"  Following: 10",
		"  Posts: 7",
		"  DID: did:plc:alice",
		"",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestAccounts(t *testing.T) {
	cfg := &config.Config{
		Active: "work",
		Profiles: map[string]config.Profile{
			"work":     {Handle: "alice.bsky.social", AppPassword: "secret", DID: "did:plc:alice"},
			"personal": {Handle: "al.bsky.social", AppPassword: "secret"},
		},
	}

	got := render(t, Text, func(p *Printer) error { return p.Accounts(cfg) })
	assert.Equal(t, "  personal: al.bsky.social  (no did)\n* work: alice.bsky.social  did:plc:alice\n", got)
	assert.NotContains(t, got, "secret")

	got = render(t, JSON, func(p *Printer) error { return p.Accounts(cfg) })
	var views []AccountView
	require.NoError(t, json.Unmarshal([]byte(got), &views))
	require.Len(t, views, 2)
	assert.True(t, views[1].Active)
	assert.NotContains(t, got, "secret")

	got = render(t, Text, func(p *Printer) error { return p.Accounts(&config.Config{}) })
	assert.Contains(t, got, "No profiles configured")
}

func TestStructuredOutput(t *testing.T) {
	posts := []api.PostView{samplePost()}

	got := render(t, JSON, func(p *Printer) error { return p.Search(posts) })
	var decoded []api.PostView
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	assert.Equal(t, posts[0].URI, decoded[0].URI)

	got = render(t, YAML, func(p *Printer) error { return p.Search(posts) })
	var generic []map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(got), &generic))
	require.Len(t, generic, 1)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", generic[0]["uri"])
	assert.Equal(t, 3, generic[0]["likeCount"])
}

func TestWhoami(t *testing.T) {
	s := &api.Session{Handle: "alice.bsky.social", DID: "did:plc:alice"}
	got := render(t, Text, func(p *Printer) error { return p.Whoami("work", s) })
	assert.Equal(t, "Profile: work\nHandle: alice.bsky.social\nDID: did:plc:alice\n", got)
}
