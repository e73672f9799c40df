package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/bsky-cli-go/internal/api"
)

func TestMCPRequestParsing(t *testing.T) {
	// Test initialize request
	initReq := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	var req MCPRequest
	if err := json.Unmarshal([]byte(initReq), &req); err != nil {
		t.Fatalf("Failed to parse initialize request: %v", err)
	}
	if req.Method != "initialize" {
		t.Errorf("Expected method 'initialize', got %s", req.Method)
	}

	// Test tools/call request
	callReq := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"search_posts","arguments":{"query":"go"}}}`
	if err := json.Unmarshal([]byte(callReq), &req); err != nil {
		t.Fatalf("Failed to parse tools/call request: %v", err)
	}
	if req.Method != "tools/call" {
		t.Errorf("Expected method 'tools/call', got %s", req.Method)
	}
}

func TestMCPResponseFormat(t *testing.T) {
	errResp := MCPResponse{
		JSONRPC: "2.0",
		ID:      2,
		Error: &MCPError{
			Code:    -32600,
			Message: "Invalid Request",
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		t.Fatalf("Failed to marshal error response: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Failed to parse error response: %v", err)
	}
	if _, ok := parsed["result"]; ok {
		t.Error("Expected no result in error response")
	}
	errorObj := parsed["error"].(map[string]interface{})
	if errorObj["code"].(float64) != -32600 {
		t.Errorf("Expected error code -32600, got %v", errorObj["code"])
	}
}

type mcpReply struct {
	ID     float64 `json:"id"`
	Result struct {
		ProtocolVersion string        `json:"protocolVersion"`
		ServerInfo      MCPServerInfo `json:"serverInfo"`
		Tools           []MCPToolInfo `json:"tools"`
		Content         []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *MCPError `json:"error"`
}

// serveMCP feeds requests to a server logged in as alice and returns the
// replies in order.
func serveMCP(t *testing.T, pds *api.InMemoryTransport, requests ...string) []mcpReply {
	t.Helper()
	var out bytes.Buffer
	connects := 0
	srv := &mcpServer{
		out: &out,
		connect: func(ctx context.Context) (*api.BlueskyAPI, error) {
			connects++
			client := api.NewBlueskyAPI(pds)
			if _, err := client.Login(ctx, "alice.bsky.social", "pw-alice"); err != nil {
				return nil, err
			}
			return client, nil
		},
	}
	require.NoError(t, srv.serve(context.Background(), strings.NewReader(strings.Join(requests, "\n"))))
	assert.LessOrEqual(t, connects, 1, "the session is shared across calls")

	var replies []mcpReply
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r mcpReply
		require.NoError(t, json.Unmarshal([]byte(line), &r), line)
		replies = append(replies, r)
	}
	return replies
}

func mcpFixture() *api.InMemoryTransport {
	pds := api.NewInMemoryTransport()
	pds.AddActor(api.Actor{DID: aliceDID, Handle: "alice.bsky.social", Password: "pw-alice"})
	pds.AddActor(api.Actor{DID: bobDID, Handle: "bob.bsky.social", DisplayName: "Bob"})
	return pds
}

func TestMCPInitializeAndToolsList(t *testing.T) {
	pds := mcpFixture()
	replies := serveMCP(t, pds,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, replies, 2)

	assert.Equal(t, "2024-11-05", replies[0].Result.ProtocolVersion)
	assert.Equal(t, "bsky-cli", replies[0].Result.ServerInfo.Name)

	var names []string
	for _, tool := range replies[1].Result.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"get_timeline", "search_posts", "get_profile", "list_notifications"}, names)

	// Listing tools needs no session.
	assert.Equal(t, 0, pds.RequestsMade())
}

func TestMCPToolCalls(t *testing.T) {
	pds := mcpFixture()
	pds.SeedFollow(aliceDID, bobDID)
	pds.SeedPost(bobDID, "gophers everywhere")

	replies := serveMCP(t, pds,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_profile","arguments":{"actor":"bob"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_posts","arguments":{"query":"gopher","limit":5}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_timeline"}}`,
	)
	require.Len(t, replies, 3)

	var profile api.ProfileViewDetailed
	require.Len(t, replies[0].Result.Content, 1)
	require.NoError(t, json.Unmarshal([]byte(replies[0].Result.Content[0].Text), &profile))
	assert.Equal(t, bobDID, profile.DID)
	assert.Equal(t, 1, profile.FollowersCount)

	var posts []api.PostView
	require.NoError(t, json.Unmarshal([]byte(replies[1].Result.Content[0].Text), &posts))
	require.Len(t, posts, 1)
	assert.Equal(t, "gophers everywhere", posts[0].Record.Text)

	var feed []api.FeedViewPost
	require.NoError(t, json.Unmarshal([]byte(replies[2].Result.Content[0].Text), &feed))
	assert.Len(t, feed, 1)

	assert.Equal(t, 1, pds.Calls(api.NSIDCreateSession))
}

func TestMCPToolErrors(t *testing.T) {
	pds := mcpFixture()
	replies := serveMCP(t, pds,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_posts","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"delete_everything"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
	)
	require.Len(t, replies, 3)

	assert.True(t, replies[0].Result.IsError)
	assert.Equal(t, "query is required", replies[0].Result.Content[0].Text)

	require.NotNil(t, replies[1].Error)
	assert.Equal(t, -32602, replies[1].Error.Code)
	assert.Equal(t, "Unknown tool", replies[1].Error.Message)

	require.NotNil(t, replies[2].Error)
	assert.Equal(t, -32601, replies[2].Error.Code)
}

func TestMCPConnectFailureIsToolError(t *testing.T) {
	var out bytes.Buffer
	srv := &mcpServer{
		out: &out,
		connect: func(context.Context) (*api.BlueskyAPI, error) {
			return nil, errors.New("no profile selected")
		},
	}
	req := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get_timeline"}}`
	require.NoError(t, srv.serve(context.Background(), strings.NewReader(req)))

	var r mcpReply
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.True(t, r.Result.IsError)
	assert.Equal(t, "no profile selected", r.Result.Content[0].Text)
}

func TestMCPCommandUsesProfile(t *testing.T) {
	h := newHarness(t)
	h.login("work", "alice", "pw-alice")
	h.stdin = `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_profile","arguments":{}}}` + "\n"

	out := h.mustRun("mcp")
	var r mcpReply
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.False(t, r.Result.IsError, out)
	assert.Contains(t, r.Result.Content[0].Text, `"handle": "alice.bsky.social"`)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10))
	assert.Equal(t, 10, clampLimit(-3, 10))
	assert.Equal(t, 42, clampLimit(42, 10))
	assert.Equal(t, 100, clampLimit(500, 10))
}
