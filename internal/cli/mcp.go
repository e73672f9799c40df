package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// ListParams are the parameters of get_timeline and list_notifications.
type ListParams struct {
	Limit int `json:"limit"`
}

// SearchParams are the parameters of search_posts.
type SearchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// ProfileParams are the parameters of get_profile.
type ProfileParams struct {
	Actor string `json:"actor"`
}

// mcpServer answers JSON-RPC requests read line by line.
type mcpServer struct {
	out     io.Writer
	connect func(ctx context.Context) (*api.BlueskyAPI, error)
	client  *api.BlueskyAPI
}

func newMCPCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve timeline, search, profile and notification tools over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := &mcpServer{
				out: a.out,
				connect: func(ctx context.Context) (*api.BlueskyAPI, error) {
					client, _, err := a.connect(ctx)
					return client, err
				},
			}
			return srv.serve(cmd.Context(), a.in)
		},
	}
}

// session connects on first use so initialize and tools/list work without
// credentials.
func (s *mcpServer) session(ctx context.Context) (*api.BlueskyAPI, error) {
	if s.client == nil {
		client, err := s.connect(ctx)
		if err != nil {
			return nil, err
		}
		s.client = client
	}
	return s.client, nil
}

func (s *mcpServer) serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			// The ID is unknown, so no response is sent.
			log.WithError(err).Warn("mcp: parse error")
			continue
		}

		s.handle(ctx, &req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *mcpServer) handle(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		return
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Notifications (no ID) are ignored
		if req.ID != nil {
			s.sendError(req.ID, -32601, "Method not found", req.Method)
		}
	}
}

func (s *mcpServer) handleInitialize(req *MCPRequest) {
	s.sendResponse(req.ID, MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo: MCPServerInfo{
			Name:    "bsky-cli",
			Version: core.Version,
		},
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	})
}

func limitSchema(def int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": fmt.Sprintf("Maximum number of items (1-%d)", core.MaxPageSize),
		"default":     def,
	}
}

var mcpTools = []MCPToolInfo{
	{
		Name:        "get_timeline",
		Description: "Fetch the newest posts of the logged-in account's home timeline.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"limit": limitSchema(10)},
		},
	},
	{
		Name:        "search_posts",
		Description: "Search Bluesky posts by text.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"limit": limitSchema(10),
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        "get_profile",
		Description: "Fetch a profile by handle or DID (default: the logged-in account).",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"actor": map[string]interface{}{
					"type":        "string",
					"description": "Handle or DID",
				},
			},
		},
	},
	{
		Name:        "list_notifications",
		Description: "Fetch the logged-in account's newest notifications.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"limit": limitSchema(20)},
		},
	},
}

func (s *mcpServer) handleToolsList(req *MCPRequest) {
	s.sendResponse(req.ID, map[string]interface{}{"tools": mcpTools})
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	var call func(ctx context.Context, client *api.BlueskyAPI, args json.RawMessage) (interface{}, error)
	switch params.Name {
	case "get_timeline":
		call = toolTimeline
	case "search_posts":
		call = toolSearch
	case "get_profile":
		call = toolProfile
	case "list_notifications":
		call = toolNotifications
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	client, err := s.session(ctx)
	if err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}
	result, err := call(ctx, client, params.Arguments)
	if err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}
	s.sendToolResult(req.ID, result)
}

func clampLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > core.MaxPageSize:
		return core.MaxPageSize
	default:
		return limit
	}
}

func toolTimeline(ctx context.Context, client *api.BlueskyAPI, raw json.RawMessage) (interface{}, error) {
	var args ListParams
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	limit := clampLimit(args.Limit, 10)
	return collect(ctx, limit, timelinePages(client, limit))
}

func toolSearch(ctx context.Context, client *api.BlueskyAPI, raw json.RawMessage) (interface{}, error) {
	var args SearchParams
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}
	limit := clampLimit(args.Limit, 10)
	return collect(ctx, limit, searchPages(client, args.Query, limit))
}

func toolProfile(ctx context.Context, client *api.BlueskyAPI, raw json.RawMessage) (interface{}, error) {
	var args ProfileParams
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	actor, err := profileActor(client, []string{args.Actor})
	if err != nil {
		return nil, err
	}
	return client.GetProfile(ctx, actor)
}

func toolNotifications(ctx context.Context, client *api.BlueskyAPI, raw json.RawMessage) (interface{}, error) {
	var args ListParams
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	limit := clampLimit(args.Limit, 20)
	return collect(ctx, limit, notificationPages(client, limit))
}

func (s *mcpServer) write(resp MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("mcp: failed to encode response")
		return
	}
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	s.write(MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
