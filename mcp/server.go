// Package mcp serves the Bitcoin data API as Model Context Protocol tools over streamable HTTP.
//
// Each tool call is forwarded to the data API with the internal key, so MCP clients use the
// free tier of the gateway rather than paying per call.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/btcfi/gateway"
)

// Server metadata.
const (
	Name    = "btcfi"
	Version = "3.0.0"
)

// HeaderInternalKey authenticates tool calls against the data API.
const HeaderInternalKey = "X-Internal-Key"

// DefaultTimeout bounds one tool call.
const DefaultTimeout = 15 * time.Second

const maxResponseSize = 1 << 20

// Server exposes tools backed by the data API at BaseURL.
type Server struct {
	BaseURL     string
	InternalKey string
	Client      *http.Client
	Timeout     time.Duration
	Prices      gateway.PriceTable
	Logger      *slog.Logger

	mcpServer *mcpserver.MCPServer
	tools     []Tool
}

// NewServer creates a server with tools, or DefaultTools when none are given.
func NewServer(baseURL string, prices gateway.PriceTable, tools ...Tool) *Server {
	if len(tools) == 0 {
		tools = DefaultTools
	}
	s := &Server{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
		Timeout: DefaultTimeout,
		Prices:  prices,
		tools:   tools,
	}

	s.mcpServer = mcpserver.NewMCPServer(Name, Version, mcpserver.WithToolCapabilities(false))
	for _, t := range tools {
		s.mcpServer.AddTool(s.definition(t), s.handler(t))
	}
	return s
}

// Handler returns the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
}

// MCPServer returns the underlying MCP server (for advanced usage).
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Tools returns the registered tools.
func (s *Server) Tools() []Tool {
	return s.tools
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Category groups a priced endpoint for display.
func Category(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "/intelligence/"):
		return "intelligence"
	case strings.Contains(endpoint, "/security/"):
		return "security"
	case strings.Contains(endpoint, "/solv/"):
		return "solv"
	case strings.Contains(endpoint, "/zk/"):
		return "zk"
	case strings.Contains(endpoint, "/staking"):
		return "staking"
	case strings.Contains(endpoint, "/stream"):
		return "realtime"
	case endpoint == "/api/health" || endpoint == "/api/v1":
		return "system"
	default:
		return "core"
	}
}

func (t Tool) endpoint() string {
	if t.Endpoint != "" {
		return t.Endpoint
	}
	return t.Path
}

func (s *Server) cost(t Tool) string {
	price := s.Prices.Resolve(t.endpoint())
	if price == 0 {
		return "free"
	}
	return "$" + strconv.FormatFloat(price, 'f', -1, 64)
}

func (s *Server) definition(t Tool) mcpproto.Tool {
	desc := fmt.Sprintf("[%s] %s Cost: %s.", Category(t.endpoint()), t.Description, s.cost(t))
	opts := []mcpproto.ToolOption{mcpproto.WithDescription(desc)}

	for _, p := range t.Params {
		var props []mcpproto.PropertyOption
		if p.Description != "" {
			props = append(props, mcpproto.Description(p.Description))
		}
		if p.Required {
			props = append(props, mcpproto.Required())
		}
		if len(p.Enum) > 0 {
			props = append(props, mcpproto.Enum(p.Enum...))
		}

		switch p.Type {
		case "number":
			opts = append(opts, mcpproto.WithNumber(p.Name, props...))
		case "array":
			opts = append(opts, mcpproto.WithArray(p.Name, props...))
		case "object":
			opts = append(opts, mcpproto.WithObject(p.Name, props...))
		default:
			opts = append(opts, mcpproto.WithString(p.Name, props...))
		}
	}
	return mcpproto.NewTool(t.Name, opts...)
}

func (s *Server) handler(t Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		for _, p := range t.Params {
			if _, ok := args[p.Name]; p.Required && !ok {
				return mcpproto.NewToolResultError("missing required argument: " + p.Name), nil
			}
		}

		text, err := s.call(ctx, t, args)
		if err != nil {
			s.logger().Warn("mcp tool call failed", "tool", t.Name, "error", err)
			return mcpproto.NewToolResultError("Error: " + err.Error()), nil
		}
		return mcpproto.NewToolResultText(text), nil
	}
}

// BuildRequest returns the API request for one tool call.
func (s *Server) BuildRequest(ctx context.Context, t Tool, args map[string]any) (*http.Request, error) {
	path := t.Path
	for _, p := range t.Params {
		placeholder := "{" + p.Name + "}"
		if !strings.Contains(path, placeholder) {
			continue
		}
		v := argString(args[p.Name])
		if v == "" {
			return nil, fmt.Errorf("argument %s must not be empty", p.Name)
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(v))
	}

	q := url.Values{}
	for _, name := range t.Query {
		if v := argString(args[name]); v != "" {
			q.Set(name, v)
		}
	}
	endpoint := s.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var body io.Reader
	if len(t.Body) > 0 {
		payload := make(map[string]any, len(t.Body))
		for _, name := range t.Body {
			if v, ok := args[name]; ok {
				payload[name] = v
			}
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal arguments: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, t.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.InternalKey != "" {
		req.Header.Set(HeaderInternalKey, s.InternalKey)
	}
	return req, nil
}

func (s *Server) call(ctx context.Context, t Tool, args map[string]any) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req, err := s.BuildRequest(ctx, t, args)
	if err != nil {
		return "", err
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw), nil
	}
	return pretty.String(), nil
}

func argString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
