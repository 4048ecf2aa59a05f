package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDispatcher connects to an MCP tool server over SSE and implements
// RemoteDispatcher. Connection is lazy: the first Ping, ListTools or
// CallTool establishes the session.
type MCPDispatcher struct {
	endpoint string
	client   *mcp.Client

	mu      sync.Mutex
	session *mcp.ClientSession
}

// NewMCPDispatcher creates a dispatcher for the given SSE endpoint.
func NewMCPDispatcher(endpoint string) *MCPDispatcher {
	return &MCPDispatcher{
		endpoint: endpoint,
		client: mcp.NewClient(&mcp.Implementation{
			Name:    "tars",
			Version: "1.0.0",
		}, nil),
	}
}

func (d *MCPDispatcher) connect(ctx context.Context) (*mcp.ClientSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return d.session, nil
	}
	transport := &mcp.SSEClientTransport{Endpoint: d.endpoint}
	session, err := d.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", d.endpoint, err)
	}
	d.session = session
	return session, nil
}

// Close tears down the session if one was established.
func (d *MCPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}

func (d *MCPDispatcher) Ping(ctx context.Context) error {
	session, err := d.connect(ctx)
	if err != nil {
		return err
	}
	return session.Ping(ctx, nil)
}

func (d *MCPDispatcher) ListTools(ctx context.Context) ([]string, error) {
	session, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

func (d *MCPDispatcher) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	session, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return decodeCallResult(res)
}

// decodeCallResult normalizes an MCP tool result into the broker's result
// map shape. Structured content wins when present; otherwise text content
// is decoded as JSON when it looks like an object, and carried verbatim
// when it does not.
func decodeCallResult(res *mcp.CallToolResult) (map[string]any, error) {
	if res.IsError {
		return nil, fmt.Errorf("tool reported error: %s", textContent(res))
	}
	if res.StructuredContent != nil {
		if m, ok := res.StructuredContent.(map[string]any); ok {
			return m, nil
		}
		raw, err := json.Marshal(res.StructuredContent)
		if err == nil {
			var m map[string]any
			if json.Unmarshal(raw, &m) == nil {
				return m, nil
			}
		}
	}
	text := textContent(res)
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		var m map[string]any
		if json.Unmarshal([]byte(text), &m) == nil {
			return m, nil
		}
	}
	return map[string]any{"output": text}, nil
}

func textContent(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
