package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// mcpConfig is the per-route config parsed from the routes table JSON
// for stdio MCP transport.
type mcpConfig struct {
	ToolName string `json:"tool_name"`
}

var mcpImpl = &mcp.Implementation{Name: "profmatch", Version: "1.0.0"}

// MCPFactory creates Handlers that dispatch calls as MCP tool invocations
// over stdio. The endpoint is the server command line (e.g.
// "uv run python mcp-servers/scholar-server/server.py"); the payload is
// unmarshalled as a JSON map of tool arguments.
//
// The route config JSON must include "tool_name" to specify which MCP tool
// to call. Example config:
//
//	{"tool_name": "search_faculty"}
//
// Register it with:
//
//	router.RegisterTransport("mcp", connectivity.MCPFactory())
func MCPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		var cfg mcpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/mcp: parse config: %w", err)
			}
		}
		if cfg.ToolName == "" {
			return nil, nil, fmt.Errorf("connectivity/mcp: tool_name required in config")
		}

		argv := strings.Fields(endpoint)
		if len(argv) == 0 {
			return nil, nil, fmt.Errorf("connectivity/mcp: empty server command")
		}

		transport := &mcp.CommandTransport{Command: exec.Command(argv[0], argv[1:]...)}
		client := mcp.NewClient(mcpImpl, nil)

		// Connect eagerly so we fail fast during Reload. Connect handles the
		// full MCP initialize handshake internally.
		connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		session, err := client.Connect(connectCtx, transport, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connectivity/mcp: connect %q: %w", endpoint, err)
		}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			var args map[string]any
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, fmt.Errorf("connectivity/mcp: unmarshal args: %w", err)
				}
			}

			result, err := session.CallTool(ctx, &mcp.CallToolParams{
				Name:      cfg.ToolName,
				Arguments: args,
			})
			if err != nil {
				return nil, fmt.Errorf("connectivity/mcp: call %s: %w", cfg.ToolName, err)
			}
			if err := result.GetError(); err != nil {
				return nil, fmt.Errorf("connectivity/mcp: tool %s: %w", cfg.ToolName, err)
			}

			// Tool results are text content carrying a JSON document.
			for _, c := range result.Content {
				if tc, ok := c.(*mcp.TextContent); ok {
					return []byte(tc.Text), nil
				}
			}
			return nil, nil
		}

		closeFn := func() {
			session.Close()
		}

		return handler, closeFn, nil
	}
}
