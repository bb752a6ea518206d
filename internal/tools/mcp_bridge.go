package tools

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// MCPBridgeTool forwards a single named call to an external MCP server
// over streamable-HTTP, giving the agent a generic escape hatch into
// whatever tools that server exposes without the core needing to know
// about them ahead of time.
type MCPBridgeTool struct {
	client *mcpclient.Client
}

// NewMCPBridgeTool connects to serverURL and performs the MCP
// initialize handshake. The connection is kept open for the tool's
// lifetime; callers should Close() it on shutdown.
func NewMCPBridgeTool(ctx context.Context, serverURL string) (*MCPBridgeTool, error) {
	c, err := mcpclient.NewStreamableHttpClient(serverURL)
	if err != nil {
		return nil, fmt.Errorf("mcp_bridge: connect %s: %w", serverURL, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp_bridge: start transport: %w", err)
	}
	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "clawrouter", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp_bridge: initialize: %w", err)
	}
	return &MCPBridgeTool{client: c}, nil
}

func (t *MCPBridgeTool) Name() string { return "mcp_bridge" }

func (t *MCPBridgeTool) Description() string {
	return "Call a named tool on the configured external MCP server and return its result."
}

func (t *MCPBridgeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tool": map[string]interface{}{"type": "string", "description": "Name of the tool exposed by the MCP server."},
			"arguments": map[string]interface{}{
				"type":        "object",
				"description": "Arguments to pass to the remote tool.",
			},
		},
		"required": []string{"tool"},
	}
}

func (t *MCPBridgeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	toolName, _ := args["tool"].(string)
	if toolName == "" {
		return "", fmt.Errorf("mcp_bridge: tool is required")
	}
	toolArgs, _ := args["arguments"].(map[string]interface{})

	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = toolArgs

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp_bridge: call %s: %w", toolName, err)
	}

	var out string
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			out += tc.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcp_bridge: remote tool reported error: %s", out)
	}
	return out, nil
}

// Close releases the underlying MCP client connection.
func (t *MCPBridgeTool) Close() error {
	return t.client.Close()
}
