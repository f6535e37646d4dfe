package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// AddTool exposes ep as an MCP tool. Arguments are decoded into Req; absent
// or null arguments leave Req at its zero value. The response is returned as
// one indented JSON text block. Decode and endpoint failures become tool
// errors so the client sees the message.
func AddTool[Req, Resp any](srv *mcp.Server, tool *mcp.Tool, ep Endpoint[Req, Resp]) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if err := decodeArgs(call, &req); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		resp, err := ep(WithTransport(ctx, TransportMCP), req)
		if err != nil {
			return toolError(errors.New(err.Error())), nil
		}
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return toolError(fmt.Errorf("encode response: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func decodeArgs(call *mcp.CallToolRequest, dst any) error {
	if call.Params == nil {
		return nil
	}
	raw := bytes.TrimSpace(call.Params.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
