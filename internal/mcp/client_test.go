package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInProcessCaller(t *testing.T) ToolCaller {
	t.Helper()

	srv := server.NewMCPServer("fake-desktop", "1.0.0", server.WithToolCapabilities(false))
	srv.AddTool(mcpgo.NewTool("screenshot", mcpgo.WithDescription("capture the screen")),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			png := base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))
			return mcpgo.NewToolResultImage(`{"window_title":"Editor"}`, png, "image/png"), nil
		})
	srv.AddTool(mcpgo.NewTool("click", mcpgo.WithDescription("click at a point")),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			args := req.GetArguments()
			x, _ := args["x"].(float64)
			if x < 0 {
				return mcpgo.NewToolResultError("x must not be negative"), nil
			}
			return mcpgo.NewToolResultText(fmt.Sprintf("clicked %v,%v", args["x"], args["y"])), nil
		})

	c, err := client.NewInProcessClient(srv)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	caller, err := handshake(context.Background(), c, "fake-desktop")
	require.NoError(t, err)
	t.Cleanup(func() { caller.Close() })
	return caller
}

func TestSDKCaller_CallTool(t *testing.T) {
	caller := newInProcessCaller(t)
	ctx := context.Background()

	res, err := caller.CallTool(ctx, "click", map[string]any{"x": 10, "y": 20})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "clicked 10,20", res.Text)

	res, err = caller.CallTool(ctx, "click", map[string]any{"x": -1, "y": 0})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "must not be negative")
}

func TestSDKCaller_ImageContent(t *testing.T) {
	caller := newInProcessCaller(t)

	res, err := caller.CallTool(context.Background(), "screenshot", nil)
	require.NoError(t, err)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "image/png", res.Images[0].MIMEType)
	assert.Equal(t, []byte("\x89PNG fake"), res.Images[0].Data)
	assert.Equal(t, `{"window_title":"Editor"}`, res.Text)
}

func TestSDKCaller_ListTools(t *testing.T) {
	caller := newInProcessCaller(t)

	names, err := caller.ListTools(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"screenshot", "click"}, names)
}

func TestDial_UnsupportedTransport(t *testing.T) {
	_, err := Dial(context.Background(), Host{Name: "x", Transport: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport")
}
