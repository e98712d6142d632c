package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// ClientName and ClientVersion identify the agent to hosts.
var (
	ClientName    = "deskpilot"
	ClientVersion = "dev"
)

// sdkCaller adapts an mcp-go client to ToolCaller.
type sdkCaller struct {
	client *client.Client
}

// Dial connects to host over its configured transport and completes the
// MCP handshake.
func Dial(ctx context.Context, host Host) (ToolCaller, error) {
	var (
		c   *client.Client
		err error
	)
	switch host.Transport {
	case TransportStdio:
		c, err = client.NewStdioMCPClient(host.Command, host.Env, host.Args...)
	case TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(host.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(host.Headers))
		}
		c, err = client.NewStreamableHttpClient(host.URL, opts...)
		if err == nil {
			err = c.Start(ctx)
		}
	default:
		return nil, fmt.Errorf("host %q: unsupported transport %q", host.Name, host.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to host %q: %w", host.Name, err)
	}
	return handshake(ctx, c, host.Name)
}

// handshake initializes a started client.
func handshake(ctx context.Context, c *client.Client, hostName string) (ToolCaller, error) {
	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: ClientName, Version: ClientVersion}
	if _, err := c.Initialize(ctx, req); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing host %q: %w", hostName, err)
	}
	return &sdkCaller{client: c}, nil
}

func (s *sdkCaller) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", name, err)
	}

	out := &ToolResult{IsError: res.IsError}
	var texts []string
	for _, content := range res.Content {
		if text, ok := mcpgo.AsTextContent(content); ok {
			texts = append(texts, text.Text)
			continue
		}
		if img, ok := mcpgo.AsImageContent(content); ok {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, fmt.Errorf("decoding image from %s: %w", name, err)
			}
			out.Images = append(out.Images, Image{Data: data, MIMEType: img.MIMEType})
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out, nil
}

func (s *sdkCaller) ListTools(ctx context.Context) ([]string, error) {
	res, err := s.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

func (s *sdkCaller) Close() error {
	return s.client.Close()
}
