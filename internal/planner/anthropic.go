package planner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultMaxTokens caps replies when the prompt does not.
const DefaultMaxTokens = 2048

// AnthropicCompleter speaks the Anthropic Messages API.
type AnthropicCompleter struct {
	name   string
	client anthropic.Client
	model  string
	keys   *Rotator
}

// NewAnthropicCompleter creates a completer for model. keys rotate per
// request; an empty list relies on the SDK's environment lookup.
func NewAnthropicCompleter(name, baseURL, model string, keys []string) *AnthropicCompleter {
	opts := []option.RequestOption{option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicCompleter{
		name:   name,
		client: anthropic.NewClient(opts...),
		model:  model,
		keys:   NewRotator(keys),
	}
}

// Name returns the provider name.
func (c *AnthropicCompleter) Name() string { return c.name }

// Complete sends p as one user turn with the images ahead of the text.
func (c *AnthropicCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(p.Images)+1)
	for _, img := range p.Images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(mime, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(p.User))

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	var opts []option.RequestOption
	if key := c.keys.Next(); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}

	msg, err := c.client.Messages.New(ctx, params, opts...)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: c.name, StatusCode: apiErr.StatusCode, Message: err.Error()}
		}
		return "", fmt.Errorf("%s: %w", c.name, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &ProviderError{Provider: c.name, Message: "response has no text"}
	}
	return text.String(), nil
}
