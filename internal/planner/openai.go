package planner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompleter speaks the OpenAI Chat Completions API. Any
// compatible server (vLLM, Ollama, OpenRouter, LM Studio) works through
// BaseURL.
type OpenAICompleter struct {
	name   string
	client openai.Client
	model  string
	keys   *Rotator
}

// NewOpenAICompleter creates a completer for model. keys rotate per
// request; an empty list relies on the SDK's environment lookup.
func NewOpenAICompleter(name, baseURL, model string, keys []string) *OpenAICompleter {
	opts := []option.RequestOption{option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompleter{
		name:   name,
		client: openai.NewClient(opts...),
		model:  model,
		keys:   NewRotator(keys),
	}
}

// Name returns the provider name.
func (c *OpenAICompleter) Name() string { return c.name }

// Complete sends p as a system message plus one user message carrying
// the text and images.
func (c *OpenAICompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(p.User)}
	for _, img := range p.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(img),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(parts),
		},
		Temperature: openai.Float(0),
	}
	if p.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.MaxTokens))
	}

	var opts []option.RequestOption
	if key := c.keys.Next(); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: c.name, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return "", fmt.Errorf("%s: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: c.name, Message: "response has no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func dataURL(img Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
