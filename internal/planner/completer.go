// Package planner turns screenshots and user intents into action plans
// by prompting a multimodal chat model.
package planner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Image is an image attached to a prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

// Prompt is one single-turn request to a chat model.
type Prompt struct {
	System    string
	User      string
	Images    []Image
	MaxTokens int
}

// Completer sends a prompt to a model and returns the reply text.
type Completer interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ProviderError wraps provider failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Retryable reports whether another provider may succeed where this one
// failed: rate limits, overload and server errors.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == 529 || e.StatusCode >= 500
}

// Rotator provides round-robin selection of API keys.
type Rotator struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewRotator creates a new Rotator.
func NewRotator(keys []string) *Rotator {
	return &Rotator{keys: keys}
}

// Next returns the next key in rotation.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	key := r.keys[r.next%len(r.keys)]
	r.next++
	return key
}

// Router dispatches prompts to the default completer and falls back to
// the others, in registration order, on retryable provider errors.
type Router struct {
	mu              sync.RWMutex
	defaultProvider string
	order           []string
	providers       map[string]Completer
}

// NewRouter creates a router with a default provider.
func NewRouter(defaultProvider string) *Router {
	return &Router{
		defaultProvider: defaultProvider,
		providers:       map[string]Completer{},
	}
}

// Register adds a completer under its name.
func (r *Router) Register(c Completer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[c.Name()]; !ok {
		r.order = append(r.order, c.Name())
	}
	r.providers[c.Name()] = c
}

// Name identifies the router as a Completer.
func (r *Router) Name() string { return "router" }

// Complete calls the default provider, then the fallbacks.
func (r *Router) Complete(ctx context.Context, p Prompt) (string, error) {
	r.mu.RLock()
	chain := make([]Completer, 0, len(r.providers))
	if c, ok := r.providers[r.defaultProvider]; ok {
		chain = append(chain, c)
	}
	for _, name := range r.order {
		if name != r.defaultProvider {
			chain = append(chain, r.providers[name])
		}
	}
	r.mu.RUnlock()

	if len(chain) == 0 {
		return "", fmt.Errorf("provider not registered: %s", r.defaultProvider)
	}

	var lastErr error
	for _, c := range chain {
		reply, err := c.Complete(ctx, p)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		var perr *ProviderError
		if !errors.As(err, &perr) || !perr.Retryable() || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}
