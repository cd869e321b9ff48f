// Package provider talks to upstream chat-completion APIs.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

const (
	TogetherAI = "togetherAI"
	VeniceAI   = "veniceAI"
)

// Message is one chat turn
type Message struct {
	Role    string
	Content string
}

// Request is a single chat-completion call
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Completion is the generated text and whatever usage the provider reported
type Completion struct {
	Text  string
	Usage models.TokenUsage
}

// Provider is an upstream text-generation API
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Registry resolves providers by identifier
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, apperr.UnsupportedProvider(name)
	}
	return p, nil
}

// Names lists registered provider identifiers in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
