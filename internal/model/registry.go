package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves provider names ("openai", "anthropic") to configured
// clients. Registration happens once at startup; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]StreamingChatModel
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]StreamingChatModel)}
}

func (r *Registry) Register(name string, m StreamingChatModel) error {
	if r == nil {
		return fmt.Errorf("nil registry")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("missing provider name")
	}
	if m == nil {
		return fmt.Errorf("nil model for provider %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.byName[name] = m
	return nil
}

func (r *Registry) Resolve(name string) (StreamingChatModel, error) {
	if r == nil {
		return nil, fmt.Errorf("nil registry")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	m := r.byName[name]
	r.mu.RUnlock()
	if m == nil {
		return nil, fmt.Errorf("unknown provider %q (configured: %s)", name, strings.Join(r.Names(), ", "))
	}
	return m, nil
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
