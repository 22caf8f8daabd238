// Package email renders notification mail and delivers it through a
// registry of providers (SMTP, AWS SES, Resend) from a bounded worker queue.
package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoProvider is returned when no registered provider is configured.
var ErrNoProvider = errors.New("no configured email provider available")

// Request is one outbound message.
type Request struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Provider is an email backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, req *Request) error
	IsConfigured() bool
}

// Registry holds providers and picks the primary, falling back in order
// when the primary is unconfigured or fails.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	primary   string
	fallback  []string
}

// NewRegistry creates a new email provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	log.Info().Str("provider", p.Name()).Bool("configured", p.IsConfigured()).Msg("Registered email provider")
}

// SetPrimary sets the primary provider by name.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.primary = name
	return nil
}

// SetFallback sets the fallback providers in order.
func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("provider %q not registered", name)
		}
	}
	r.fallback = names
	return nil
}

// IsConfigured reports whether any provider can send.
func (r *Registry) IsConfigured() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// order returns the configured providers to try: primary, then the fallback
// list, then any other configured provider by name.
func (r *Registry) order() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	seen := make(map[string]bool)
	add := func(name string) {
		if p, ok := r.providers[name]; ok && !seen[name] && p.IsConfigured() {
			seen[name] = true
			out = append(out, p)
		}
	}
	add(r.primary)
	for _, name := range r.fallback {
		add(name)
	}
	rest := make([]string, 0, len(r.providers))
	for name := range r.providers {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name)
	}
	return out
}

// Send delivers req with the first provider that succeeds. The primary's
// error is returned when every provider fails.
func (r *Registry) Send(ctx context.Context, req *Request) error {
	providers := r.order()
	if len(providers) == 0 {
		return ErrNoProvider
	}
	var firstErr error
	for i, p := range providers {
		err := p.Send(ctx, req)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if i+1 < len(providers) {
			log.Warn().Err(err).Str("provider", p.Name()).Str("next", providers[i+1].Name()).Msg("Email provider failed, trying fallback")
		}
		if ctx.Err() != nil {
			break
		}
	}
	return firstErr
}
