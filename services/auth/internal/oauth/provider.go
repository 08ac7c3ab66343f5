// Package oauth implements authorization-code exchange against external
// identity providers.
package oauth

import (
	"context"
	"strings"
)

// Profile is the normalized identity returned by a provider after a
// successful code exchange. ExternalID is stable per provider account.
type Profile struct {
	ExternalID string
	Email      string
	Name       string
	Image      string
}

// Provider exchanges an authorization code for a user profile.
type Provider interface {
	Name() string
	Exchange(ctx context.Context, code string) (Profile, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
