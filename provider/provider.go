// Package provider adapts identity providers to the contract used by the
// sign-in flows: build an authorize URL, exchange a code for an access
// token, and fetch the user's identity.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mnehpets/cookieauth/session"
)

// Provider is an OAuth2 authorization-code identity provider.
type Provider interface {
	// ID is the path segment the provider is mounted under.
	ID() string
	// AuthorizeURL returns the provider URL the browser is redirected to.
	AuthorizeURL(state, codeChallenge, method string) string
	// AccessToken exchanges an authorization code. Failures wrap
	// autherr.ErrInvalidTokenAcquisitionRequest.
	AccessToken(ctx context.Context, code, codeVerifier, state string) (string, error)
	// UserInfo fetches the identity for accessToken. Failures wrap
	// autherr.ErrInvalidUserInfoAccessRequest or autherr.ErrSchemaValidation.
	UserInfo(ctx context.Context, accessToken string) (*session.UserInfo, error)
}

// Registry manages the set of registered providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new Registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfigError reports a provider that cannot be used as configured.
type ConfigError struct {
	ID     string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q: %s", e.ID, e.Reason)
}
