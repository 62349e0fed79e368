// Package auth provides the authentication provider chain for the AdminPilot control plane.
//
// Providers:
//   - APIKeyProvider: static keys from ADMINPILOT_API_KEYS, each optionally
//     bound to a role ("key=role")
//   - JWTProvider: HS256 bearer tokens carrying a role claim
//
// Authentication only establishes who the caller is. Whether the caller may
// use the agent is decided afterwards by the administrator gate.
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/adminpilot/control-plane/internal/config"
	"github.com/adminpilot/control-plane/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ProviderChain implements contracts.AuthProviderChain.
// It walks registered providers in order until one returns an Identity.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

// NewProviderChain creates an empty auth provider chain.
func NewProviderChain() *ProviderChain {
	return &ProviderChain{
		providers: make([]contracts.AuthProvider, 0),
	}
}

// NewFromConfig builds the chain used by the server: API keys first, then
// JWT bearer tokens.
func NewFromConfig(cfg config.AuthConfig) *ProviderChain {
	chain := NewProviderChain()
	chain.RegisterProvider(NewAPIKeyProvider(cfg.APIKeys, cfg.APIKeyRole))
	chain.RegisterProvider(NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer))
	return chain
}

// RegisterProvider adds a provider to the end of the chain.
// Providers are tried in registration order.
func (c *ProviderChain) RegisterProvider(provider contracts.AuthProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, provider)
	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("🔑 Auth provider registered")
}

// Authenticate walks the chain of providers in order.
//
// Contract:
//   - (*Identity, nil) → authenticated, stop walking
//   - (nil, nil) → this provider doesn't handle this request, try next
//   - (nil, error) → auth attempted but failed, reject immediately
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	c.mu.RLock()
	providers := make([]contracts.AuthProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		if err != nil {
			log.Debug().
				Str("provider", p.Name()).
				Err(err).
				Msg("Auth provider rejected request")
			return nil, err
		}
		if identity != nil {
			log.Debug().
				Str("provider", p.Name()).
				Str("subject", identity.Subject).
				Str("role", identity.Role).
				Msg("Request authenticated")
			return identity, nil
		}
	}

	return nil, nil
}

// ListProviders returns the names of all registered providers (for diagnostics).
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// bearerToken returns the credential from Authorization: Bearer <token>.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// looksLikeJWT reports whether tok has the three dot-separated segments of a
// compact JWS.
func looksLikeJWT(tok string) bool {
	return strings.Count(tok, ".") == 2
}
