// Package contracts defines the authentication interfaces for the pluggable auth layer.
//
// Providers turn a request credential into an Identity; the administrator
// gate is applied afterwards and never depends on which provider matched.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated caller.
// Produced by an AuthProvider, consumed by the admin gate and the orchestrator.
type Identity struct {
	// Subject is the unique identifier (user ID, API key hash).
	// It is the actor ID written to the audit trail.
	Subject string `json:"subject"`

	// Email is the user's email address (may be empty for API keys).
	Email string `json:"email,omitempty"`

	// DisplayName is a human-readable name.
	DisplayName string `json:"display_name,omitempty"`

	// Provider identifies which auth provider authenticated this identity.
	// Values: "apikey", "jwt"
	Provider string `json:"provider"`

	// Role is the caller's role. Only the configured admin role may use the agent.
	Role string `json:"role"`

	// ExpiresAt is when this identity's credential expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role string) bool {
	return i != nil && role != "" && i.Role == role
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	// Name returns the provider identifier (e.g. "apikey", "jwt").
	Name() string

	// Authenticate inspects the request and returns an Identity.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// Enabled returns whether this provider is configured and active.
	Enabled() bool
}

// ── AuthProviderChain ───────────────────────────────────────

// AuthProviderChain tries providers in priority order until one returns an Identity.
type AuthProviderChain interface {
	// Authenticate walks the chain of providers in order.
	// Returns the first successful Identity, or (nil, nil) if no provider matched.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// RegisterProvider adds a provider to the end of the chain.
	RegisterProvider(provider AuthProvider)
}
