package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/adminpilot/control-plane/pkg/contracts"
)

var errInvalidAPIKey = errors.New("invalid API key")

// APIKeyProvider validates static API keys from the Authorization: Bearer
// <key> or X-API-Key headers.
//
// Config: ADMINPILOT_API_KEYS, a comma-separated list of "key" or "key=role"
// entries. Keys without a role get ADMINPILOT_API_KEY_ROLE.
type APIKeyProvider struct {
	mu          sync.RWMutex
	keys        map[string]string
	defaultRole string
}

// NewAPIKeyProvider parses the key list. An empty list disables the provider.
func NewAPIKeyProvider(list, defaultRole string) *APIKeyProvider {
	p := &APIKeyProvider{
		keys:        make(map[string]string),
		defaultRole: defaultRole,
	}
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, role, _ := strings.Cut(entry, "=")
		p.AddKey(strings.TrimSpace(key), strings.TrimSpace(role))
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate validates the API key and returns an Identity.
// Returns (nil, nil) if no API key is present, or if the bearer credential is
// a JWT meant for the next provider.
// Returns (nil, error) if an API key is present but invalid.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = bearerToken(r)
		if looksLikeJWT(apiKey) {
			return nil, nil
		}
	}
	if apiKey == "" {
		return nil, nil
	}

	role, ok := p.lookup(apiKey)
	if !ok {
		return nil, errInvalidAPIKey
	}

	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(apiKey)))
	return &contracts.Identity{
		Subject:     "apikey:" + keyHash[:16],
		Provider:    "apikey",
		Role:        role,
		DisplayName: "API Key User",
	}, nil
}

func (p *APIKeyProvider) lookup(candidate string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	role, found := "", false
	for key, r := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			role, found = r, true
		}
	}
	return role, found
}

// AddKey adds a key at runtime. An empty role selects the default role.
func (p *APIKeyProvider) AddKey(key, role string) {
	if key == "" {
		return
	}
	if role == "" {
		role = p.defaultRole
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = role
}

// RemoveKey removes a key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}
