// Package middleware provides context helpers shared by the HTTP layer and
// the agent core.
package middleware

import (
	"context"
	"sync"

	"github.com/adminpilot/control-plane/pkg/contracts"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context.
// Called by the auth middleware after successful authentication.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	if slot, ok := ctx.Value(actorSlotKey).(*ActorSlot); ok {
		slot.mu.Lock()
		slot.subject = identity.Subject
		slot.mu.Unlock()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil if no identity is set (anonymous/unauthenticated request).
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}

const actorSlotKey contextKey = "actor_slot"

// ActorSlot carries the authenticated subject back up to middleware that
// runs before authentication, such as the request logger.
type ActorSlot struct {
	mu      sync.Mutex
	subject string
}

// Subject returns the recorded subject, or "" for an anonymous request.
func (s *ActorSlot) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// WithActorSlot attaches an empty ActorSlot to ctx. SetIdentity fills it.
func WithActorSlot(ctx context.Context) (context.Context, *ActorSlot) {
	slot := &ActorSlot{}
	return context.WithValue(ctx, actorSlotKey, slot), slot
}
