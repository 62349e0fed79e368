package orchestrator

import (
	"github.com/adminpilot/control-plane/internal/config"
	"github.com/adminpilot/control-plane/internal/tools"
)

// Policy decides what happens to destructive tool calls.
type Policy struct {
	registry *tools.Registry
	mode     string
}

// NewPolicy returns the policy for mode. Anything other than immediate means confirm.
func NewPolicy(registry *tools.Registry, mode string) *Policy {
	if mode != config.DestructiveImmediate {
		mode = config.DestructiveConfirm
	}
	return &Policy{registry: registry, mode: mode}
}

// Mode is config.DestructiveConfirm or config.DestructiveImmediate.
func (p *Policy) Mode() string { return p.mode }

// IsDestructive reports whether name is declared destructive.
func (p *Policy) IsDestructive(name string) bool {
	return p.registry.IsDestructive(name)
}

// RequiresConfirmation reports whether a call must be held for the caller to
// confirm before it runs.
func (p *Policy) RequiresConfirmation(decl tools.Declaration) bool {
	return decl.Destructive && p.mode == config.DestructiveConfirm
}
