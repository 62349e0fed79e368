package tools

import (
	"fmt"
	"sort"
)

// Registry is the immutable set of tools the agent may call.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry builds the registry from the built-in catalog.
func NewRegistry() *Registry {
	var all []Tool
	all = append(all, contactTools()...)
	all = append(all, exportTools()...)
	all = append(all, chatTools()...)
	all = append(all, emailTools()...)
	all = append(all, aiTools()...)
	all = append(all, automationTools()...)
	all = append(all, socialTools()...)
	all = append(all, auditTools()...)
	return newRegistry(all)
}

func newRegistry(all []Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(all))}
	for _, t := range all {
		d := t.Declaration()
		if _, dup := r.tools[d.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", d.Name))
		}
		if d.Destructive && d.ReadOnly {
			panic(fmt.Sprintf("tools: %q cannot be both destructive and read-only", d.Name))
		}
		if err := t.compile(); err != nil {
			panic(fmt.Sprintf("tools: %v", err))
		}
		r.tools[d.Name] = t
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every declaration sorted by name.
func (r *Registry) List() []Declaration {
	out := make([]Declaration, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.tools[n].Declaration())
	}
	return out
}

// Schema returns the parameter schema of name.
func (r *Registry) Schema(name string) (*Schema, bool) {
	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return t.Declaration().Parameters, true
}

// IsDestructive reports whether name is a registered destructive tool.
func (r *Registry) IsDestructive(name string) bool {
	t, ok := r.tools[name]
	return ok && t.Declaration().Destructive
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.names) }
