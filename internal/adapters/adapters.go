// Package adapters holds the registry of per-CLI-tool adapters. Adding a tool
// means adding an implementation and registering it, not editing a switch.
package adapters

import (
	"github.com/agentdeck/agentdeck/internal/adapters/claudecli"
	"github.com/agentdeck/agentdeck/internal/adapters/codexcli"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
)

// Registry maps tool identities to their adapters.
type Registry struct {
	adapters map[conversation.Tool]ports.ToolAdapter
}

// NewRegistry creates a registry with the built-in adapters registered.
// Empty commands fall back to each adapter's default binary name.
func NewRegistry(claudeCommand, codexCommand string) *Registry {
	r := &Registry{adapters: make(map[conversation.Tool]ports.ToolAdapter)}
	r.Register(claudecli.New(claudeCommand))
	r.Register(codexcli.New(codexCommand))
	return r
}

// Register adds an adapter, replacing any previous adapter for the same tool.
func (r *Registry) Register(a ports.ToolAdapter) {
	r.adapters[a.Tool()] = a
}

// Lookup returns the adapter for a tool, or ErrUnsupportedTool.
func (r *Registry) Lookup(tool conversation.Tool) (ports.ToolAdapter, error) {
	a, ok := r.adapters[tool]
	if !ok {
		return nil, domain.ErrUnsupportedTool
	}
	return a, nil
}

// Tools returns the registered tool identifiers.
func (r *Registry) Tools() []conversation.Tool {
	tools := make([]conversation.Tool, 0, len(r.adapters))
	for t := range r.adapters {
		tools = append(tools, t)
	}
	return tools
}
