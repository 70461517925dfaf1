// Package toolgroup holds the registry of callable tool-group
// configurations. The groups themselves (their transports and the tools
// behind them) are operated by the execution engine; this registry only
// resolves which configurations a given agent may hand to it.
package toolgroup

import "sync"

// Config describes one tool group's transport and the fully-qualified
// tool names it exposes.
type Config struct {
	Name string `yaml:"-" json:"name"`

	// Transport is how the engine reaches the group: "stdio" or "http".
	Transport string `yaml:"transport" json:"transport"`

	// Command and Args launch a stdio transport.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// URL is the endpoint for an http transport.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Env lists environment variables passed through to the transport.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Tools are the fully-qualified tool names this group exposes
	// (e.g. "github.create_issue").
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// Registry maps group names to configurations. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]Config
}

// NewRegistry builds a registry from configured groups.
func NewRegistry(groups map[string]Config) *Registry {
	r := &Registry{groups: make(map[string]Config, len(groups))}
	for name, cfg := range groups {
		cfg.Name = name
		r.groups[name] = cfg
	}
	return r
}

// Resolve returns the configurations for the named groups. Unknown names
// are returned separately rather than failing: an agent whose groups have
// gone away still runs with the engine's generic capabilities.
func (r *Registry) Resolve(names []string) (found []Config, missing []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range names {
		cfg, ok := r.groups[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		found = append(found, cfg)
	}
	return found, missing
}

// Tools flattens the fully-qualified tool names of the given groups.
func Tools(groups []Config) []string {
	var tools []string
	for _, g := range groups {
		tools = append(tools, g.Tools...)
	}
	return tools
}

// Names returns all registered group names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	return names
}
