// Package codingagent declares the pool of AI coding-agent backends the
// Agent Invoker can dispatch to, grounded on
// dpolishuk-yolo-runner/internal/codingagents/catalog.go's BackendDefinition
// shape. The teacher loads its builtin pool via `go:embed builtin/*.yaml`;
// those fixture files are not present in the retrieved pack, so builtins
// here are Go literals instead (see DESIGN.md) while user overrides still
// go through the same YAML merge path.
package codingagent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Definition describes one invocable agent backend.
type Definition struct {
	Name                string   `yaml:"name"`
	Binary              string   `yaml:"binary"`
	Args                []string `yaml:"args"`
	SupportedModels     []string `yaml:"supportedModels"`
	RequiredCredentials []string `yaml:"requiredCredentials"`
	IsScheduler         bool     `yaml:"isScheduler"`
	IsMergeQueue        bool     `yaml:"isMergeQueue"`
}

// Catalog maps agent id to its Definition.
type Catalog struct {
	definitions map[string]Definition
}

// DefaultPool returns the builtin agent pool: a general-purpose implement/
// review backend, a dedicated scheduler backend and a dedicated merge-queue
// backend, expressed as Go literals per the DESIGN.md note above.
func DefaultPool() *Catalog {
	c := &Catalog{definitions: map[string]Definition{}}
	c.add(Definition{
		Name:                "claude-code",
		Binary:              "claude",
		Args:                []string{"--print", "--output-format", "json"},
		SupportedModels:     []string{"claude-sonnet-4", "claude-opus-4"},
		RequiredCredentials: []string{"ANTHROPIC_API_KEY"},
	})
	c.add(Definition{
		Name:                "scheduler-agent",
		Binary:              "claude",
		Args:                []string{"--print", "--output-format", "json"},
		SupportedModels:     []string{"claude-sonnet-4"},
		RequiredCredentials: []string{"ANTHROPIC_API_KEY"},
		IsScheduler:         true,
	})
	c.add(Definition{
		Name:                "merge-queue-agent",
		Binary:              "claude",
		Args:                []string{"--print", "--output-format", "json"},
		SupportedModels:     []string{"claude-sonnet-4"},
		RequiredCredentials: []string{"ANTHROPIC_API_KEY"},
		IsMergeQueue:        true,
	})
	return c
}

func (c *Catalog) add(d Definition) { c.definitions[d.Name] = d }

// adapterDefaults maps an agent pool entry's declared type to the binary and
// base args a bare type name implies, matching
// dpolishuk-yolo-runner/internal/codingagents/catalog.go's
// normalizeBackendDefinition adapter-to-binary defaulting (its "gemini"
// adapter defaults to the "gemini" binary when none is given).
var adapterDefaults = map[string]struct {
	binary string
	args   []string
}{
	"claude":   {"claude", []string{"--print", "--output-format", "json"}},
	"codex":    {"codex", []string{"exec", "--json"}},
	"opencode": {"opencode", []string{"run", "--print-logs"}},
	"kimi":     {"kimi", []string{"--print"}},
}

// DefaultsForType returns the builtin binary/args for a known agent pool
// entry type, or ok=false for an unrecognized or "command" type that must
// supply its own binary explicitly.
func DefaultsForType(agentType string) (binary string, args []string, ok bool) {
	d, ok := adapterDefaults[agentType]
	if !ok {
		return "", nil, false
	}
	return d.binary, append([]string(nil), d.args...), true
}

// NewPool builds a Catalog from the configured entries, keyed by agent id
// (spec.md §6's "agent pool mapping agentId -> { type, model, role
// flags }"). An entry's Binary/Args, when set, override DefaultsForType(Type)
// entirely, letting a "command" type (or any custom binary) opt out of the
// builtin adapter table.
func NewPool(entries map[string]PoolEntry) *Catalog {
	c := &Catalog{definitions: map[string]Definition{}}
	for id, e := range entries {
		binary, args := e.Binary, e.Args
		if binary == "" {
			binary, args, _ = DefaultsForType(e.Type)
		}
		models := e.SupportedModels
		if len(models) == 0 && e.Model != "" {
			models = []string{e.Model}
		}
		c.add(Definition{
			Name:                id,
			Binary:              binary,
			Args:                args,
			SupportedModels:     models,
			RequiredCredentials: e.RequiredCredentials,
			IsScheduler:         e.IsScheduler,
			IsMergeQueue:        e.IsMergeQueue,
		})
	}
	return c
}

// PoolEntry is the codingagent-side mirror of config.AgentPoolEntry, kept as
// its own type so this package never needs to import internal/config.
type PoolEntry struct {
	Type                string
	Model               string
	Binary              string
	Args                []string
	SupportedModels     []string
	RequiredCredentials []string
	IsScheduler         bool
	IsMergeQueue        bool
}

// LoadOverrides merges user-supplied *.yaml definitions from dir on top of
// the builtin pool, matching the teacher's custom-definitions merge step.
func (c *Catalog) LoadOverrides(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("codingagent: read overrides dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("codingagent: read %s: %w", entry.Name(), err)
		}
		var d Definition
		if err := yaml.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("codingagent: parse %s: %w", entry.Name(), err)
		}
		if d.Name == "" {
			return fmt.Errorf("codingagent: %s missing name", entry.Name())
		}
		c.add(d)
	}
	return nil
}

// Get returns the definition for id, or false if unknown.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.definitions[id]
	return d, ok
}

// Scheduler returns a definition flagged IsScheduler. When several are
// flagged, which one is returned is not defined.
func (c *Catalog) Scheduler() (Definition, bool) {
	for _, d := range c.definitions {
		if d.IsScheduler {
			return d, true
		}
	}
	return Definition{}, false
}

// Names returns every registered agent id.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.definitions))
	for name := range c.definitions {
		names = append(names, name)
	}
	return names
}
