// Package config loads the run configuration spec.md §6 lists as consumed
// once at startup, grounded on
// nandosb-ai-native-sdlc/internal/engine/engine.go's YAML-loaded Manifest.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OrderingStrategy selects how the merge queue orders ready tickets.
type OrderingStrategy string

const (
	OrderingPriority           OrderingStrategy = "priority"
	OrderingTicketOrder        OrderingStrategy = "ticket-order"
	OrderingReportCompleteFIFO OrderingStrategy = "report-complete-fifo"
)

// AgentPoolEntry is one agentId -> role/type/model mapping, per spec.md §6.
// Binary/Args/SupportedModels/RequiredCredentials are optional overrides;
// when Binary is empty, codingagent.DefaultsForType(Type) supplies it.
type AgentPoolEntry struct {
	Type                string   `yaml:"type"`
	Model               string   `yaml:"model"`
	Binary              string   `yaml:"binary"`
	Args                []string `yaml:"args"`
	SupportedModels     []string `yaml:"supportedModels"`
	RequiredCredentials []string `yaml:"requiredCredentials"`
	IsScheduler         bool     `yaml:"isScheduler"`
	IsMergeQueue        bool     `yaml:"isMergeQueue"`
}

// Config is the full startup configuration.
type Config struct {
	ProjectName         string                    `yaml:"projectName"`
	RepoRoot            string                    `yaml:"repoRoot"`
	SpecsPath           string                    `yaml:"specsPath"`
	ReferenceFiles      []string                  `yaml:"referenceFiles"`
	BuildCmds           map[string]string         `yaml:"buildCmds"`
	TestCmds            map[string]string         `yaml:"testCmds"`
	PreLandChecks       []string                  `yaml:"preLandChecks"`
	PostLandChecks      []string                  `yaml:"postLandChecks"`
	CodeStyle           string                    `yaml:"codeStyle"`
	ReviewChecklist     []string                  `yaml:"reviewChecklist"`
	MaxConcurrency      int                       `yaml:"maxConcurrency"`
	MainBranch          string                    `yaml:"mainBranch"`
	MaxSpeculativeDepth int                       `yaml:"maxSpeculativeDepth"`
	OrderingStrategy    OrderingStrategy          `yaml:"orderingStrategy"`
	AgentPool           map[string]AgentPoolEntry `yaml:"agentPool"`
}

const envMaxConcurrency = "WORKFLOW_MAX_CONCURRENCY"

// Load reads and validates a Config from path, applying spec.md §5/§6's
// defaults and bounds.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 6
	}
	if envVal := os.Getenv(envMaxConcurrency); envVal != "" {
		if n, err := parsePositiveInt(envVal); err == nil {
			cfg.MaxConcurrency = n
		}
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	if cfg.MaxSpeculativeDepth == 0 {
		cfg.MaxSpeculativeDepth = 3
	}
	if cfg.OrderingStrategy == "" {
		cfg.OrderingStrategy = OrderingPriority
	}
}

func validate(cfg *Config) error {
	if cfg.ProjectName == "" {
		return fmt.Errorf("config: projectName is required")
	}
	if cfg.RepoRoot == "" {
		return fmt.Errorf("config: repoRoot is required")
	}
	if cfg.MaxConcurrency < 1 || cfg.MaxConcurrency > 32 {
		return fmt.Errorf("config: maxConcurrency must be 1-32, got %d", cfg.MaxConcurrency)
	}
	switch cfg.OrderingStrategy {
	case OrderingPriority, OrderingTicketOrder, OrderingReportCompleteFIFO:
	default:
		return fmt.Errorf("config: unknown orderingStrategy %q", cfg.OrderingStrategy)
	}
	return nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", envMaxConcurrency)
	}
	return n, nil
}
