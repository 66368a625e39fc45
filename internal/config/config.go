// Package config loads the YAML configuration consumed by the CLI:
// model settings, the server list, timeout policy, and tool rules.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quayside-ai/mcp-agent-go/mcp"
	"github.com/quayside-ai/mcp-agent-go/permission"
)

// Config mirrors the YAML file layout.
type Config struct {
	Model         string         `yaml:"model,omitempty"`
	SystemPrompt  string         `yaml:"system_prompt,omitempty"`
	MaxIterations int            `yaml:"max_iterations,omitempty"`
	MaxBudgetUSD  float64        `yaml:"max_budget_usd,omitempty"`
	Timeout       *TimeoutConfig `yaml:"timeout,omitempty"`

	Servers   map[string]ServerEntry `yaml:"servers,omitempty"`
	ToolRules []RuleEntry            `yaml:"tool_rules,omitempty"`
}

// ServerEntry is one server in the YAML file.
type ServerEntry struct {
	Transport string            `yaml:"transport"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	AuthToken string            `yaml:"auth_token,omitempty"`
	Flags     []string          `yaml:"flags,omitempty"`
	Timeout   *TimeoutConfig    `yaml:"timeout,omitempty"`
}

// TimeoutConfig holds durations as strings ("30s", "5m").
type TimeoutConfig struct {
	PerRequest      string `yaml:"per_request,omitempty"`
	ResetOnProgress *bool  `yaml:"reset_on_progress,omitempty"`
	MaxTotal        string `yaml:"max_total,omitempty"`
}

// RuleEntry is one tool rule in the YAML file.
type RuleEntry struct {
	Pattern  string `yaml:"pattern"`
	Decision string `yaml:"decision"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// TimeoutPolicy converts the top-level timeout section, or returns nil
// when the section is absent.
func (c *Config) TimeoutPolicy() (*mcp.TimeoutPolicy, error) {
	return c.Timeout.policy()
}

// ServerConfigs converts every server entry into an mcp.ServerConfig.
func (c *Config) ServerConfigs() (map[string]mcp.ServerConfig, error) {
	out := make(map[string]mcp.ServerConfig, len(c.Servers))
	for name, entry := range c.Servers {
		timeout, err := entry.Timeout.policy()
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		out[name] = mcp.ServerConfig{
			Transport: mcp.TransportType(entry.Transport),
			URL:       entry.URL,
			Headers:   entry.Headers,
			AuthToken: entry.AuthToken,
			Flags:     entry.Flags,
			Timeout:   timeout,
		}
	}
	return out, nil
}

// Rules converts the tool_rules section into permission rules.
func (c *Config) Rules() ([]permission.Rule, error) {
	rules := make([]permission.Rule, 0, len(c.ToolRules))
	for _, entry := range c.ToolRules {
		var decision permission.Decision
		switch entry.Decision {
		case "allow":
			decision = permission.Allow
		case "deny":
			decision = permission.Deny
		default:
			return nil, fmt.Errorf("tool rule %q: unknown decision %q", entry.Pattern, entry.Decision)
		}
		rules = append(rules, permission.Rule{Pattern: entry.Pattern, Decision: decision})
	}
	return rules, nil
}

func (t *TimeoutConfig) policy() (*mcp.TimeoutPolicy, error) {
	if t == nil {
		return nil, nil
	}
	policy := mcp.DefaultTimeoutPolicy()
	if t.PerRequest != "" {
		d, err := time.ParseDuration(t.PerRequest)
		if err != nil {
			return nil, fmt.Errorf("per_request: %w", err)
		}
		policy.PerRequest = d
	}
	if t.ResetOnProgress != nil {
		policy.ResetOnProgress = *t.ResetOnProgress
	}
	if t.MaxTotal != "" {
		d, err := time.ParseDuration(t.MaxTotal)
		if err != nil {
			return nil, fmt.Errorf("max_total: %w", err)
		}
		policy.MaxTotal = d
	}
	return &policy, nil
}
