package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	agent "github.com/quayside-ai/mcp-agent-go"
	"github.com/quayside-ai/mcp-agent-go/internal/config"
	"github.com/quayside-ai/mcp-agent-go/mcp"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mcpagent",
	Short: "Agentic client for MCP tool servers",
	Long: `mcpagent connects to the MCP (Model Context Protocol) servers listed
in its config file and runs agentic queries against them: the model
decides which server tools to call and the agent feeds the results back
until it can answer in plain text.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mcpagent.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// buildRegistry loads the config file and populates a registry with its
// servers. It does not connect.
func buildRegistry() (*config.Config, *mcp.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	var opts []mcp.RegistryOption
	policy, err := cfg.TimeoutPolicy()
	if err != nil {
		return nil, nil, err
	}
	if policy != nil {
		opts = append(opts, mcp.WithTimeout(*policy))
	}

	reg := mcp.NewRegistry(opts...)
	servers, err := cfg.ServerConfigs()
	if err != nil {
		return nil, nil, err
	}
	for name, sc := range servers {
		if err := reg.UpsertServer(name, sc); err != nil {
			return nil, nil, fmt.Errorf("server %s: %w", name, err)
		}
	}
	return cfg, reg, nil
}

// buildAgent assembles an Agent from the loaded config.
func buildAgent(cfg *config.Config, reg *mcp.Registry) (*agent.Agent, error) {
	var opts []agent.Option
	if cfg.Model != "" {
		opts = append(opts, agent.WithModel(anthropic.Model(cfg.Model)))
	}
	if cfg.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(cfg.SystemPrompt))
	}
	if cfg.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(cfg.MaxIterations))
	}
	if cfg.MaxBudgetUSD > 0 {
		opts = append(opts, agent.WithBudget(decimal.NewFromFloat(cfg.MaxBudgetUSD)))
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		opts = append(opts, agent.WithToolRules(rules...))
	}
	return agent.New(reg, opts...), nil
}
