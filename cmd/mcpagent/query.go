package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	agent "github.com/quayside-ai/mcp-agent-go"
)

var (
	queryServer string
	showCost    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [prompt]",
	Short: "Run an agentic query against one server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, reg, err := buildRegistry()
		if err != nil {
			return err
		}
		a, err := buildAgent(cfg, reg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		defer reg.DisconnectAll(ctx)

		// With no --server, connect everything and let the agent pick
		// the first connected one.
		if queryServer == "" {
			reg.ConnectAll(ctx)
		}

		res, err := a.Query(ctx, agent.QueryRequest{
			Server: queryServer,
			Prompt: strings.Join(args, " "),
			OnUpdate: func(u agent.Update) {
				switch u.Kind {
				case agent.UpdateText:
					fmt.Print(u.Text)
				case agent.UpdateToolNotice, agent.UpdateWarning:
					fmt.Fprintf(os.Stderr, "[%s] %s\n", u.Kind, u.Text)
				}
			},
		})
		if err != nil {
			return err
		}
		fmt.Println()

		if showCost {
			fmt.Fprintf(os.Stderr, "query %s: %d iterations, %d in / %d out tokens, $%s\n",
				res.ID, res.Iterations, res.InputTokens, res.OutputTokens, res.CostUSD.StringFixed(4))
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVarP(&queryServer, "server", "s", "", "server name (default: first connected)")
	queryCmd.Flags().BoolVar(&showCost, "cost", false, "print token usage and cost to stderr")
	rootCmd.AddCommand(queryCmd)
}
