package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Connect to every configured server and report their states",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reg, err := buildRegistry()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		reg.ConnectAll(ctx)
		defer reg.DisconnectAll(ctx)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTRANSPORT\tSTATE\tSERVER\tERROR")
		for _, info := range reg.Snapshot() {
			server := ""
			if info.Capabilities != nil {
				server = info.Capabilities.ServerName + " " + info.Capabilities.ServerVersion
			}
			errText := ""
			if info.Err != nil {
				errText = info.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				info.Name, info.Config.Transport, info.State, server, errText)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(serversCmd)
}
