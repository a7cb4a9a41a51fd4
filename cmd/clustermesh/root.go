package main

import (
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "clustermesh",
		Short:   "Realtime pub/sub clustering node",
		Version: "0.1.0",
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional; env vars and defaults apply otherwise)")

	cmd.AddCommand(runCmd(&configPath))
	cmd.AddCommand(configCheckCmd(&configPath))
	return cmd
}
