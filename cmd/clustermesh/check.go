package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dreamware/clustermesh/internal/config"
	"github.com/dreamware/clustermesh/internal/transport"
)

// configCheckCmd is the dry-run path: load and validate the effective
// configuration, resolve the bind selectors to concrete addresses, and
// exit without touching the coordinator or binding any socket.
func configCheckCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the effective configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			cfg, err := config.Unmarshal(v)
			if err != nil {
				return err
			}

			pub, err := transport.ResolveBindAddr(cfg.Bindings.Pub)
			if err != nil {
				return fmt.Errorf("bindings.pub: %w", err)
			}
			router, err := transport.ResolveBindAddr(cfg.Bindings.Router)
			if err != nil {
				return fmt.Errorf("bindings.router: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bindings.pub     %s -> %s\n", cfg.Bindings.Pub, pub)
			fmt.Fprintf(out, "bindings.router  %s -> %s\n", cfg.Bindings.Router, router)
			fmt.Fprintf(out, "redis.addrs      %v\n", cfg.Redis.Addrs)
			fmt.Fprintf(out, "timers           heartbeat=%s timeout=%s join=%s wait=%s\n",
				cfg.Timers.HeartbeatInterval, cfg.Timers.HeartbeatTimeout,
				cfg.Timers.JoinAttemptInterval, cfg.Timers.WaitForMissingRooms)
			fmt.Fprintln(out, "configuration ok")
			return nil
		},
	})

	return cmd
}
