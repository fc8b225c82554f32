package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/replication"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that a running server is ready",
	Long: `Check the admin API readiness endpoint and the replication endpoint's
gRPC health service. With --wait the command polls until both are ready,
which is handy right after starting a server.

Examples:
  burrow status
  burrow status --wait 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		rpcAddr, _ := cmd.Flags().GetString("rpc-addr")

		cfg, err := loadConfig(cmd, config.NewViper())
		if err != nil {
			return err
		}
		if rpcAddr == "" {
			rpcAddr = cfg.RPC.Addr
		}

		adminURL := cfg.Admin.Addr
		if !strings.Contains(adminURL, "://") {
			adminURL = "http://" + adminURL
		}

		conn, err := replication.Dial(rpcAddr, nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		checks := []struct {
			name    string
			checker health.Checker
		}{
			{"admin", health.NewHTTPChecker(strings.TrimRight(adminURL, "/") + "/ready")},
			{"replication", health.NewGRPCChecker(conn, replication.ServiceName)},
		}

		ctx := cmd.Context()
		if wait > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, wait)
			defer cancel()
		}
		probe := health.Config{Interval: 500 * time.Millisecond, Timeout: 5 * time.Second}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "ENDPOINT\tSTATUS\tDETAIL")

		failed := 0
		for _, c := range checks {
			var result health.Result
			if wait > 0 {
				status, _ := health.Wait(ctx, c.checker, probe)
				result = status.LastResult
			} else {
				result = c.checker.Check(ctx)
			}

			state := "ready"
			if !result.Healthy {
				state = "not ready"
				failed++
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.name, state, result.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if failed > 0 {
			return fmt.Errorf("%d endpoint(s) not ready", failed)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Duration("wait", 0, "Poll until ready or this long has passed")
	statusCmd.Flags().String("rpc-addr", "", "Replication endpoint address (default from config)")

	rootCmd.AddCommand(statusCmd)
}
