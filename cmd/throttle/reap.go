package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/throttle/pkg/cli"
	"mercator-hq/throttle/pkg/limits/reaper"
	"mercator-hq/throttle/pkg/server"
)

var reapFlags struct {
	adminURL string
	output   string
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Delete expired window keys once",
	Long: `Run one maintenance sweep: scan the namespace, trim entries older than
each key's window and delete keys left empty. Live windows are never
touched, so a sweep is safe while gateways are serving.

Examples:
  throttle reap
  throttle reap --admin-url http://127.0.0.1:9090 --output json`,
	Args: cobra.NoArgs,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)

	reapCmd.Flags().StringVar(&reapFlags.adminURL, "admin-url", "", "sweep through a running instance instead of the store")
	reapCmd.Flags().StringVarP(&reapFlags.output, "output", "o", "text", "output format: text, json, csv")
}

func runReap(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(reapFlags.output)
	if err != nil {
		return cli.NewConfigError("--output", err.Error())
	}

	var result server.ReapResponse
	if reapFlags.adminURL != "" {
		client, err := server.NewAdminClient(reapFlags.adminURL, nil)
		if err != nil {
			return cli.NewConfigError("--admin-url", err.Error())
		}
		result, err = client.Reap(context.Background())
		if err != nil {
			return cli.NewCommandError("reap", err)
		}
	} else {
		result, err = withLimiter(func(ctx context.Context, s *limiterStack) (server.ReapResponse, error) {
			rp := reaper.New(s.limiter.Store(), s.registry, s.limiter.Composer())
			stats, err := rp.Sweep(ctx)
			return server.NewReapResponse(stats), err
		})
		if err != nil {
			return cli.NewCommandError("reap", err)
		}
	}

	out := stdout(cmd)
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(out, result)
	}
	if format == cli.FormatText {
		fmt.Fprintln(out, "✓ Sweep complete")
	}
	return cli.NewFormatter(format).FormatTo(out, reapTable(result))
}
