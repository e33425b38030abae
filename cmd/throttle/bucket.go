package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/throttle/pkg/cli"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/server"
)

// bucketFlags are shared by status and reset.
var bucketFlags struct {
	identifier string
	class      string
	user       string
	output     string
	adminURL   string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the window counts of one bucket",
	Long: `Show both window counts of the bucket for an identifier, endpoint class
and optional user id. Reading a bucket does not count as a request.

By default the configured store is read directly. With --admin-url the
running instance's admin API is asked instead.

Exits with status 3 when the bucket would deny its next request.

Examples:
  throttle status --identifier 203.0.113.7 --class auth
  throttle status --identifier 203.0.113.7 --class api --user alice --output json
  throttle status --identifier 203.0.113.7 --class auth --admin-url http://127.0.0.1:9090`,
	RunE: showStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear both windows of one bucket",
	Long: `Delete both window keys of the bucket for an identifier, endpoint class
and optional user id. The next request starts from empty windows.

Examples:
  throttle reset --identifier 203.0.113.7 --class auth
  throttle reset --identifier 203.0.113.7 --class auth --admin-url http://127.0.0.1:9090`,
	RunE: resetBucket,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, resetCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVar(&bucketFlags.identifier, "identifier", "", "caller identifier, usually the client IP (required)")
		c.Flags().StringVar(&bucketFlags.class, "class", "", "endpoint class (required)")
		c.Flags().StringVar(&bucketFlags.user, "user", "", "authenticated user id")
		c.Flags().StringVar(&bucketFlags.adminURL, "admin-url", "", "use a running instance's admin API instead of the store")
		_ = c.MarkFlagRequired("identifier")
		_ = c.MarkFlagRequired("class")
	}
	statusCmd.Flags().StringVarP(&bucketFlags.output, "output", "o", "text", "output format: text, json, csv")
}

func bucketRequest() (server.BucketRequest, error) {
	b := server.BucketRequest{
		Identifier: strings.TrimSpace(bucketFlags.identifier),
		Class:      strings.TrimSpace(bucketFlags.class),
		UserID:     strings.TrimSpace(bucketFlags.user),
	}
	if b.Identifier == "" {
		return b, cli.NewConfigError("--identifier", "must not be empty")
	}
	if b.Class == "" {
		return b, cli.NewConfigError("--class", "must not be empty")
	}
	return b, nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	b, err := bucketRequest()
	if err != nil {
		return err
	}
	format, err := cli.ParseOutputFormat(bucketFlags.output)
	if err != nil {
		return cli.NewConfigError("--output", err.Error())
	}

	var status server.StatusResponse
	if bucketFlags.adminURL != "" {
		client, err := server.NewAdminClient(bucketFlags.adminURL, nil)
		if err != nil {
			return cli.NewConfigError("--admin-url", err.Error())
		}
		status, err = client.Status(context.Background(), b)
		if err != nil {
			return cli.NewCommandError("status", err)
		}
	} else {
		status, err = withLimiter(func(ctx context.Context, s *limiterStack) (server.StatusResponse, error) {
			st, err := s.limiter.StatusOf(ctx, b.Identifier, policy.EndpointClass(b.Class), b.UserID)
			if err != nil {
				return server.StatusResponse{}, err
			}
			return server.NewStatusResponse(st), nil
		})
		if err != nil {
			return cli.NewCommandError("status", err)
		}
	}

	out := stdout(cmd)
	if format == cli.FormatText {
		who := status.Identifier
		if status.UserID != "" {
			who += " (user " + status.UserID + ")"
		}
		verdict := "allowing"
		if status.Blocked {
			verdict = "BLOCKED"
		}
		fmt.Fprintf(out, "%s on %s: %s\n\n", who, status.Class, verdict)
	}

	var data any = statusTable(status)
	if format == cli.FormatJSON {
		data = status
	}
	if err := cli.NewFormatter(format).FormatTo(out, data); err != nil {
		return err
	}

	if status.Blocked {
		return &cli.ExitError{Code: cli.ExitLimited}
	}
	return nil
}

func resetBucket(cmd *cobra.Command, args []string) error {
	b, err := bucketRequest()
	if err != nil {
		return err
	}

	if bucketFlags.adminURL != "" {
		client, err := server.NewAdminClient(bucketFlags.adminURL, nil)
		if err != nil {
			return cli.NewConfigError("--admin-url", err.Error())
		}
		if _, err := client.Reset(context.Background(), b); err != nil {
			return cli.NewCommandError("reset", err)
		}
	} else {
		_, err = withLimiter(func(ctx context.Context, s *limiterStack) (struct{}, error) {
			return struct{}{}, s.limiter.ResetKey(ctx, b.Identifier, policy.EndpointClass(b.Class), b.UserID)
		})
		if err != nil {
			return cli.NewCommandError("reset", err)
		}
	}

	fmt.Fprintf(stdout(cmd), "✓ Reset %s on %s\n", b.Identifier, b.Class)
	return nil
}

// withLimiter opens a limiter on the configured store for one operation.
func withLimiter[T any](fn func(ctx context.Context, s *limiterStack) (T, error)) (T, error) {
	var zero T

	cfg, err := loadConfig()
	if err != nil {
		return zero, err
	}
	logger, err := commandLogger(cfg)
	if err != nil {
		return zero, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := openLimiter(ctx, cfg, logger, limiterDeps{})
	if err != nil {
		return zero, err
	}
	defer stack.Close()

	return fn(ctx, stack)
}
