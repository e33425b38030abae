package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mercator-hq/throttle/pkg/cli"
	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/server"
)

var policyFlags struct {
	adminURL string
	output   string

	sustainedLimit  int64
	sustainedWindow time.Duration
	burstLimit      int64
	burstWindow     time.Duration
	cooldown        time.Duration
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "List or change endpoint class policies",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective policies",
	Long: `List the policy of every endpoint class.

Without --admin-url the table comes from the configuration. With it, the
running instance's table is listed, including changes made through the
admin API since it started.

Examples:
  throttle policy list
  throttle policy list --admin-url http://127.0.0.1:9090 --output json`,
	Args: cobra.NoArgs,
	RunE: listPolicies,
}

var policySetCmd = &cobra.Command{
	Use:   "set CLASS",
	Short: "Change a policy on a running instance",
	Long: `Replace the policy of an existing endpoint class on a running instance.

Fields not given on the command line keep their current value. The change
is validated as a whole and applies from the next request. It is held in
memory by that one instance: repeat it for every instance sharing the store,
and update the configuration file to keep it across restarts.

Examples:
  throttle policy set auth --burst-limit 5 --admin-url http://127.0.0.1:9090
  throttle policy set search --sustained-limit 120 --sustained-window 1m`,
	Args: cobra.ExactArgs(1),
	RunE: setPolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd, policySetCmd)

	policyCmd.PersistentFlags().StringVar(&policyFlags.adminURL, "admin-url", "",
		"admin API of the running instance (policy set defaults to "+defaultAdminURL+")")
	policyListCmd.Flags().StringVarP(&policyFlags.output, "output", "o", "text", "output format: text, json, csv")
	addPolicySetFlags(policySetCmd.Flags())
}

// defaultAdminURL matches the default admin.listen_address.
const defaultAdminURL = "http://127.0.0.1:9090"

func addPolicySetFlags(fs *pflag.FlagSet) {
	fs.Int64Var(&policyFlags.sustainedLimit, "sustained-limit", 0, "requests per sustained window")
	fs.DurationVar(&policyFlags.sustainedWindow, "sustained-window", 0, "sustained window length")
	fs.Int64Var(&policyFlags.burstLimit, "burst-limit", 0, "requests per burst window")
	fs.DurationVar(&policyFlags.burstWindow, "burst-window", 0, "burst window length")
	fs.DurationVar(&policyFlags.cooldown, "cooldown", 0, "minimum Retry-After on denial")
}

func listPolicies(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(policyFlags.output)
	if err != nil {
		return cli.NewConfigError("--output", err.Error())
	}

	var policies server.PoliciesResponse
	if policyFlags.adminURL != "" {
		client, err := server.NewAdminClient(policyFlags.adminURL, nil)
		if err != nil {
			return cli.NewConfigError("--admin-url", err.Error())
		}
		policies, err = client.Policies(context.Background())
		if err != nil {
			return cli.NewCommandError("policy list", err)
		}
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := policy.NewRegistry(cfg.Limits.PolicyMap())
		if err != nil {
			return cli.NewConfigError("limits.policies", err.Error())
		}
		policies = server.NewPoliciesResponse(registry)
	}

	var data any = policyTable(policies)
	if format == cli.FormatJSON {
		data = policies
	}
	return cli.NewFormatter(format).FormatTo(stdout(cmd), data)
}

func setPolicy(cmd *cobra.Command, args []string) error {
	class := args[0]

	adminURL := policyFlags.adminURL
	if adminURL == "" {
		adminURL = defaultAdminURL
	}
	client, err := server.NewAdminClient(adminURL, nil)
	if err != nil {
		return cli.NewConfigError("--admin-url", err.Error())
	}
	ctx := context.Background()

	current, err := findPolicy(ctx, client, class)
	if err != nil {
		return cli.NewCommandError("policy set", err)
	}

	updated, err := applyPolicyFlags(cmd, current)
	if err != nil {
		return err
	}

	resp, err := client.SetPolicy(ctx, class, updated)
	if err != nil {
		return cli.NewCommandError("policy set", err)
	}

	fmt.Fprintf(stdout(cmd), "✓ Policy %s updated\n\n", resp.Class)
	return cli.NewFormatter(cli.FormatText).FormatTo(stdout(cmd),
		policyTable(server.PoliciesResponse{Policies: []server.PolicyResponse{resp}}))
}

func findPolicy(ctx context.Context, client *server.AdminClient, class string) (config.PolicyConfig, error) {
	list, err := client.Policies(ctx)
	if err != nil {
		return config.PolicyConfig{}, err
	}
	for _, p := range list.Policies {
		if p.Class == class {
			return p.PolicyConfig, nil
		}
	}
	return config.PolicyConfig{}, fmt.Errorf("%w: %q", policy.ErrUnknownEndpointClass, class)
}

// applyPolicyFlags overlays the flags that were given on p.
func applyPolicyFlags(cmd *cobra.Command, p config.PolicyConfig) (config.PolicyConfig, error) {
	changed := cmd.Flags().Changed
	seconds := func(flag string, d time.Duration, dst *int) error {
		if !changed(flag) {
			return nil
		}
		if d%time.Second != 0 {
			return cli.NewConfigError("--"+flag, "must be a whole number of seconds")
		}
		*dst = int(d / time.Second)
		return nil
	}

	if !changed("sustained-limit") && !changed("sustained-window") && !changed("burst-limit") &&
		!changed("burst-window") && !changed("cooldown") {
		return p, cli.NewConfigError("", "nothing to change: give at least one policy flag")
	}

	if changed("sustained-limit") {
		p.SustainedLimit = policyFlags.sustainedLimit
	}
	if changed("burst-limit") {
		p.BurstLimit = policyFlags.burstLimit
	}
	if err := seconds("sustained-window", policyFlags.sustainedWindow, &p.SustainedWindowSeconds); err != nil {
		return p, err
	}
	if err := seconds("burst-window", policyFlags.burstWindow, &p.BurstWindowSeconds); err != nil {
		return p, err
	}
	if err := seconds("cooldown", policyFlags.cooldown, &p.CooldownSeconds); err != nil {
		return p, err
	}
	return p, nil
}
