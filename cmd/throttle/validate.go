package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/throttle/pkg/cli"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/server"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration file with .env and THROTTLE_* overrides applied,
validate it and print the effective routes and policies.

Every policy must satisfy:
  - both windows and both limits positive (a limit of 0 blocks the class)
  - burst window <= sustained window
  - burst limit <= sustained limit

Examples:
  throttle validate
  throttle validate --config /etc/throttle/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := policy.NewRegistry(cfg.Limits.PolicyMap())
	if err != nil {
		return cli.NewConfigError("limits.policies", err.Error())
	}

	out := stdout(cmd)
	fmt.Fprintln(out, "✓ Configuration valid")
	fmt.Fprintf(out, "  Store:     %s\n", cfg.Limits.Store.Backend)
	fmt.Fprintf(out, "  Namespace: %s\n", cfg.Limits.Namespace)
	fmt.Fprintf(out, "  Upstream:  %s\n", cfg.Proxy.UpstreamURL)
	if !cfg.Limits.Enabled {
		fmt.Fprintln(out, "  ! limits.enabled is false: requests are forwarded unchecked")
	}

	fmt.Fprintln(out, "\nRoutes:")
	if len(cfg.Proxy.Routes) == 0 {
		fmt.Fprintln(out, "  (none: every request is forwarded unchecked)")
	}
	for _, r := range cfg.Proxy.Routes {
		fmt.Fprintf(out, "  %-24s %s\n", r.PathPrefix, r.Class)
	}

	fmt.Fprintln(out, "\nPolicies:")
	return cli.NewFormatter(cli.FormatText).FormatTo(out, policyTable(server.NewPoliciesResponse(registry)))
}
