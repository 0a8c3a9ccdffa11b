package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconveyor/conveyor/pkg/config"
	"github.com/openconveyor/conveyor/pkg/policy"
	"github.com/openconveyor/conveyor/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	envName    string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conveyor",
		Short: "Conveyor - workflow automation backend",
		Long: `Conveyor dispatches small automation modules under a uniform execution
contract: canonical results, capability policy gating per environment,
timeouts with transient-only retry, and pooled browser sessions for
web automation.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&envName, "env", "e", "", "runtime environment (local, development, staging, production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "include internal result metadata in output")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newModulesCommand())
	rootCmd.AddCommand(newPolicyCommand(version))
	rootCmd.AddCommand(newSessionsCommand(version))
	rootCmd.AddCommand(newHistoryCommand(version))

	return rootCmd
}

// runtime bundles what every command needs after startup: the parsed
// config, the environment resolved exactly once, and telemetry.
type runtime struct {
	cfg *config.Config
	env policy.Environment
	tel *telemetry.Telemetry
}

func setupRuntime(version string) (*runtime, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	env := cfg.ResolveEnvironment(envName)

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version, env))
	if err != nil {
		return nil, err
	}
	tel.StartMetricsServer()

	return &runtime{cfg: cfg, env: env, tel: tel}, nil
}
