package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconveyor/conveyor/pkg/dispatch"
	"github.com/openconveyor/conveyor/pkg/modules"
	"github.com/openconveyor/conveyor/pkg/policy"
	"github.com/openconveyor/conveyor/pkg/stores"
)

func newRunCommand(version string) *cobra.Command {
	var (
		params     []string
		timeout    time.Duration
		maxRetries int
		retryDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <module>",
		Short: "Run an automation module",
		Example: `  # Echo parameters back
  conveyor run demo.echo --param message=hello

  # Fetch a URL with retries in the staging environment
  conveyor run http.fetch --param url=https://example.com --retries 3 --env staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(version)
			if err != nil {
				return err
			}
			defer rt.tel.Shutdown(context.Background())

			registry := modules.NewRegistry()
			mod, ok := registry.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown module %q", args[0])
			}

			gate, err := buildGate(cmd.Context(), rt)
			if err != nil {
				return err
			}

			opts := dispatch.Options{
				Environment:    rt.env,
				Gate:           gate,
				DefaultTimeout: rt.cfg.Dispatch.DefaultTimeout.Std(),
				Telemetry:      rt.tel,
			}

			if rt.cfg.Store.Path != "" {
				store, err := openStore(cmd.Context(), rt.cfg.Store.Path)
				if err != nil {
					return err
				}
				defer store.Close()
				opts.Recorder = store
			}

			d := dispatch.NewDispatcher(opts)

			req, err := registry.Request(mod.ID, parseParams(params))
			if err != nil {
				return err
			}
			req.Timeout = timeout

			// The config budget applies only when the flag was not given,
			// so --retries 0 forces a single attempt.
			if !cmd.Flags().Changed("retries") {
				maxRetries = rt.cfg.Dispatch.MaxRetries
			}
			if !cmd.Flags().Changed("retry-delay") {
				retryDelay = rt.cfg.Dispatch.RetryDelay.Std()
			}

			res := d.ExecuteWithRetry(cmd.Context(), mod.Fn, req, maxRetries, retryDelay)

			out := res.ToPublicDict()
			if verbose {
				out = res.ToInternalDict()
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}

			if !res.OK {
				return fmt.Errorf("execution failed: %s (%s)", res.Error, res.ErrorCode)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&params, "param", "p", nil, "module parameters (key=value)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution timeout (default from config)")
	cmd.Flags().IntVar(&maxRetries, "retries", 0, "transient-failure retry budget")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 0, "initial retry backoff delay")

	return cmd
}

// buildGate compiles the builtin capability policy plus any configured
// override policies, optionally watching them for changes.
func buildGate(ctx context.Context, rt *runtime) (dispatch.Gate, error) {
	gate, err := policy.NewRegoGate(rt.tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}

	if len(rt.cfg.Policy.Paths) > 0 {
		loader := policy.NewLoader(rt.tel.Logger.Zerolog())
		overrides, err := loader.LoadFromPaths(rt.cfg.Policy.Paths)
		if err != nil {
			return nil, err
		}
		if err := gate.LoadPolicies(ctx, overrides); err != nil {
			return nil, err
		}
		if rt.cfg.Policy.Watch {
			go func() {
				if err := loader.Watch(ctx, gate, rt.cfg.Policy.Paths); err != nil {
					rt.tel.Logger.WithError(err).Warn("policy watcher stopped")
				}
			}()
		}
	}

	return gate, nil
}

// openStore opens and migrates the execution history store.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// parseParams turns key=value pairs into a parameter map.
func parseParams(pairs []string) map[string]any {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			params[pair] = ""
			continue
		}
		params[key] = value
	}
	return params
}
