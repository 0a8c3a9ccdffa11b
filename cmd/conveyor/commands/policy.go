package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openconveyor/conveyor/pkg/policy"
)

func newPolicyCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test capability policy",
	}
	cmd.AddCommand(newPolicyListCommand(version))
	cmd.AddCommand(newPolicyCheckCommand(version))
	return cmd
}

func newPolicyListCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded capability policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(version)
			if err != nil {
				return err
			}
			defer rt.tel.Shutdown(context.Background())

			gate, err := buildGate(cmd.Context(), rt)
			if err != nil {
				return err
			}
			rg, ok := gate.(*policy.RegoGate)
			if !ok {
				return fmt.Errorf("gate does not expose policies")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSOURCE\tENABLED")
			for _, p := range rg.ListPolicies() {
				fmt.Fprintf(w, "%s\t%s\t%t\n", p.Name, p.Source, p.Enabled)
			}
			return w.Flush()
		},
	}
}

func newPolicyCheckCommand(version string) *cobra.Command {
	var caps []string

	cmd := &cobra.Command{
		Use:   "check <module>",
		Short: "Evaluate the capability gate for a module",
		Example: `  # Would shell.exec be allowed in production?
  conveyor policy check shell.run --cap shell.exec --env production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(version)
			if err != nil {
				return err
			}
			defer rt.tel.Shutdown(context.Background())

			gate, err := buildGate(cmd.Context(), rt)
			if err != nil {
				return err
			}

			capabilities := make([]policy.Capability, len(caps))
			for i, c := range caps {
				capabilities[i] = policy.Capability(c)
			}

			denial := gate.Check(cmd.Context(), capabilities, args[0], rt.env)
			if denial == nil {
				fmt.Printf("allowed: %s may use %v in %s\n", args[0], caps, rt.env)
				return nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(denial.ToPublicDict()); err != nil {
				return err
			}
			return fmt.Errorf("denied")
		},
	}

	cmd.Flags().StringSliceVar(&caps, "cap", nil, "capability the module would use (repeatable)")
	return cmd
}
