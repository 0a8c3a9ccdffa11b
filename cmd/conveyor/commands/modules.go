package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openconveyor/conveyor/pkg/modules"
)

func newModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List available automation modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := modules.NewRegistry()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODULE\tCAPABILITIES\tDESCRIPTION")
			for _, m := range registry.List() {
				caps := ""
				for i, c := range m.Capabilities {
					if i > 0 {
						caps += ","
					}
					caps += string(c)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, caps, m.Description)
			}
			return w.Flush()
		},
	}
}
