package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newValidateRegistryCmd(_ *deps, global *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate-registry",
		Short: "Load and validate the classification table",
		Long: `Load the classification table and check it for duplicate names or
gidNumbers, inverted level ranges and a single fallback entry. Overlapping
ranges are allowed; the first matching entry in table order wins.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs, err := loadSpecs(global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("classification-file") {
				specs.ClassificationFile = file
			}

			registry, err := loadRegistry(specs.ClassificationFile)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tGID\tLEVELS\tLABEL\tFALLBACK")
			for _, def := range registry.All() {
				fallback := ""
				if def.Fallback {
					fallback = "yes"
				}
				fmt.Fprintf(w, "%s\t%d\t%d-%d\t%s\t%s\n", def.Name, def.GIDNumber, def.LevelMin, def.LevelMax, def.Label, fallback)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&file, "classification-file", "", "YAML classification table (default built-in)")

	return cmd
}
