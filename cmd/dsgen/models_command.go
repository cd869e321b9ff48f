package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/troy12x/si-copilot/internal/economics"
)

func newModelsCommand() *cobra.Command {
	var providerFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog with prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			list := economics.ModelsFor(providerFlag)
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no models for provider %q\n", providerFlag)
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, m := range list {
				rows = append(rows, []string{
					m.Provider,
					m.ID,
					m.Name,
					fmt.Sprintf("%.2f", m.Pricing.InputPrice),
					fmt.Sprintf("%.2f", m.Pricing.OutputPrice),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Provider", "Model", "Name", "Input $/1M", "Output $/1M"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&providerFlag, "provider", "", "Only list models of this provider")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the catalog as JSON")
	return cmd
}
