package main

import (
	"github.com/spf13/cobra"
	"github.com/troy12x/si-copilot/internal/config"
)

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	settingsFile string
	verbose      bool
}

func (o *rootOptions) loadSettings() (*config.Config, error) {
	return config.Load(o.settingsFile)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "dsgen",
		Short:         "Generate synthetic LLM training datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.settingsFile, "settings", "", "Settings file with provider keys and batch tuning")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log batch activity to stderr")

	rootCmd.AddCommand(newGenerateCommand(opts))
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newDoctorCommand(opts))

	return rootCmd
}
