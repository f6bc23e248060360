package main

import (
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/unkn0wn-root/pagequery/internal/config"
)

type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pagequery",
		Short: "Paginated query cache playground",
		Long: `pagequery drives a paginated table or an infinite scroll list against an
in-memory user directory, through the same cache, debounce and invalidation
machinery an application would use.

Examples:
  pagequery table --page 2 --sort name
  pagequery scroll --search user1 --pages 3
  pagequery table --config pagequery.yaml --invalidate`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML configuration file (defaults are used when empty)")

	cmd.AddCommand(newTableCommand(opts))
	cmd.AddCommand(newScrollCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	return cmd
}

func newConfigCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
