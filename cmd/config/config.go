package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/camerad/internal/conf"
)

// Command prints the effective configuration as YAML: defaults overlaid with
// the config file, environment and flags.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := conf.RenderYAML(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
