package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/tphakala/camerad/cmd/config"
	"github.com/tphakala/camerad/cmd/devices"
	"github.com/tphakala/camerad/cmd/serve"
	"github.com/tphakala/camerad/cmd/version"
	"github.com/tphakala/camerad/internal/buildinfo"
	"github.com/tphakala/camerad/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	v := conf.NewViper()
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "camerad",
		Short:         "Camera capture daemon",
		Long:          "camerad opens V4L2 cameras and exposes preview, recording, pictures and the frame stream over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/camerad, /etc/camerad)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding flags: %v", err))
	}

	versionCmd := version.Command(build)

	rootCmd.AddCommand(
		serve.Command(v, settings, build),
		devices.Command(settings),
		configcmd.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip config loading for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return loadSettings(v, configFile, settings)
	}

	return rootCmd
}

// loadSettings reads configuration into settings. Flags bound to v take
// precedence over the file and environment.
func loadSettings(v *viper.Viper, configFile string, settings *conf.Settings) error {
	loaded, err := conf.Load(v, configFile)
	if err != nil {
		return err
	}
	*settings = *loaded
	return nil
}
