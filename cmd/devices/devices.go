package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/capture/v4l2"
	"github.com/tphakala/camerad/internal/conf"
)

// Command lists the capture devices in the form accepted by POST /cameras.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enumerator := v4l2.NewEnumerator(settings.Capture.DevRoot, settings.Capture.SysfsRoot)
			list, err := enumerator.Devices(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list capture devices: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				_, err = fmt.Fprintln(out, "No capture devices found")
				return err
			}
			for _, d := range list {
				if _, err := fmt.Fprintln(out, camera.UniqueDeviceName(d)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
