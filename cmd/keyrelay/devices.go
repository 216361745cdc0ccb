package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"keyrelay/internal/input/evdev"
)

func newDevicesCommand(root *rootOptions) *cobra.Command {
	var keys map[string]string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List input devices and mark the ones keyrelay would pick",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return root.bindFlags(cmd, keys)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := root.load()
			if err != nil {
				return err
			}
			devices, err := evdev.List()
			if err != nil {
				return fmt.Errorf("list input devices: %w", err)
			}
			printDevices(cmd.OutOrStdout(), devices, cfg.Device.NameMatch)
			return nil
		},
	}
	keys = deviceFlags(cmd)
	return cmd
}

func printDevices(w io.Writer, devices []evdev.DeviceInfo, match string) {
	if len(devices) == 0 {
		fmt.Fprintln(w, yellow("no input devices found (is the user in the input group?)"))
		return
	}
	for _, d := range devices {
		if d.Matches(match) {
			fmt.Fprintf(w, "%s %-28s %s\n", green("*"), d.Path, bold(d.Name))
			continue
		}
		fmt.Fprintf(w, "  %-28s %s\n", d.Path, gray(d.Name))
	}
}
