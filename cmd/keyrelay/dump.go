package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keyrelay/internal/input"
	"keyrelay/internal/input/evdev"
	"keyrelay/internal/input/replay"
)

func newDumpCommand(root *rootOptions) *cobra.Command {
	var keys map[string]string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print raw key events as JSON lines",
		Long: `dump prints every raw key event from the device as one JSON object per
line. The output can be fed back with "keyrelay serve --replay".`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return root.bindFlags(cmd, keys)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, logger, err := root.load()
			if err != nil {
				return err
			}
			dev, err := evdev.Open(evdev.Config{Path: cfg.Device.Path, NameMatch: cfg.Device.NameMatch})
			if err != nil {
				return fmt.Errorf("open input device: %w", err)
			}
			defer dev.Close()
			info := dev.Info()
			logger.Info("dumping raw events", "path", info.Path, "name", info.Name)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return dumpEvents(ctx, dev, cmd.OutOrStdout())
		},
	}
	keys = deviceFlags(cmd)
	return cmd
}

// dumpEvents copies src to w until the source ends or ctx is cancelled.
func dumpEvents(ctx context.Context, src input.Source, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	enc := replay.NewEncoder(w)
	for {
		ev, err := src.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
}
