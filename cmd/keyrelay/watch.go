package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"keyrelay/internal/transport/ws"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [addr]",
		Short: "Connect to a running server and print the actions it broadcasts",
		Long: `watch subscribes to a keyrelay server and prints one label per line.
addr is a ws:// URL or host:port; it defaults to the configured listen address.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := root.load()
			if err != nil {
				return err
			}
			addr := dialAddr(cfg.Server.ListenAddr)
			if len(args) == 1 {
				addr = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := ws.Dial(ctx, addr)
			if err != nil {
				return err
			}
			defer client.Close()
			logger.Info("watching", "addr", addr)

			closeOnCancel := context.AfterFunc(ctx, func() { _ = client.Close() })
			defer closeOnCancel()

			pretty := isTTY()
			out := cmd.OutOrStdout()
			for {
				msg, err := client.Next()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("connection closed: %w", err)
				}
				printLabel(out, msg.Key, pretty, time.Now())
			}
		},
	}
	return cmd
}

// dialAddr turns a listen address into one a client can reach.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// printLabel writes the bare label when piped, or a timestamped coloured line
// on a terminal.
func printLabel(w io.Writer, label string, pretty bool, at time.Time) {
	if !pretty {
		fmt.Fprintln(w, label)
		return
	}
	var styled string
	switch {
	case strings.HasSuffix(label, "_DOWN"):
		styled = yellow(label)
	case strings.HasSuffix(label, "_UP"):
		styled = gray(label)
	case strings.Contains(label, "+"):
		styled = cyan(label)
	default:
		styled = green(label)
	}
	fmt.Fprintf(w, "%s  %s\n", gray(at.Format("15:04:05.000")), styled)
}
