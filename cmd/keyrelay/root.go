package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"keyrelay/internal/config"
	"keyrelay/internal/observability"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorText(msg string) string {
	return red("error: " + msg)
}

// isTTY reports whether stdout is an interactive terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	v          *viper.Viper
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "keyrelay",
		Short: "Relay remote-control key presses to WebSocket subscribers",
		Long: `keyrelay reads key events from a USB IR receiver, turns them into taps,
modifier combinations and long presses, and broadcasts each action to every
connected WebSocket client as {"key": "<label>"}.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Config file (default keyrelay.yaml in ., $HOME/.keyrelay or /etc/keyrelay)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text, json")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDevicesCommand(opts))
	cmd.AddCommand(newDumpCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// bindFlags maps config keys onto flags of the running command. Binding
// happens per invocation because several subcommands share a key.
func (o *rootOptions) bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag --%s", name)
		}
		if err := o.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// load reads the service and observability config and builds the logger.
func (o *rootOptions) load() (config.Config, observability.Config, *observability.Logger, error) {
	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return config.Config{}, observability.Config{}, nil, err
	}

	obsCfg, err := observability.LoadConfig(cfg.File)
	if err != nil {
		return config.Config{}, observability.Config{}, nil, err
	}
	if o.logLevel != "" {
		obsCfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		obsCfg.Logging.Format = o.logFormat
	}
	if obsCfg.Tracing.ServiceVersion == "dev" {
		obsCfg.Tracing.ServiceVersion = version
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  obsCfg.Logging.Level,
		Format: obsCfg.Logging.Format,
	})
	if cfg.File != "" {
		logger.Debug("config loaded", "file", cfg.File)
	}
	return cfg, obsCfg, logger, nil
}

// deviceFlags registers the flags shared by every command that opens the device.
func deviceFlags(cmd *cobra.Command) map[string]string {
	cmd.Flags().String("device", "", "Input device path (default "+config.DefaultDevicePath+")")
	cmd.Flags().String("name-match", "", "Device name substring used when the path is missing")
	return map[string]string{
		"device.path":       "device",
		"device.name_match": "name-match",
	}
}
