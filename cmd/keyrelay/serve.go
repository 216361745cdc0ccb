package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"keyrelay/internal/action"
	"keyrelay/internal/broadcast"
	"keyrelay/internal/config"
	"keyrelay/internal/input"
	"keyrelay/internal/input/evdev"
	"keyrelay/internal/input/replay"
	"keyrelay/internal/observability"
	"keyrelay/internal/pipeline"
	"keyrelay/internal/transport/ws"
)

type serveOptions struct {
	replayPath  string
	replayDelay time.Duration
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	var keys map[string]string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read the remote and broadcast actions over WebSocket",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return root.bindFlags(cmd, keys)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, obsCfg, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, obsCfg, logger, opts, cmd.InOrStdin())
		},
	}

	keys = deviceFlags(cmd)
	cmd.Flags().String("listen", "", "Listen address (default "+config.DefaultListenAddr+")")
	cmd.Flags().Duration("threshold", 0, "Long-press threshold (default 350ms)")
	cmd.Flags().StringVar(&opts.replayPath, "replay", "", "Read JSON-line events from a file ('-' for stdin) instead of the device")
	cmd.Flags().DurationVar(&opts.replayDelay, "replay-delay", 0, "Wait before reading the replay so subscribers can connect")
	keys["server.listen_addr"] = "listen"
	keys["action.long_press_threshold"] = "threshold"

	return cmd
}

func runServe(ctx context.Context, cfg config.Config, obsCfg observability.Config, logger *observability.Logger, opts *serveOptions, stdin io.Reader) error {
	src, sourceName, err := openSource(cfg, opts.replayPath, stdin, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	metrics, err := observability.NewMetricsCollector(obsCfg.Metrics, logger.Component("metrics"))
	if err != nil {
		return err
	}
	tracer, err := observability.NewTracerProvider(obsCfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	hub := broadcast.NewHub(
		broadcast.WithSendTimeout(cfg.Server.SendTimeout),
		broadcast.WithRecorder(metrics),
		broadcast.WithLogger(logger.Component("hub")),
	)
	defer hub.Close()

	serverOpts := []ws.ServerOption{ws.WithLogger(logger.Component("ws"))}
	if obsCfg.Metrics.Enabled {
		serverOpts = append(serverOpts, ws.WithMetricsHandler(metrics.Handler()))
	}
	srv := ws.NewServer(ws.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		EnableCORS:   cfg.Server.EnableCORS,
		QueueSize:    cfg.Server.QueueSize,
		WriteTimeout: cfg.Server.WriteTimeout,
		PingInterval: cfg.Server.PingInterval,
		Debug:        obsCfg.Logging.Level == "debug",
	}, hub, serverOpts...)
	if err := srv.Start(); err != nil {
		return err
	}

	machine := action.NewMachine(
		action.WithThreshold(cfg.Action.LongPressThreshold),
		action.WithLogger(logger.Component("machine")),
	)
	p := pipeline.New(src, machine, hub,
		pipeline.WithLogger(logger.Component("pipeline")),
		pipeline.WithMetrics(metrics),
		pipeline.WithInputMetrics(observability.NewInputMetrics()),
		pipeline.WithTracer(tracer),
	)

	logger.Info("keyrelay serving",
		"addr", srv.Addr(),
		"source", sourceName,
		"long_press_threshold", machine.Threshold(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Subscribers must be closed before the server can finish waiting on them.
	stopHub := context.AfterFunc(runCtx, hub.Close)
	defer stopHub()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The source ending stops the whole service.
		defer cancel()
		if opts.replayPath != "" && opts.replayDelay > 0 {
			select {
			case <-time.After(opts.replayDelay):
			case <-gctx.Done():
				return nil
			}
		}
		return p.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		return srv.Close(shutdownCtx)
	})

	err = g.Wait()
	stats := hub.Stats()
	logger.Info("keyrelay stopped",
		"published", stats.Published,
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"connections", stats.TotalConnections,
	)
	return err
}

// openSource returns the replay source when replayPath is set, otherwise the
// configured input device.
func openSource(cfg config.Config, replayPath string, stdin io.Reader, logger *observability.Logger) (input.Source, string, error) {
	switch replayPath {
	case "":
	case "-":
		return replay.NewSource(stdin), "stdin", nil
	default:
		f, err := os.Open(replayPath)
		if err != nil {
			return nil, "", fmt.Errorf("open replay file: %w", err)
		}
		return replay.NewSource(f), replayPath, nil
	}

	dev, err := evdev.Open(evdev.Config{Path: cfg.Device.Path, NameMatch: cfg.Device.NameMatch})
	if err != nil {
		return nil, "", fmt.Errorf("open input device: %w", err)
	}
	info := dev.Info()
	logger.Info("input device opened", "path", info.Path, "name", info.Name)
	return dev, info.Path, nil
}
