package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/podlink/internal/config"
	"github.com/genricoloni/podlink/internal/events"
	"github.com/genricoloni/podlink/internal/link"
	"github.com/genricoloni/podlink/internal/logging"
	"github.com/genricoloni/podlink/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type runOptions struct {
	configPath string
	tui        bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts runOptions

	root := &cobra.Command{
		Use:           "podlink",
		Short:         "Mirror the desktop's now-playing session to an iPod-style BLE display",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.toml")

	run := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}
	run.Flags().BoolVar(&opts.tui, "tui", false, "show the terminal now-playing view")

	scan := &cobra.Command{
		Use:   "scan",
		Short: "Look for the peripheral once and report whether it was found",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "podlink %s\n", version)
		},
	}

	root.AddCommand(run, scan, versionCmd)
	return root
}

func runDaemon(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	var console io.Writer = os.Stderr
	if opts.tui {
		// The view owns the terminal; logs go to the file only
		console = nil
	}
	logger, err := logging.New(cfg.Log, logging.Options{Console: console})
	if err != nil {
		return err
	}
	defer logger.Sync()

	var hub *events.Hub
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Supply(cfg, logger),
		AppOptions,
		fx.Populate(&hub),
	)
	if err := app.Err(); err != nil {
		return err
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	logger.Info("podlink started",
		zap.String("version", version),
		zap.String("device", cfg.Device.Name),
		zap.String("config", cfg.FilePath))

	if opts.tui {
		id, ch := hub.Subscribe()
		if err := ui.Run(ctx, ch, ui.DefaultTheme(os.Getenv("NO_COLOR") != "")); err != nil {
			logger.Warn("Terminal view stopped", zap.Error(err))
		}
		hub.Unsubscribe(id)
	} else {
		<-ctx.Done()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	return app.Stop(stopCtx)
}

func runScan(ctx context.Context, out io.Writer, opts runOptions) error {
	cfg, err := config.Read(opts.configPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	logger, err := logging.New(cfg.Log, logging.Options{Console: os.Stderr})
	if err != nil {
		return err
	}
	defer logger.Sync()

	transport := link.NewBluezTransport(logger, link.BluezOptions{
		Adapter:            cfg.Device.Adapter,
		CharacteristicUUID: cfg.Device.CharacteristicUUID,
	})
	defer transport.Close()

	fmt.Fprintf(out, "Scanning for %s (%s)...\n", cfg.Device.Name, cfg.Timing.ScanTimeout.Duration)
	return scanOnce(ctx, out, transport, cfg.Device.Name, cfg.Timing.ScanTimeout.Duration)
}

type scanner interface {
	Scan(ctx context.Context, name string) (address string, found bool, err error)
}

func scanOnce(ctx context.Context, out io.Writer, s scanner, name string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address, found, err := s.Scan(ctx, name)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if !found {
		fmt.Fprintf(out, "%s not found\n", name)
		return nil
	}
	fmt.Fprintf(out, "Found %s at %s\n", name, address)
	return nil
}
