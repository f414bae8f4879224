package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/camera-gateway/internal/config"
	"github.com/rickgao/camera-gateway/internal/version"
)

var (
	configPath string
	jsonLogs   bool
	debugLogs  bool
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "camerad",
		Short: "Camera streaming gateway",
		Long: `camerad opens camera sessions through the native camera library sidecar,
keeps them connected with exponential backoff, and fans raw and decoded media
out to subscribers. Status transitions and frame metadata can be recorded to
TimescaleDB.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/camerad.local.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit JSON logs")
	root.PersistentFlags().BoolVar(&debugLogs, "debug", false, "enable debug logging")

	root.AddCommand(serveCommand(), validateCommand(), versionCommand())
	return root
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		RunE:  runServe,
	}
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "validate",
		Short:   "Load and validate the config file",
		Example: `  camerad validate -c configs/camerad.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: instance %s, %d sessions, cloud host %s\n",
				cfg.Instance.ID, len(cfg.Sessions), cfg.Cloud.Host())
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(jsonLogs, debugLogs)
	slog.SetDefault(logger)

	logger.Info("starting camerad",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	// Cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("camerad failed", "error", err)
		return err
	}

	logger.Info("camerad stopped")
	return nil
}

func newLogger(json, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
