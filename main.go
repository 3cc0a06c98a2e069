package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oscillate/internal/config"
	"oscillate/internal/server"
	"oscillate/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "oscillate",
		Short:        "Distributed binary oscillator peer",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newCheckCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a peer and join the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadMainConfig(basePath)
			if err != nil {
				return fmt.Errorf("load config failed: %w", err)
			}

			logger, err := utils.NewLogger(cfg.LogPath, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("ready to start peer", zap.String("port", cfg.Port))
			if err := server.StartServer(ctx, cfg, logger); err != nil {
				logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&basePath, "prefix", "", "Config file base path")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var (
		peers    []string
		webPath  string
		interval time.Duration
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Print the state of running peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(peers) == 0 {
				return fmt.Errorf("at least one --peer is required")
			}
			checker := server.NewChecker(peers, webPath)
			if once {
				return checker.CheckOnce(cmd.Context(), cmd.OutOrStdout())
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return checker.Run(ctx, interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "Peer base address, repeatable")
	cmd.Flags().StringVar(&webPath, "web-path", config.DefaultMainConfig().WebPath, "Web path the peers serve under")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval")
	cmd.Flags().BoolVar(&once, "once", false, "Print once and exit")
	return cmd
}
