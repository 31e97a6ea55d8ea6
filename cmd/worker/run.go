package main

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yourusername/paper-forge-worker/internal/config"
	"github.com/yourusername/paper-forge-worker/internal/logging"
)

// newRunCommand はワーカーとヘルスチェックサーバーを起動するコマンドを作成します。
func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Subscribe to the job channel and process jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if level := viper.GetString("log-level"); level != "" {
				cfg.LogLevel = level
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := buildWorker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer w.close()

			logger.WithFields(logrus.Fields{
				"jobChannel":      cfg.JobChannel,
				"responseChannel": cfg.ResponseChannel,
				"preprocessMode":  cfg.PreprocessMode,
			}).Info("worker started")
			return w.run(ctx)
		},
	}
}
