// Package main はドキュメントジョブワーカーのエントリーポイントです。
package main

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

// newRootCommand はサブコマンドを束ねたルートコマンドを作成します。
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "docworker",
		Short:         "Document job worker for pdf and docx processing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()
		},
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newSubmitCommand())
	cmd.AddCommand(newCompleteCommand())

	flags := cmd.PersistentFlags()
	flags.StringP("loglevel", "l", "", "Logging level, possible values {debug, info, warn, error}; overrides LOG_LEVEL")
	_ = viper.BindPFlag("log-level", flags.Lookup("loglevel"))

	return cmd
}
