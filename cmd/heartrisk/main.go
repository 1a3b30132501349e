// Package main implements the heartrisk CLI: the API server, the trainer and
// one-off predictions.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heartrisk/config"
	"heartrisk/logging"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "heartrisk",
	Short: "Heart disease risk prediction with per-feature explanations",
	Long: `heartrisk trains a random forest on tabular patient records, serves
predictions with TreeSHAP explanations and lifestyle recommendations over
HTTP, and keeps a per-user prediction history.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(predictCmd)
}

// setup loads configuration and the logger shared by every subcommand.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
