package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"heartrisk/logging"
	"heartrisk/prediction"
)

var (
	predictArtifacts string
	predictInput     string
)

func init() {
	predictCmd.Flags().StringVar(&predictArtifacts, "artifacts", "", "artifact directory (defaults to ml.artifact_dir)")
	predictCmd.Flags().StringVar(&predictInput, "input", "-", "JSON patient record, - for stdin")
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict and explain a single patient record",
	Long: `Read one patient record as a JSON object and print the prediction,
risk category, explanations and recommendations.

Examples:
  heartrisk predict --input record.json
  echo '{"age": 63, "chol": 233}' | heartrisk predict`,
	RunE: runPredict,
}

func runPredict(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)
	// keep stdout for the result
	logger = logger.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))

	dir := cfg.ML.ArtifactDir
	if cmd.Flags().Changed("artifacts") {
		dir = predictArtifacts
	}
	store := prediction.NewArtifactStoreFromDir(dir, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load artifacts from %s: %w", dir, err)
	}
	service, err := prediction.NewService(store, prediction.WithLogger(logger), prediction.WithCacheSize(0))
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if predictInput != "-" {
		f, err := os.Open(predictInput)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	dec := json.NewDecoder(in)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", prediction.ErrInvalidAttribute, err)
	}
	record, err := prediction.ParseAttributes(raw)
	if err != nil {
		return err
	}

	result, err := service.Predict(record)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
