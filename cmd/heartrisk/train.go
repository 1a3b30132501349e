package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heartrisk/db"
	"heartrisk/logging"
	"heartrisk/ml"
)

var (
	trainData      string
	trainOut       string
	trainTarget    string
	trainTrees     int
	trainMaxDepth  int
	trainSeed      int64
	trainTestRatio float64
	trainRecord    bool
	trainDropDups  bool
	trainStrict    bool
)

const maxLoggedIssues = 20

func init() {
	trainCmd.Flags().StringVar(&trainData, "data", "", "training CSV (defaults to ml.training.data_path)")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "artifact directory (defaults to ml.artifact_dir)")
	trainCmd.Flags().StringVar(&trainTarget, "target", ml.DefaultTarget, "label column")
	trainCmd.Flags().IntVar(&trainTrees, "trees", 0, "number of trees (defaults to ml.training.trees)")
	trainCmd.Flags().IntVar(&trainMaxDepth, "max-depth", 0, "maximum tree depth, 0 for unlimited")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "random seed (defaults to ml.training.seed)")
	trainCmd.Flags().Float64Var(&trainTestRatio, "test-ratio", 0, "held-out fraction (defaults to ml.training.test_ratio)")
	trainCmd.Flags().BoolVar(&trainRecord, "record", true, "append the run to the training_log table")
	trainCmd.Flags().BoolVar(&trainDropDups, "drop-duplicates", false, "remove repeated rows before splitting")
	trainCmd.Flags().BoolVar(&trainStrict, "strict", false, "refuse to train when high severity data issues are found")
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the pipeline and write the model artifacts",
	Long: `Train a standard scaler and random forest on a CSV of patient records and
write the pipeline, the column list and the TreeSHAP explainer.

Examples:
  # Train with the config defaults
  heartrisk train

  # Train 200 trees into a scratch directory
  heartrisk train --data Data/Heartdata.csv --out /tmp/models --trees 200`,
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	training := cfg.ML.Training
	flags := cmd.Flags()
	if flags.Changed("data") {
		training.DataPath = trainData
	}
	if flags.Changed("trees") {
		training.Trees = trainTrees
	}
	if flags.Changed("max-depth") {
		training.MaxDepth = trainMaxDepth
	}
	if flags.Changed("seed") {
		training.Seed = trainSeed
	}
	if flags.Changed("test-ratio") {
		training.TestRatio = trainTestRatio
	}
	outDir := cfg.ML.ArtifactDir
	if flags.Changed("out") {
		outDir = trainOut
	}

	ds, err := ml.LoadDatasetFile(training.DataPath, trainTarget)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded",
		zap.String("path", training.DataPath),
		zap.Int("rows", len(ds.Features)),
		zap.Int("columns", len(ds.Columns)))

	report := ml.NewDataCleaner().Inspect(ds)
	for i, issue := range report.Issues {
		if i == maxLoggedIssues {
			logger.Warn("further data issues omitted", zap.Int("remaining", len(report.Issues)-i))
			break
		}
		logger.Warn("data issue",
			zap.String("rule", issue.Rule),
			zap.String("severity", issue.Severity),
			zap.Int("row", issue.Row),
			zap.String("column", issue.Column),
			zap.String("message", issue.Message))
	}
	if trainStrict && report.HasSeverity(ml.SeverityHigh) {
		return fmt.Errorf("dataset has high severity issues: %v", report.Counts)
	}
	if trainDropDups {
		var removed int
		ds, removed = ml.DropDuplicates(ds)
		logger.Info("duplicate rows removed", zap.Int("removed", removed))
	}

	opts := ml.DefaultTrainOptions()
	opts.TestRatio = training.TestRatio
	if training.Trees > 0 {
		opts.Forest.NEstimators = training.Trees
	}
	opts.Forest.MaxDepth = training.MaxDepth
	opts.Forest.Seed = training.Seed

	start := time.Now()
	result, err := ml.TrainPipeline(ds, opts)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	eval := result.Evaluation
	logger.Info("training finished",
		zap.Int("train_rows", result.TrainSize),
		zap.Int("test_rows", result.TestSize),
		zap.Float64("accuracy", eval.Accuracy),
		zap.Float64("precision", eval.Precision),
		zap.Float64("recall", eval.Recall),
		zap.Duration("elapsed", time.Since(start)))

	if err := ml.SaveArtifacts(outDir, result.Pipeline, result.Columns, result.Explainer); err != nil {
		return fmt.Errorf("save artifacts: %w", err)
	}

	if trainRecord {
		history, err := db.Open(cmd.Context(), cfg.DB())
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer history.Close()
		err = history.SaveTrainingLog(cmd.Context(), db.TrainingLog{
			ModelName:  ml.ModelTypeRandomForest,
			Accuracy:   eval.Accuracy,
			Precision:  eval.Precision,
			Recall:     eval.Recall,
			TrainedAt:  time.Now(),
			DataPoints: len(ds.Features),
		})
		if err != nil {
			return fmt.Errorf("record training run: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "accuracy=%.3f precision=%.3f recall=%.3f\nartifacts saved to %s\n",
		eval.Accuracy, eval.Precision, eval.Recall, outDir)
	return nil
}
