package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heartrisk/db"
	qhttp "heartrisk/http"
	"heartrisk/logging"
	"heartrisk/monitoring"
	"heartrisk/prediction"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prediction API",
	Long: `Load the model artifacts, open the history database and serve the HTTP API.

The server refuses to start when the artifacts cannot be loaded. With
ml.watch_artifacts enabled, rewriting any artifact file triggers a reload;
a failed reload keeps the previous model serving.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := prediction.NewArtifactStoreFromDir(cfg.ML.ArtifactDir, logger.Named("artifacts"))
	if err := store.Load(); err != nil {
		logger.Fatal("failed to load model artifacts",
			zap.String("dir", cfg.ML.ArtifactDir), zap.Error(err))
	}

	feed := monitoring.NewPredictionFeed(logger.Named("feed"))
	go feed.Run()
	defer feed.Stop()

	metrics := monitoring.NewMetrics(feed.ClientCount)
	metrics.SetGeneration(store.Generation())

	service, err := prediction.NewService(store,
		prediction.WithLogger(logger.Named("prediction")),
		prediction.WithRecorder(metrics),
		prediction.WithCacheSize(cfg.ML.CacheSize))
	if err != nil {
		return err
	}

	if cfg.ML.WatchArtifacts {
		watcher, err := prediction.NewWatcher(cfg.ML.ArtifactDir, store, logger.Named("watcher"),
			func(generation uint64, err error) {
				metrics.ObserveReload(generation, err)
				feed.PublishReload(generation, err)
			})
		if err != nil {
			return err
		}
		if cfg.ML.ReloadDebounce > 0 {
			watcher.SetDebounce(cfg.ML.ReloadDebounce)
		}
		defer watcher.Stop()
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	history, err := db.Open(ctx, cfg.DB())
	if err != nil {
		logger.Fatal("failed to open history database",
			zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer history.Close()

	api, err := qhttp.NewAPI(qhttp.Deps{
		Service: service,
		History: history,
		Feed:    feed,
		Metrics: metrics,
		Logger:  logger.Named("http"),
	})
	if err != nil {
		return err
	}
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, api, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := server.Stop(context.Background()); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	return nil
}
