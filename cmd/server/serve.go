package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sle-predictor-server/internal/api"
	"github.com/sle-predictor-server/internal/cache"
	"github.com/sle-predictor-server/internal/database"
	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/internal/history"
	"github.com/sle-predictor-server/internal/render"
	"github.com/sle-predictor-server/internal/service"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.config.GetConfig()
	log := a.logger

	log.WithFields(logrus.Fields{
		"environment":   cfg.Environment,
		"host":          cfg.Server.Host,
		"port":          cfg.Server.Port,
		"history":       cfg.Database.Driver,
		"cache":         cfg.Cache.Backend,
		"model_version": cfg.Model.Version,
	}).Info("Starting SLE predictor server")

	store, err := history.Open(cfg.Database, a.config.GetDatabaseConnectionString())
	if err != nil {
		return err
	}
	defer store.Close()

	deps := api.Dependencies{
		Renderer: render.NewPDFRenderer("SLE Predictor"),
		Logger:   log,
	}

	if cfg.Database.Driver == "postgres" {
		db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), log)
		if err != nil {
			return err
		}
		defer db.Close()

		if ok, err := db.HasPredictionsTable(ctx); err != nil {
			log.WithError(err).Warn("Could not check for predictions table")
		} else if !ok {
			log.Warn("Predictions table is missing, run `sle-predictor migrate up`")
		}
		deps.Database = db
	}

	resultCache, err := cache.New(cfg.Cache, log)
	if err != nil {
		return err
	}
	defer resultCache.Close()

	scorer := service.NewRiskScorer(newModel(cfg.Model), cfg.Model.Breaker, log)
	deps.Predictor = service.NewPredictionService(scorer, store, resultCache, cfg.Model, log)

	a.config.Watch(func(updated *domain.Config, err error) {
		if err != nil {
			log.WithError(err).Error("Failed to reload configuration")
			return
		}
		if err := applyLogging(log, updated.Logging); err != nil {
			log.WithError(err).Error("Ignoring invalid logging configuration")
			return
		}
		log.WithField("level", updated.Logging.Level).Info("Configuration reloaded")
	})

	server := api.NewServer(a.config, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		// Warm the model so the first request does not pay the load delay. A
		// failure here is retried by the next prediction.
		if err := scorer.Load(gctx); err != nil {
			log.WithError(err).Warn("Model warm-up failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

func newModel(cfg domain.ModelConfig) service.Model {
	var noise service.NoiseSource = service.ZeroNoise{}
	if cfg.NoiseEnabled {
		noise = service.NewRandomNoise(cfg.Seed)
	}
	return service.NewHeuristicModel(noise, cfg.Version, cfg.LoadDelay)
}
