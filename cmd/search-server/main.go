package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gbif-nl-search/internal/common/config"
	"gbif-nl-search/internal/common/logger"
	"gbif-nl-search/internal/common/observability"
	"gbif-nl-search/internal/executor"
	"gbif-nl-search/internal/pipeline"
	"gbif-nl-search/internal/resolver"
	"gbif-nl-search/internal/server"
	"gbif-nl-search/internal/translator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zl, _ := zap.NewProduction()
		zl.Fatal("failed to load configuration", zap.Error(err))
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := logger.NewZapAdapter(zapLogger)

	log.Info("starting search server", map[string]interface{}{
		"app":         cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	trans := translator.New(translator.Config{
		BaseURL:    cfg.OpenAI.BaseURL,
		APIKey:     cfg.OpenAI.APIKey,
		Model:      cfg.OpenAI.Model,
		Timeout:    config.GetDuration(cfg.OpenAI.Timeout),
		MaxRetries: cfg.OpenAI.MaxRetries,
	}, log.With(map[string]interface{}{"component": "translator"}))

	res := resolver.New(resolver.Config{
		BaseURL:    cfg.GBIF.BaseURL,
		Timeout:    config.GetDuration(cfg.GBIF.Timeout),
		MaxRetries: cfg.GBIF.MaxRetries,
	}, log.With(map[string]interface{}{"component": "resolver"}))

	exec := executor.New(executor.Config{
		BaseURL:    cfg.GBIF.BaseURL,
		Timeout:    config.GetDuration(cfg.GBIF.Timeout),
		MaxRetries: cfg.GBIF.MaxRetries,
	}, log.With(map[string]interface{}{"component": "executor"}))

	pipe := pipeline.New(trans, res, log.With(map[string]interface{}{"component": "pipeline"}), cfg.Search.InstitutionKey)

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: config.GetDuration(cfg.Server.ReadHeaderTimeout),
	}, pipe, exec, log.With(map[string]interface{}{"component": "server"}), obs)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", map[string]interface{}{
			"signal": sig.String(),
		})
	case err := <-errCh:
		log.Error("http server failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("search server stopped", nil)
}
