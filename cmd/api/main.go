package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"studio/internal/adapter/repo"
	"studio/internal/http/handlers"
	"studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/pipeline"
	"studio/internal/providers/genai"
	"studio/internal/providers/removebg"
	"studio/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		recorder pipeline.RunRecorder
		statuses handlers.RunStatusSource
	)
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: db connection failed")
		}
		defer pool.Close()
		runRepo := repo.NewRunRepository(pool)
		recorder = runRepo
		statuses = runRepo
	} else {
		logger.Warn().Msg("api: DATABASE_URL not set, run persistence disabled")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}
	gemini := genai.NewClient(genai.Options{
		BaseURL:    cfg.GeminiBaseURL,
		ImageModel: cfg.GeminiImageModel,
		TextModel:  cfg.GeminiTextModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	remover := removebg.NewClient(removebg.Options{
		BaseURL: cfg.RemoveBgBaseURL,
		Logger:  &logger,
	})

	orchestrator := pipeline.New(pipeline.Options{
		Generator: gemini,
		Analyzer:  gemini,
		Remover:   remover,
		Copy:      gemini,
		Recorder:  recorder,
		Logger:    &logger,
	})

	app := handlers.NewApp(orchestrator, files, statuses, logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api: shutdown failed")
		}
	}()

	logger.Info().Str("port", cfg.Port).Msg("api: listening")
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("api: server stopped with error")
	}
	logger.Info().Msg("api: stopped")
}
