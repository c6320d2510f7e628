package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/neko-client/internal/config"
	"github.com/suPer8Hu/neko-client/internal/devbackend"
	"github.com/suPer8Hu/neko-client/internal/logging"
	"github.com/suPer8Hu/neko-client/internal/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Setup(cfg.LogLevel, os.Stderr)
	gin.SetMode(gin.ReleaseMode)

	db, err := sqlstore.Open(cfg.DevDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("dsn", cfg.DevDSN).Msg("open database")
	}

	responders := devbackend.DefaultResponders(devbackend.ProviderConfig{
		ChunkDelay:        cfg.DevChunkDelay,
		OllamaURL:         cfg.OllamaBaseURL,
		OllamaModel:       cfg.OllamaModel,
		OpenRouterURL:     cfg.OpenRouterBaseURL,
		OpenRouterKey:     cfg.OpenRouterAPIKey,
		OpenRouterModel:   cfg.OpenRouterModel,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	srv, err := devbackend.New(db, devbackend.Config{
		JWTSecret:     cfg.JWTSecret,
		ContextWindow: cfg.DevContextWindow,
		AllowOrigins:  cfg.DevCORSOrigins,
	}, responders, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	httpSrv := &http.Server{
		Addr:              cfg.DevAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.DevAddr).Msg("devbackend listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
