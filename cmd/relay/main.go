package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/infra"
	"studio/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	server, err := relay.NewServer(relay.Options{Config: cfg, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: invalid configuration")
	}

	httpServer := infra.NewHTTPServer(cfg, server.Handler())

	go func() {
		logger.Info().Msgf("relay listening on :%s", cfg.Port)
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("relay stopped")
}
