package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"ecodispose/client/internal/config"
	"ecodispose/client/internal/logging"
	"ecodispose/client/internal/twin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, closer, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := twin.NewState(0)
	if cfg.TwinSeedFile != "" {
		if err := twin.LoadSeedFile(state, cfg.TwinSeedFile); err != nil {
			logger.Fatalf("seed failed: %v", err)
		}
	}
	server := twin.NewServer(twin.Config{Secret: cfg.TwinSecret}, state, logger)

	httpServer := &http.Server{
		Addr:              cfg.TwinAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("api twin listening on %s", cfg.TwinAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown error: %v", err)
	}
}
