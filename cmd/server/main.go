package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/mafia-session/internal/config"
	"github.com/DoyleJ11/mafia-session/internal/httpapi"
	"github.com/DoyleJ11/mafia-session/internal/hub"
	"github.com/DoyleJ11/mafia-session/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, hub.WithLogger(logger))

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr:              cfg.DiscoveryListenAddr,
		Handler:           httpapi.SetupRoutes(h, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("discovery server listening", zap.String("addr", cfg.DiscoveryListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Close()
		logger.Info("discovery server stopped")
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("discovery server failed", zap.Error(err))
	}
}
