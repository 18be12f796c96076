package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/api"
	"listing-ocr/internal/listing_ocr/helper"
	"listing-ocr/internal/listing_ocr/scheduler"
	"listing-ocr/internal/middleware/logger"
	"listing-ocr/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	once := flag.Bool("once", false, "run a single reconciliation and exit, ignoring schedule.enabled")
	flag.Parse()

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting Listing OCR Service...",
		zap.String("source", cfg.Source.Kind),
		zap.String("ocr", cfg.OCR.Kind),
		zap.String("store", cfg.Store.Path),
	)

	proc, cleanup, err := buildProcessor(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build pipeline", zap.Error(err))
		return err
	}
	defer cleanup()

	if cfg.API.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           (&api.Server{ArtifactPath: cfg.Store.Path, Log: log}).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("Listing API is running", zap.String("address", cfg.API.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("API server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if once || !cfg.Schedule.Enabled {
		sum, err := proc.Run(ctx)
		if err != nil {
			log.Error("Run failed", zap.String("run_id", sum.RunID), zap.Error(err))
			return err
		}
		return nil
	}

	loc, err := helper.ConfigureTimeLocation(cfg.Schedule.TimeZone)
	if err != nil {
		log.Warn("Unknown time zone, using UTC", zap.String("timeZone", cfg.Schedule.TimeZone), zap.Error(err))
	}
	worker := &scheduler.Worker{
		Log:      log,
		Runner:   proc,
		Every:    cfg.Schedule.Every,
		Location: loc,
	}
	worker.Run(ctx)
	return nil
}
