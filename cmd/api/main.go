package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-conformity-go/internal/app"
	"voice-conformity-go/internal/config"
	"voice-conformity-go/internal/httpapi"
	"voice-conformity-go/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.New().WithError(err).Fatal("invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	log.WithField("service", "voice-conformity-go").Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize pipeline")
	}
	defer a.Close()

	if cfg.Schedule.Cron != "" {
		go func() {
			if err := a.ServeSchedule(ctx); err != nil {
				log.WithError(err).Error("scheduler terminated")
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      httpapi.NewRouter(a, log, httpapi.Options{AllowedOrigins: cfg.API.AllowedOrigins, Background: ctx}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.WithField("addr", cfg.API.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	log.Info("server stopped")
}
