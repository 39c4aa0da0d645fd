// Command microstack runs the single-process emulator: one HTTP
// endpoint multiplexing the function, log, object, and stack dialects.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conorvenus/microstack/internal/config"
	"github.com/conorvenus/microstack/internal/eventbus"
	"github.com/conorvenus/microstack/internal/ledger"
	"github.com/conorvenus/microstack/internal/logger"
	"github.com/conorvenus/microstack/internal/objectstore"
	"github.com/conorvenus/microstack/internal/orchestrator"
	"github.com/conorvenus/microstack/internal/registry"
	"github.com/conorvenus/microstack/internal/router"
	"github.com/conorvenus/microstack/internal/runtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("microstack starting")

	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create runtime scratch directory")
	}

	led := ledger.New()
	store := objectstore.New()
	reg := registry.New()
	rt := runtime.New(reg, cfg.RuntimeDir, runtime.NewDefaultSink(func(group, stream, message string, timestamp time.Time) {
		_ = led.AppendEvent(group, stream, message, &timestamp)
	}))
	orch := orchestrator.New(
		&orchestrator.LambdaFunctionAdapter{Registry: reg},
		&orchestrator.LogGroupResourceAdapter{Ledger: led},
		&orchestrator.BucketResourceAdapter{Store: store},
	)

	bus := eventbus.Connect(cfg, log)
	defer bus.Close()
	orch.SetNotifier(bus.PublishStackTransition)
	rt.SetNotifier(bus.PublishInvocationCompleted)

	handler := router.New(log, cfg.MaxBodyBytes, led, store, reg, rt, orch)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("microstack listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("microstack stopped gracefully")
	}
}
