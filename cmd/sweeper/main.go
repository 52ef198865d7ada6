package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-order-lifecycle/internal/app"
	"github.com/ariefcatur/go-order-lifecycle/internal/config"
	"github.com/ariefcatur/go-order-lifecycle/internal/expiry"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := cfg.ServiceName + "-sweeper"
	in, err := app.Bootstrap(ctx, cfg, service)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer in.Close()

	runner := &expiry.Runner{
		Pass: &expiry.Sweeper{
			Store:       in.Store,
			Events:      in.Events(),
			Metrics:     in.Metrics,
			Log:         in.Log,
			BatchSize:   cfg.SweepBatch,
			ServiceName: service,
		},
		Interval: cfg.SweepInterval,
		Log:      in.Log,
	}
	if err := runner.Run(ctx); err != nil {
		in.Log.Error("sweeper exit", zap.Error(err))
	}
}
