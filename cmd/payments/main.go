package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-order-lifecycle/internal/app"
	"github.com/ariefcatur/go-order-lifecycle/internal/config"
	"github.com/ariefcatur/go-order-lifecycle/internal/kafka"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/payment"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// A non-zero exit lets the supervisor restart the process; the group
	// then redelivers from the last committed offset.
	if err := run(cfg); err != nil {
		log.Fatalf("payments: %v", err)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := cfg.ServiceName + "-payments"
	in, err := app.Bootstrap(ctx, cfg, service)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer in.Close()

	gateway, err := payment.NewMercadoPago(cfg.MercadoPago.BaseURL, cfg.MercadoPago.AccessToken)
	if err != nil {
		return err
	}
	h := &payment.Handler{
		Gateway: gateway,
		Confirmer: &payment.Confirmer{
			Store:       in.Store,
			Events:      in.Events(),
			Metrics:     in.Metrics,
			Log:         in.Log,
			ServiceName: service,
		},
		Log: in.Log,
	}

	cons := kafka.NewConsumer(cfg.KafkaBrokers, cfg.PaymentsGroup, orders.TopicPaymentNotifications, cfg.PaymentsWorkers, in.Log)
	in.Log.Info("payments consumer started",
		zap.String("group", cfg.PaymentsGroup),
		zap.String("topic", orders.TopicPaymentNotifications),
		zap.Int("workers", cfg.PaymentsWorkers))
	if err := cons.Start(ctx, h.HandleMessage); err != nil {
		in.Log.Error("consumer stopped", zap.Error(err))
		return err
	}
	return nil
}
