package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/app"
	"github.com/ariefcatur/go-order-lifecycle/internal/config"
	"github.com/ariefcatur/go-order-lifecycle/internal/expiry"
	"github.com/ariefcatur/go-order-lifecycle/internal/httpx"
	"github.com/ariefcatur/go-order-lifecycle/internal/inventory"
	"github.com/ariefcatur/go-order-lifecycle/internal/payment"
	"github.com/ariefcatur/go-order-lifecycle/internal/redisx"
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

	in, err := app.Bootstrap(ctx, cfg, cfg.ServiceName)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer in.Close()
	lg := in.Log

	gateway, err := payment.NewMercadoPago(cfg.MercadoPago.BaseURL, cfg.MercadoPago.AccessToken)
	if err != nil {
		lg.Fatal("payment gateway", zap.Error(err))
	}
	confirmer := &payment.Confirmer{
		Store:       in.Store,
		Events:      in.Events(),
		Metrics:     in.Metrics,
		Log:         lg.Named("payment"),
		ServiceName: cfg.ServiceName,
	}
	sweeper := &expiry.Sweeper{
		Store:       in.Store,
		Events:      in.Events(),
		Metrics:     in.Metrics,
		Log:         lg.Named("expiry"),
		BatchSize:   cfg.SweepBatch,
		ServiceName: cfg.ServiceName,
	}

	oh := &httpx.OrdersHandler{
		Coordinator: &inventory.Coordinator{
			Store:       in.Store,
			Events:      in.Events(),
			Metrics:     in.Metrics,
			Log:         lg.Named("inventory"),
			TTL:         cfg.OrderTTL,
			ServiceName: cfg.ServiceName,
		},
		Store:     in.Store,
		Confirmer: confirmer,
		Checkout: &payment.Checkout{
			Store:         in.Store,
			Gateway:       gateway,
			PaymentMethod: cfg.PaymentMethod,
			Currency:      cfg.MercadoPago.Currency,
			FrontendURL:   cfg.FrontendURL,
			BackendURL:    cfg.BackendURL,
		},
		Webhooks:      &payment.Handler{Gateway: gateway, Confirmer: confirmer, Log: lg.Named("webhook")},
		Sweeper:       sweeper,
		CronSecret:    cfg.CronSecret,
		WebhookSecret: cfg.MercadoPago.WebhookSecret,
		Service:       cfg.ServiceName,
		Log:           lg.Named("http"),
	}
	if in.Redis != nil {
		oh.Idempotency = &redisx.Idempotency{RDB: in.Redis}
	}
	if cfg.WebhookAsync {
		if in.Producer == nil {
			lg.Fatal("WEBHOOK_ASYNC needs KAFKA_BROKERS")
		}
		oh.Notifications = in.Producer.Sync()
	}

	router := httpx.NewRouter(in.Metrics)
	oh.Register(router)

	if cfg.SweeperEnabled {
		runner := &expiry.Runner{Pass: sweeper, Interval: cfg.SweepInterval, Log: lg.Named("expiry")}
		go func() { _ = runner.Run(ctx) }()
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		lg.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down...")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}
