// Package app wires the infrastructure shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/config"
	"github.com/ariefcatur/go-order-lifecycle/internal/kafka"
	"github.com/ariefcatur/go-order-lifecycle/internal/logging"
	"github.com/ariefcatur/go-order-lifecycle/internal/metrics"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/postgres"
	"github.com/ariefcatur/go-order-lifecycle/internal/redisx"
	"github.com/ariefcatur/go-order-lifecycle/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Infra struct {
	Config   config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Store    orders.Store
	Redis    *redis.Client   // nil without REDIS_ADDR
	Producer *kafka.Producer // nil without KAFKA_BROKERS

	closers []func()
}

// Bootstrap connects everything the config asks for. service names the
// binary in logs, traces and metrics.
func Bootstrap(ctx context.Context, cfg config.Config, service string) (*Infra, error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With(zap.String("service", service))
	in := &Infra{Config: cfg, Log: log}
	in.onClose(func() { _ = log.Sync() })

	shutdownTracing, err := tracing.Setup(ctx, service, cfg.OTelEndpoint)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.onClose(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	})

	in.Metrics = metrics.New(prometheus.DefaultRegisterer, service)

	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store, data is lost on exit")
		in.Store = orders.NewMemStore()
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("db connect: %w", err)
		}
		in.onClose(pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			in.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		in.Store = &orders.PGStore{DB: pool, TxTimeout: cfg.TxTimeout}
	}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		in.onClose(func() { _ = rdb.Close() })
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Warn("redis unreachable, continuing", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		in.Redis = rdb
		in.Store = &redisx.CachedStore{Store: in.Store, RDB: rdb, Log: log}
	}

	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewProducer(cfg.KafkaBrokers, 1024, log)
		p.Start()
		in.onClose(func() {
			p.Close()
			p.WaitClosed()
		})
		in.Producer = p
	}
	return in, nil
}

// Events is the publisher for post-commit lifecycle events.
func (in *Infra) Events() orders.Publisher {
	if in.Producer == nil {
		return orders.NopPublisher{}
	}
	return in.Producer
}

// Close releases resources in reverse order of acquisition.
func (in *Infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}

func (in *Infra) onClose(f func()) { in.closers = append(in.closers, f) }
