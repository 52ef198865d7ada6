package expiry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pass is one unit of scheduled work.
type Pass interface {
	SweepOnce(ctx context.Context) (int, error)
}

// Runner invokes a Pass on a fixed interval until its context ends. Passes
// never overlap: a tick that arrives while a pass is running is dropped.
type Runner struct {
	Pass     Pass
	Interval time.Duration
	Log      *zap.Logger
}

func (r *Runner) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("sweeper started", zap.Duration("interval", r.Interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper stopping")
			return nil
		case <-t.C:
			n, err := r.Pass.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error("sweep pass failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired orders cancelled", zap.Int("cancelled", n))
			}
		}
	}
}
