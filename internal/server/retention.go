package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docser/docser/internal/store"
)

// Retention sweeps conversations past their expiry on a fixed interval.
type Retention struct {
	Store    *store.Store
	Interval time.Duration
	Logger   *zap.Logger
	Stop     chan struct{}
}

func (r *Retention) Start() {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-r.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Retention) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := r.Store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		r.Logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		r.Logger.Info("retention sweep removed expired conversations", zap.Int64("deleted", deleted))
	}
}
