package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Evictor удаляет диалоги без активности дольше ttl.
type Evictor interface {
	EvictIdle(ttl time.Duration) int
	Len() int
}

// Janitor периодически чистит хранилище историй, чтобы память не росла бесконечно.
type Janitor struct {
	store    Evictor
	ttl      time.Duration
	interval time.Duration
	logger   *zap.SugaredLogger
}

func New(store Evictor, ttl, interval time.Duration, logger *zap.SugaredLogger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{store: store, ttl: ttl, interval: interval, logger: logger}
}

// Run работает до отмены контекста. При ttl <= 0 сразу выходит: очистка отключена.
func (j *Janitor) Run(ctx context.Context) error {
	if j.ttl <= 0 {
		return nil
	}
	j.logger.Infow("Janitor started", "ttl", j.ttl.String(), "interval", j.interval.String())
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-t.C:
			j.Sweep()
		}
	}
}

// Sweep выполняет одну очистку и возвращает число удалённых диалогов.
func (j *Janitor) Sweep() int {
	removed := j.store.EvictIdle(j.ttl)
	if removed > 0 {
		j.logger.Infow("Удалены неактивные диалоги", "removed", removed, "left", j.store.Len())
	}
	return removed
}
