package usecase

import (
	"context"
	"sync"
	"time"

	"OTCDesk/internal/domain/models"
	drepo "OTCDesk/internal/domain/repository"
	mid "OTCDesk/internal/middleware"
	applogger "OTCDesk/pkg/logger"
)

// TickCollector batches published ticks into the archive pipeline.
type TickCollector struct {
	dist    *TickDistributor
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	l       *applogger.Logger

	batchSize    int
	batchTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTickCollector(dist *TickDistributor, pipe *mid.RealtimePipeline, metrics drepo.Metrics, l *applogger.Logger, batchSize int, batchTimeout time.Duration) *TickCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return &TickCollector{
		dist:         dist,
		pipe:         pipe,
		metrics:      metrics,
		l:            l,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
	}
}

func (c *TickCollector) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.pipe.Start(runCtx)

	ch, unsubscribe := c.dist.Subscribe("archive", c.batchSize*4)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsubscribe()
		c.consume(runCtx, ch)
	}()
}

func (c *TickCollector) consume(ctx context.Context, ch <-chan models.Tick) {
	batch := make([]*models.Tick, 0, c.batchSize)
	timer := time.NewTicker(c.batchTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := c.pipe.ProcessBatch(ctx, batch); err != nil {
			c.l.Warn("archive batch deferred",
				applogger.Int("ticks", len(batch)),
				applogger.Error(err),
			)
		}
		batch = make([]*models.Tick, 0, c.batchSize)
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case t, ok := <-ch:
					if !ok {
						break drain
					}
					tick := t
					batch = append(batch, &tick)
				default:
					break drain
				}
			}
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(final)
			cancel()
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			tick := t
			batch = append(batch, &tick)
			if len(batch) >= c.batchSize {
				flush(ctx)
			}
		case <-timer.C:
			flush(ctx)
		}
	}
}

// Shutdown flushes the open batch and stops the pipeline.
func (c *TickCollector) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.pipe.Stop()
}
