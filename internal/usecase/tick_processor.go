package usecase

import (
	"context"
	"fmt"
	"time"

	"OTCDesk/internal/domain/models"
	drepo "OTCDesk/internal/domain/repository"
)

// TickProcessor routes archived ticks to the configured backend.
type TickProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

func NewTickProcessor(pub drepo.Publisher, store drepo.Storage, metrics drepo.Metrics, backend string) *TickProcessor {
	return &TickProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

func (p *TickProcessor) Backend() string { return p.backend }

// Process sends a single tick to the backend.
func (p *TickProcessor) Process(ctx context.Context, t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick is nil")
	}
	start := time.Now()
	var err error

	switch {
	case p.backend == "kafka" && p.pub != nil:
		err = p.pub.Publish(ctx, t)
	case p.backend == "clickhouse" && p.store != nil:
		err = p.store.Store(ctx, t)
	default:
		err = fmt.Errorf("backend %q not available", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process tick: %w", err)
	}

	p.metrics.RecordMessageSent(p.backend, t.Symbol)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch sends ticks in one call.
func (p *TickProcessor) ProcessBatch(ctx context.Context, ticks []*models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	start := time.Now()
	var err error

	switch {
	case p.backend == "kafka" && p.pub != nil:
		err = p.pub.PublishBatch(ctx, ticks)
	case p.backend == "clickhouse" && p.store != nil:
		err = p.store.StoreBatch(ctx, ticks)
	default:
		err = fmt.Errorf("backend %q not available", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, t := range ticks {
		p.metrics.RecordMessageSent(p.backend, t.Symbol)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}
