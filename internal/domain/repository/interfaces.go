package repository

import (
	"context"
	"time"

	"OTCDesk/internal/domain/models"
)

// ControlRepository persists per-symbol manual controls.
type ControlRepository interface {
	// Upsert writes c, bumping its version, and returns the stored record.
	Upsert(ctx context.Context, c models.ManualControl) (models.ManualControl, error)
	List(ctx context.Context) ([]models.ManualControl, error)
}

// TargetingRepository persists user targeting records.
type TargetingRepository interface {
	UpsertTargeting(ctx context.Context, t models.UserTargeting) error
	ListActive(ctx context.Context) ([]models.UserTargeting, error)
	// DecrementCounter consumes one unit of counter; ErrConflict when it is already zero.
	DecrementCounter(ctx context.Context, key models.TargetKey, counter models.CounterKind) error
}

// AuditRepository is the append-only intervention log.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.ManualIntervention) error
	Query(ctx context.Context, f models.InterventionFilter) ([]models.ManualIntervention, int64, error)
}

// TradeRepository reads trades and applies settlements.
type TradeRepository interface {
	Get(ctx context.Context, id string) (models.Trade, error)
	Insert(ctx context.Context, t models.Trade) error
	ListOpen(ctx context.Context, symbol string) ([]models.Trade, error)
	// ListDue returns OPEN trades of symbol (any symbol when empty) expiring at or before at.
	ListDue(ctx context.Context, symbol string, at time.Time) ([]models.Trade, error)
	// ApplySettlement claims an OPEN trade and applies every effect of s in one
	// transaction. ErrConflict when the trade is no longer OPEN.
	ApplySettlement(ctx context.Context, s models.Settlement) error
}

// UserRepository reads balance holders.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	UpsertUser(ctx context.Context, u models.User) error
}

// Publisher ships archived ticks to a stream.
type Publisher interface {
	Publish(ctx context.Context, t *models.Tick) error
	PublishBatch(ctx context.Context, ticks []*models.Tick) error
	Close() error
}

// Storage is a queryable tick archive.
type Storage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, t *models.Tick) error
	StoreBatch(ctx context.Context, ticks []*models.Tick) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Tick, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// EventPublisher delivers settlement events outward.
type EventPublisher interface {
	PublishSettlement(ctx context.Context, ev models.SettlementEvent) error
}

// InterventionMirror receives a copy of every audit row for downstream consumers.
type InterventionMirror interface {
	MirrorIntervention(ctx context.Context, entry models.ManualIntervention) error
}

// Locker is a cross-process mutual exclusion primitive.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordTickDropped(subscriber string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordSettlement(symbol, status, source string)
	RecordIntervention(action string)
}
