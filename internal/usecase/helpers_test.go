package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"OTCDesk/internal/domain/models"
	"OTCDesk/internal/repository"
	"OTCDesk/pkg/database"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/metrics"
	"OTCDesk/pkg/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

const eurusd = "EURUSD-OTC"

type fixedRand struct {
	mu sync.Mutex
	v  float64
}

func (r *fixedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v
}

func (r *fixedRand) set(v float64) {
	r.mu.Lock()
	r.v = v
	r.mu.Unlock()
}

// failingControls fails every write while fail is set.
type failingControls struct {
	*repository.ControlStore
	mu   sync.Mutex
	fail bool
}

func (f *failingControls) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingControls) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *failingControls) Upsert(ctx context.Context, c models.ManualControl) (models.ManualControl, error) {
	if f.failing() {
		return models.ManualControl{}, errors.New("disk I/O error")
	}
	return f.ControlStore.Upsert(ctx, c)
}

func (f *failingControls) UpsertTargeting(ctx context.Context, t models.UserTargeting) error {
	if f.failing() {
		return errors.New("disk I/O error")
	}
	return f.ControlStore.UpsertTargeting(ctx, t)
}

type env struct {
	db       *database.DB
	controls *failingControls
	audits   *repository.AuditStore
	trades   *repository.TradeStore
	clock    *util.ManualClock
	rng      *fixedRand
	audit    *AuditLog
	svc      *ManualControlService
}

func openDB(t *testing.T, path string) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:         path,
		MaxRetries:   5,
		RetryBackoff: time.Millisecond,
	}, repository.Models()...)
	require.NoError(t, err)
	return db
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := openDB(t, filepath.Join(t.TempDir(), "otcdesk.db"))
	t.Cleanup(func() { _ = db.Close() })
	return newEnvOn(t, db, util.NewManualClock(t0))
}

// newEnvOn builds a fresh service over db, as a restarted process would.
func newEnvOn(t *testing.T, db *database.DB, clock *util.ManualClock) *env {
	t.Helper()
	e := &env{
		db:       db,
		controls: &failingControls{ControlStore: repository.NewControlStore(db)},
		audits:   repository.NewAuditStore(db),
		trades:   repository.NewTradeStore(db),
		clock:    clock,
		rng:      &fixedRand{v: 0.99},
	}
	e.audit = NewAuditLog(e.audits, nil, metrics.Nop{}, clock, applogger.NewNop())
	e.svc = NewManualControlService(ManualControlDeps{
		Controls:  e.controls,
		Targets:   e.controls,
		Trades:    e.trades,
		Users:     e.trades,
		Audit:     e.audit,
		Clock:     clock,
		Random:    e.rng,
		Metrics:   metrics.Nop{},
		Logger:    applogger.NewNop(),
		Symbols:   []string{eurusd, "BTCUSD-OTC"},
		TickSizes: map[string]float64{eurusd: 0.00001, "BTCUSD-OTC": 0.01},
	})
	return e
}

func (e *env) auditRows(t *testing.T) []models.ManualIntervention {
	t.Helper()
	page, err := e.audit.Query(context.Background(), models.InterventionFilter{Limit: 500})
	require.NoError(t, err)
	return page.Items
}

func (e *env) seedUser(t *testing.T, id, balance string) {
	t.Helper()
	require.NoError(t, e.trades.UpsertUser(context.Background(), models.User{
		ID: id, Username: id, Balance: decimal.RequireFromString(balance),
	}))
}

func (e *env) seedTrade(t *testing.T, id, user string, dir models.Direction, entry float64, expires time.Time) models.Trade {
	t.Helper()
	tr := models.Trade{
		ID:         id,
		UserID:     user,
		Symbol:     eurusd,
		Direction:  dir,
		Amount:     decimal.RequireFromString("100"),
		PayoutRate: decimal.RequireFromString("0.85"),
		EntryPrice: entry,
		OpenedAt:   expires.Add(-time.Minute),
		ExpiresAt:  expires,
		Status:     models.TradeOpen,
	}
	require.NoError(t, e.trades.Insert(context.Background(), tr))
	return tr
}

func admin(d time.Duration) models.Mutation {
	return models.Mutation{AdminID: "admin-1", Duration: d, Reason: "test"}
}

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }
