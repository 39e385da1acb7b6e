package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/util"
)

// AuditLog writes one ManualIntervention row per administrative action and
// mirrors each stored row to downstream consumers in order.
type AuditLog struct {
	repo    domrepo.AuditRepository
	mirror  domrepo.InterventionMirror
	metrics domrepo.Metrics
	clock   util.Clock
	l       *applogger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.ManualIntervention
	wg     sync.WaitGroup
}

// NewAuditLog creates the log. mirror may be nil.
func NewAuditLog(repo domrepo.AuditRepository, mirror domrepo.InterventionMirror, metrics domrepo.Metrics, clock util.Clock, l *applogger.Logger) *AuditLog {
	a := &AuditLog{
		repo:    repo,
		mirror:  mirror,
		metrics: metrics,
		clock:   clock,
		l:       l,
		queue:   make(chan models.ManualIntervention, 1024),
	}
	if mirror != nil {
		a.wg.Add(1)
		go a.mirrorLoop()
	}
	return a
}

// Record stores one entry. A failed write is logged and swallowed: the
// mutation it describes has already been applied.
func (a *AuditLog) Record(ctx context.Context, adminID string, action models.ActionType, target models.TargetType, targetID string, prev, next interface{}, reason string) {
	entry := models.ManualIntervention{
		AdminID:       adminID,
		ActionType:    action,
		TargetType:    target,
		TargetID:      targetID,
		PreviousValue: snapshotJSON(prev),
		NewValue:      snapshotJSON(next),
		Reason:        reason,
		CreatedAt:     a.clock.Now(),
	}
	if err := a.repo.Append(ctx, &entry); err != nil {
		a.metrics.RecordError("audit_append")
		a.l.Error("audit entry lost",
			applogger.String("admin_id", adminID),
			applogger.String("action", string(action)),
			applogger.String("target_id", targetID),
			applogger.Error(err),
		)
		return
	}
	a.metrics.RecordIntervention(string(action))

	if a.mirror == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- entry:
	default:
		a.metrics.RecordError("audit_mirror_full")
		a.l.Warn("audit mirror queue full", applogger.Int64("id", entry.ID))
	}
}

// Query returns one page of the log, newest first.
func (a *AuditLog) Query(ctx context.Context, f models.InterventionFilter) (models.InterventionPage, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return models.InterventionPage{}, models.ValidationErrorf("from", "from must not be after to")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	items, total, err := a.repo.Query(ctx, f)
	if err != nil {
		return models.InterventionPage{}, models.PersistenceError("query interventions", err)
	}
	if items == nil {
		items = []models.ManualIntervention{}
	}
	return models.InterventionPage{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Close stops the mirror worker after it drains what is queued.
func (a *AuditLog) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *AuditLog) mirrorLoop() {
	defer a.wg.Done()
	for entry := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mirror.MirrorIntervention(ctx, entry); err != nil {
			a.metrics.RecordError("audit_mirror")
			a.l.Warn("audit mirror failed", applogger.Int64("id", entry.ID), applogger.Error(err))
		}
		cancel()
	}
}

// snapshotJSON encodes v for the audit row; nil means no prior state.
func snapshotJSON(v interface{}) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
