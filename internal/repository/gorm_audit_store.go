package repository

import (
	"context"
	"fmt"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	"OTCDesk/pkg/database"

	"gorm.io/gorm"
)

// AuditStore is the append-only manual_interventions table.
type AuditStore struct {
	db *database.DB
}

func NewAuditStore(db *database.DB) *AuditStore {
	return &AuditStore{db: db}
}

var _ domrepo.AuditRepository = (*AuditStore)(nil)

// Append inserts entry and fills in its generated ID.
func (s *AuditStore) Append(ctx context.Context, entry *models.ManualIntervention) error {
	if entry == nil {
		return nil
	}
	row := interventionRowFrom(*entry)
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		row.ID = 0
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("append intervention: %w", err)
	}
	entry.ID = row.ID
	return nil
}

// Query returns one page of entries, newest first, and the total match count.
func (s *AuditStore) Query(ctx context.Context, f models.InterventionFilter) ([]models.ManualIntervention, int64, error) {
	q := s.db.Conn(ctx).Model(&interventionRow{})
	if f.AdminID != "" {
		q = q.Where("admin_id = ?", f.AdminID)
	}
	if f.ActionType != "" {
		q = q.Where("action_type = ?", string(f.ActionType))
	}
	if f.TargetType != "" {
		q = q.Where("target_type = ?", string(f.TargetType))
	}
	if f.TargetID != "" {
		q = q.Where("target_id = ?", f.TargetID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count interventions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	var rows []interventionRow
	if err := q.Order("id desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("query interventions: %w", err)
	}
	out := make([]models.ManualIntervention, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, total, nil
}
