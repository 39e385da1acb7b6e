package repository

import (
	"context"
	"errors"
	"fmt"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	"OTCDesk/pkg/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ControlStore persists manual controls and user targeting in SQLite.
type ControlStore struct {
	db *database.DB
}

func NewControlStore(db *database.DB) *ControlStore {
	return &ControlStore{db: db}
}

var (
	_ domrepo.ControlRepository   = (*ControlStore)(nil)
	_ domrepo.TargetingRepository = (*ControlStore)(nil)
)

func (s *ControlStore) Upsert(ctx context.Context, c models.ManualControl) (models.ManualControl, error) {
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		var current controlRow
		err := tx.Select("version").Where("symbol = ?", c.Symbol).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			current.Version = 0
		case err != nil:
			return err
		}
		row := controlRowFrom(c)
		row.Version = current.Version + 1
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		c.Version = row.Version
		return nil
	})
	if err != nil {
		return models.ManualControl{}, fmt.Errorf("upsert control %s: %w", c.Symbol, err)
	}
	return c, nil
}

func (s *ControlStore) List(ctx context.Context) ([]models.ManualControl, error) {
	var rows []controlRow
	if err := s.db.Conn(ctx).Order("symbol asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	out := make([]models.ManualControl, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *ControlStore) UpsertTargeting(ctx context.Context, t models.UserTargeting) error {
	row := targetRowFrom(t)
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert targeting %s/%s: %w", t.UserID, t.Symbol, err)
	}
	return nil
}

func (s *ControlStore) ListActive(ctx context.Context) ([]models.UserTargeting, error) {
	var rows []targetRow
	if err := s.db.Conn(ctx).Where("is_active = ?", true).Order("user_id asc, symbol asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list targeting: %w", err)
	}
	out := make([]models.UserTargeting, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *ControlStore) DecrementCounter(ctx context.Context, key models.TargetKey, counter models.CounterKind) error {
	return s.db.InTx(ctx, func(tx *gorm.DB) error {
		return decrementCounter(tx, key, counter)
	})
}

// decrementCounter consumes one unit only while the counter is still positive,
// so two racing settlements can never drive it below zero.
func decrementCounter(tx *gorm.DB, key models.TargetKey, counter models.CounterKind) error {
	var column string
	switch counter {
	case models.CounterWin, models.CounterLose:
		column = string(counter)
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	res := tx.Model(&targetRow{}).
		Where("user_id = ? AND symbol = ? AND "+column+" > 0", key.UserID, key.Symbol).
		Update(column, gorm.Expr(column+" - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &models.Error{
			Kind:    models.KindConflict,
			Message: fmt.Sprintf("%s of %s/%s", counter, key.UserID, key.Symbol),
			Err:     models.ErrCounterDrained,
		}
	}
	return nil
}
