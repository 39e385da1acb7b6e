package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	"OTCDesk/pkg/database"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TradeStore reads trades and applies settlements together with their
// balance effects.
type TradeStore struct {
	db *database.DB
}

func NewTradeStore(db *database.DB) *TradeStore {
	return &TradeStore{db: db}
}

var (
	_ domrepo.TradeRepository = (*TradeStore)(nil)
	_ domrepo.UserRepository  = (*TradeStore)(nil)
)

func (s *TradeStore) Get(ctx context.Context, id string) (models.Trade, error) {
	var row tradeRow
	err := s.db.Conn(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Trade{}, models.NotFoundErrorf("trade %s not found", id)
	}
	if err != nil {
		return models.Trade{}, fmt.Errorf("get trade %s: %w", id, err)
	}
	return row.toModel(), nil
}

// Insert stores a new trade. Re-inserting a known id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t models.Trade) error {
	row := tradeRowFrom(t)
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *TradeStore) ListOpen(ctx context.Context, symbol string) ([]models.Trade, error) {
	q := s.db.Conn(ctx).Where("status = ?", string(models.TradeOpen))
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	return s.find(q, "list open trades")
}

func (s *TradeStore) ListDue(ctx context.Context, symbol string, at time.Time) ([]models.Trade, error) {
	q := s.db.Conn(ctx).Where("status = ? AND expires_at <= ?", string(models.TradeOpen), at.UTC())
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	return s.find(q, "list due trades")
}

func (s *TradeStore) find(q *gorm.DB, op string) ([]models.Trade, error) {
	var rows []tradeRow
	if err := q.Order("expires_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]models.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ApplySettlement claims the trade, consumes the targeting counter, writes the
// terminal state, credits the balance and records the ledger row, all in one
// transaction. Any step failing rolls back every other.
func (s *TradeStore) ApplySettlement(ctx context.Context, st models.Settlement) error {
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		claim := tx.Model(&tradeRow{}).
			Where("id = ? AND status = ?", st.TradeID, string(models.TradeOpen)).
			Update("status", string(models.TradeSettling))
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return models.ConflictErrorf("trade %s is not open", st.TradeID)
		}

		if st.Counter != models.CounterNone && st.Target != nil {
			if err := decrementCounter(tx, *st.Target, st.Counter); err != nil {
				return err
			}
		}

		settledAt := st.SettledAt.UTC()
		err := tx.Model(&tradeRow{}).Where("id = ?", st.TradeID).Updates(map[string]interface{}{
			"status":            string(st.Status),
			"exit_price":        st.ExitPrice,
			"market_exit_price": st.MarketExitPrice,
			"payout":            st.Payout,
			"outcome_source":    string(st.Source),
			"settled_at":        settledAt,
		}).Error
		if err != nil {
			return err
		}

		if err := credit(tx, st.UserID, st.Payout); err != nil {
			return err
		}

		ledger := ledgerRow{
			UserID:    st.UserID,
			TradeID:   st.TradeID,
			Delta:     st.Payout,
			Kind:      st.LedgerKind(),
			CreatedAt: settledAt,
		}
		if err := tx.Create(&ledger).Error; err != nil {
			if isUniqueViolation(err) {
				return models.ConflictErrorf("trade %s already has a ledger entry", st.TradeID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		var derr *models.Error
		if errors.As(err, &derr) {
			return err
		}
		return fmt.Errorf("apply settlement %s: %w", st.TradeID, err)
	}
	return nil
}

// credit adds amount to the user's balance. An unknown user aborts the whole
// settlement so no trade closes against an account that does not exist.
func credit(tx *gorm.DB, userID string, amount decimal.Decimal) error {
	var u userRow
	err := tx.Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NotFoundErrorf("user %s not found", userID)
	}
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	u.Balance = u.Balance.Add(amount)
	return tx.Save(&u).Error
}

func (s *TradeStore) GetUser(ctx context.Context, id string) (models.User, error) {
	var row userRow
	err := s.db.Conn(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, models.NotFoundErrorf("user %s not found", id)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return models.User{ID: row.ID, Username: row.Username, Balance: row.Balance}, nil
}

func (s *TradeStore) UpsertUser(ctx context.Context, u models.User) error {
	row := userRow{ID: u.ID, Username: u.Username, Balance: u.Balance}
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "balance", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
