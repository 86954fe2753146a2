package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/applyflow/autofill-service/internal/models"
)

// GormStore backs the ledger with the users table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetBalance(ctx context.Context, userID uint) (int64, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: get balance for user %d: %w", userID, err)
	}
	return user.CreditBalance, nil
}

// UpdateBalance is a single conditional UPDATE: the non-negativity guard sits
// in the WHERE clause and the new balance comes back via RETURNING, so there
// is no read-modify-write gap for concurrent deltas to race through.
func (s *GormStore) UpdateBalance(ctx context.Context, userID uint, delta int64) (int64, error) {
	var user models.User
	res := s.db.WithContext(ctx).Model(&user).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "credit_balance"}}}).
		Where("id = ? AND credit_balance + ? >= 0", userID, delta).
		Update("credit_balance", gorm.Expr("credit_balance + ?", delta))
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: update balance for user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return 0, fmt.Errorf("ledger: update balance for user %d: %w", userID, err)
		}
		if count == 0 {
			return 0, ErrUserNotFound
		}
		return 0, ErrInsufficientCredits
	}
	return user.CreditBalance, nil
}

func (s *GormStore) Provision(ctx context.Context, email string, initialCredits int64) (*models.User, error) {
	user := models.User{Email: email, CreditBalance: initialCredits}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("ledger: provision user %s: %w", email, err)
	}
	return &user, nil
}
