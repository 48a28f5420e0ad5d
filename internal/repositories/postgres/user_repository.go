package postgres

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
	ppostgres "github.com/oceanbutterfly/shop-api/internal/platform/postgres"
)

// UserRepository resolves order owners from the users table.
type UserRepository struct {
	provider *ppostgres.Provider
}

// NewUserRepository constructs a gorm backed user repository.
func NewUserRepository(provider *ppostgres.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires postgres provider")
	}
	return &UserRepository{provider: provider}, nil
}

func (r *UserRepository) conn(ctx context.Context) (*gorm.DB, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("user repository not initialised")
	}
	return r.provider.Conn(ctx)
}

// FindByID loads the user by surrogate id.
func (r *UserRepository) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return domain.User{}, err
	}
	var rec userRecord
	if err := db.Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return domain.User{}, ppostgres.WrapError("user.find_by_id", err)
	}
	return rec.toDomain(), nil
}

// FindByAccount loads the user by login account.
func (r *UserRepository) FindByAccount(ctx context.Context, account string) (domain.User, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return domain.User{}, errors.New("user account is required")
	}
	db, err := r.conn(ctx)
	if err != nil {
		return domain.User{}, err
	}
	var rec userRecord
	if err := db.Where("user_account = ?", account).First(&rec).Error; err != nil {
		return domain.User{}, ppostgres.WrapError("user.find_by_account", err)
	}
	return rec.toDomain(), nil
}
