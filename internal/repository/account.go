package repository

import (
	"context"

	"marketplace/internal/models"

	"gorm.io/gorm"
)

// AccountRepository stores credentials for the built-in auth provider.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByUID(ctx context.Context, uid string) (*models.Account, error)
	MarkVerified(ctx context.Context, uid string) error
	BumpSessionEpoch(ctx context.Context, uid string) error
	UpdatePassword(ctx context.Context, uid, hash string) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if isUniqueViolation(err) {
		return models.NewConflictError("email already registered", err)
	}
	return err
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.take(ctx, "email = ?", email)
}

func (r *accountRepository) GetByUID(ctx context.Context, uid string) (*models.Account, error) {
	return r.take(ctx, "uid = ?", uid)
}

func (r *accountRepository) take(ctx context.Context, query string, arg string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where(query, arg).Take(&account).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) MarkVerified(ctx context.Context, uid string) error {
	return r.update(ctx, uid, "email_verified", true)
}

// BumpSessionEpoch invalidates every session token issued for uid so far.
func (r *accountRepository) BumpSessionEpoch(ctx context.Context, uid string) error {
	return r.update(ctx, uid, "session_epoch", gorm.Expr("session_epoch + 1"))
}

func (r *accountRepository) UpdatePassword(ctx context.Context, uid, hash string) error {
	return r.update(ctx, uid, "password_hash", hash)
}

func (r *accountRepository) update(ctx context.Context, uid, column string, value interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("uid = ?", uid).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Account", uid)
	}
	return nil
}
