package auth

import (
	"bitwise74/playground-api/internal/model"
	"bitwise74/playground-api/pkg/security"
	"bitwise74/playground-api/pkg/validators"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

const idCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Accounts persists provider accounts with gorm.
type Accounts struct {
	db     *gorm.DB
	hasher *security.Hasher
}

func NewAccounts(db *gorm.DB, hasher *security.Hasher) *Accounts {
	if hasher == nil {
		hasher = security.NewHasher()
	}

	return &Accounts{db: db, hasher: hasher}
}

func (a *Accounts) CreateAnonymous(ctx context.Context) (*model.Account, error) {
	id, err := gonanoid.Generate(idCharset, 28)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user ID, %w", err)
	}

	acc := &model.Account{
		ID:        id,
		Anonymous: true,
	}

	if err := a.db.WithContext(ctx).Create(acc).Error; err != nil {
		return nil, fmt.Errorf("failed to create anonymous account, %w", err)
	}

	return acc, nil
}

func (a *Accounts) Find(ctx context.Context, id string) (*model.Account, error) {
	var acc model.Account

	err := a.db.
		WithContext(ctx).
		Where("id = ?", id).
		Take(&acc).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}

		return nil, err
	}

	return &acc, nil
}

func (a *Accounts) emailTaken(ctx context.Context, email string) (bool, error) {
	var count int64

	err := a.db.
		WithContext(ctx).
		Model(&model.Account{}).
		Where("email = ?", email).
		Count(&count).
		Error

	return count > 0, err
}

// Link turns the anonymous account id into an email/password account.
func (a *Accounts) Link(ctx context.Context, id, email, password string) (*model.Account, error) {
	email = strings.TrimSpace(email)

	if err := validators.EmailValidator(email); err != nil {
		return nil, ErrInvalidEmail
	}

	if err := validators.PasswordValidator(password); err != nil {
		return nil, ErrWeakPassword
	}

	taken, err := a.emailTaken(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check if email is registered, %w", err)
	}

	if taken {
		return nil, ErrEmailInUse
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password, %w", err)
	}

	now := time.Now().UnixMilli()

	r := a.db.
		WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND anonymous = ?", id, true).
		Updates(map[string]any{
			"email":         email,
			"password_hash": hash,
			"anonymous":     false,
			"linked_at":     now,
		})
	if r.Error != nil {
		return nil, fmt.Errorf("failed to link account, %w", r.Error)
	}

	if r.RowsAffected == 0 {
		if _, err := a.Find(ctx, id); err != nil {
			return nil, err
		}

		return nil, ErrAlreadyLinked
	}

	return a.Find(ctx, id)
}

// Authenticate returns the account matching the credentials.
func (a *Accounts) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	email = strings.TrimSpace(email)

	if err := validators.EmailValidator(email); err != nil {
		return nil, ErrInvalidEmail
	}

	if password == "" {
		return nil, ErrInvalidCredential
	}

	var acc model.Account

	err := a.db.
		WithContext(ctx).
		Where("email = ? AND anonymous = ?", email, false).
		Take(&acc).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredential
		}

		return nil, err
	}

	ok, err := a.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password, %w", err)
	}

	if !ok {
		return nil, ErrInvalidCredential
	}

	return &acc, nil
}
