package repo

import (
	"context"
	"errors"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolation = "23505"
	accountEmailIndex = "idx_accounts_email"
)

// Repo is the Postgres-backed Store.
type Repo struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

func (r *Repo) CreateAccount(ctx context.Context, account *entity.Account, credential *entity.Credential) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(account).Error; err != nil {
			return err
		}
		credential.AccountID = account.ID
		return tx.Create(credential).Error
	})
	return translateUnique(err)
}

func (r *Repo) GetAccountByID(ctx context.Context, id string) (entity.Account, error) {
	var account entity.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return entity.Account{}, notFound(err, ErrAccountNotFound)
	}
	return account, nil
}

func (r *Repo) GetAccountByEmail(ctx context.Context, email string) (entity.Account, error) {
	var account entity.Account
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		return entity.Account{}, notFound(err, ErrAccountNotFound)
	}
	return account, nil
}

func (r *Repo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&entity.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"last_login": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *Repo) GetCredential(ctx context.Context, accountID string, method entity.Method) (entity.Credential, error) {
	var cred entity.Credential
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND method = ?", accountID, method).
		First(&cred).Error
	if err != nil {
		return entity.Credential{}, notFound(err, ErrCredentialNotFound)
	}
	return cred, nil
}

func (r *Repo) GetCredentialByProvider(ctx context.Context, method entity.Method, providerID string) (entity.Credential, error) {
	var cred entity.Credential
	err := r.db.WithContext(ctx).
		Where("method = ? AND provider_id = ?", method, providerID).
		First(&cred).Error
	if err != nil {
		return entity.Credential{}, notFound(err, ErrCredentialNotFound)
	}
	return cred, nil
}

func (r *Repo) ListCredentials(ctx context.Context, accountID string) ([]entity.Credential, error) {
	var creds []entity.Credential
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at").
		Find(&creds).Error
	return creds, err
}

func (r *Repo) SetPasswordHash(ctx context.Context, accountID, hash string, at time.Time) error {
	db := r.db.WithContext(ctx)

	res := db.Model(&entity.Credential{}).
		Where("account_id = ? AND method = ?", accountID, entity.MethodEmail).
		Updates(map[string]any{"password_hash": hash, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	cred := &entity.Credential{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Method:       entity.MethodEmail,
		PasswordHash: &hash,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	return translateUnique(db.Create(cred).Error)
}

func (r *Repo) CreateRefreshToken(ctx context.Context, token *entity.RefreshToken) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(token).Error
}

func (r *Repo) GetRefreshTokenByHash(ctx context.Context, hash string) (entity.RefreshToken, error) {
	var token entity.RefreshToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error; err != nil {
		return entity.RefreshToken{}, notFound(err, ErrTokenNotFound)
	}
	return token, nil
}

func (r *Repo) LockRefreshTokenByHash(ctx context.Context, hash string) (entity.RefreshToken, error) {
	var token entity.RefreshToken
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ?", hash).
		First(&token).Error
	if err != nil {
		return entity.RefreshToken{}, notFound(err, ErrTokenNotFound)
	}
	return token, nil
}

func (r *Repo) MarkRefreshTokenRotated(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&entity.RefreshToken{}).
		Where("id = ? AND is_revoked = ?", id, false).
		Updates(map[string]any{
			"is_revoked":     true,
			"revoked_at":     at,
			"revoked_reason": entity.ReasonRotated,
			"usage_count":    gorm.Expr("usage_count + 1"),
			"last_used_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleRow
	}
	return nil
}

func (r *Repo) RevokeRefreshTokenByHash(ctx context.Context, hash string, at time.Time, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.RefreshToken{}).
		Where("token_hash = ? AND is_revoked = ?", hash, false).
		Updates(revocation(at, reason))
	return res.RowsAffected, res.Error
}

func (r *Repo) RevokeAccountRefreshTokens(ctx context.Context, accountID string, at time.Time, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.RefreshToken{}).
		Where("account_id = ? AND is_revoked = ?", accountID, false).
		Updates(revocation(at, reason))
	return res.RowsAffected, res.Error
}

func (r *Repo) CreatePasswordResetToken(ctx context.Context, token *entity.PasswordResetToken) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(token).Error
}

func (r *Repo) GetPasswordResetTokenByHash(ctx context.Context, hash string) (entity.PasswordResetToken, error) {
	var token entity.PasswordResetToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error; err != nil {
		return entity.PasswordResetToken{}, notFound(err, ErrTokenNotFound)
	}
	return token, nil
}

func (r *Repo) LockPasswordResetTokenByHash(ctx context.Context, hash string) (entity.PasswordResetToken, error) {
	var token entity.PasswordResetToken
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ?", hash).
		First(&token).Error
	if err != nil {
		return entity.PasswordResetToken{}, notFound(err, ErrTokenNotFound)
	}
	return token, nil
}

func (r *Repo) InvalidatePasswordResetTokens(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.PasswordResetToken{}).
		Where("account_id = ? AND is_used = ? AND expires_at > ?", accountID, false, now).
		Updates(map[string]any{"is_used": true, "used_at": now})
	return res.RowsAffected, res.Error
}

func (r *Repo) MarkPasswordResetTokenUsed(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&entity.PasswordResetToken{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]any{"is_used": true, "used_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleRow
	}
	return nil
}

func revocation(at time.Time, reason string) map[string]any {
	return map[string]any{
		"is_revoked":     true,
		"revoked_at":     at,
		"revoked_reason": reason,
	}
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == accountEmailIndex {
			return ErrEmailTaken
		}
		return ErrCredentialTaken
	}
	return err
}
