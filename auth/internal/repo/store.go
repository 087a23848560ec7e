package repo

import (
	"context"
	"errors"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrCredentialTaken    = errors.New("credential already linked")
	ErrDuplicateToken     = errors.New("token hash already stored")
	// ErrStaleRow is returned by conditional updates that matched no row,
	// i.e. another writer got there first.
	ErrStaleRow = errors.New("row changed concurrently")
)

type AccountStore interface {
	// CreateAccount inserts the account and its first credential atomically.
	CreateAccount(ctx context.Context, account *entity.Account, credential *entity.Credential) error
	GetAccountByID(ctx context.Context, id string) (entity.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (entity.Account, error)
	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error

	GetCredential(ctx context.Context, accountID string, method entity.Method) (entity.Credential, error)
	GetCredentialByProvider(ctx context.Context, method entity.Method, providerID string) (entity.Credential, error)
	ListCredentials(ctx context.Context, accountID string) ([]entity.Credential, error)
	// SetPasswordHash updates the EMAIL credential, creating it when the
	// account only has social links.
	SetPasswordHash(ctx context.Context, accountID, hash string, at time.Time) error
}

type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *entity.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (entity.RefreshToken, error)
	// LockRefreshTokenByHash reads the row and holds it until the enclosing
	// transaction ends.
	LockRefreshTokenByHash(ctx context.Context, hash string) (entity.RefreshToken, error)
	// MarkRefreshTokenRotated revokes a still-active row; ErrStaleRow if it was
	// already revoked.
	MarkRefreshTokenRotated(ctx context.Context, id string, at time.Time) error
	RevokeRefreshTokenByHash(ctx context.Context, hash string, at time.Time, reason string) (int64, error)
	RevokeAccountRefreshTokens(ctx context.Context, accountID string, at time.Time, reason string) (int64, error)
}

type PasswordResetStore interface {
	CreatePasswordResetToken(ctx context.Context, token *entity.PasswordResetToken) error
	GetPasswordResetTokenByHash(ctx context.Context, hash string) (entity.PasswordResetToken, error)
	LockPasswordResetTokenByHash(ctx context.Context, hash string) (entity.PasswordResetToken, error)
	// InvalidatePasswordResetTokens marks every unused, unexpired row of the
	// account as used.
	InvalidatePasswordResetTokens(ctx context.Context, accountID string, now time.Time) (int64, error)
	MarkPasswordResetTokenUsed(ctx context.Context, id string, at time.Time) error
}

// Store is everything the auth service persists. WithinTx runs fn against a
// Store bound to one transaction: all of fn's writes commit together or none do.
type Store interface {
	AccountStore
	RefreshTokenStore
	PasswordResetStore

	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

var (
	_ Store = (*Repo)(nil)
	_ Store = (*Memory)(nil)
)
