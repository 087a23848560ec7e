//go:build integration

package repo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&entity.Account{}, &entity.Credential{}, &entity.RefreshToken{}, &entity.PasswordResetToken{},
	))
	return db
}

func createGormAccount(t *testing.T, r *Repo) entity.Account {
	t.Helper()

	email := uuid.NewString() + "@example.com"
	hash := "hash"
	account := &entity.Account{ID: uuid.NewString(), Email: &email, Nickname: "it", Status: entity.StatusActive}
	require.NoError(t, r.CreateAccount(context.Background(), account,
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodEmail, PasswordHash: &hash}))
	return *account
}

func TestRepoDuplicateEmail(t *testing.T) {
	r := NewRepository(openTestDB(t))
	acc := createGormAccount(t, r)

	dup := &entity.Account{ID: uuid.NewString(), Email: acc.Email, Nickname: "dup"}
	err := r.CreateAccount(context.Background(), dup,
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodEmail})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRepoConcurrentRotationHasOneWinner(t *testing.T) {
	r := NewRepository(openTestDB(t))
	ctx := context.Background()
	acc := createGormAccount(t, r)

	hash := uuid.NewString()
	require.NoError(t, r.CreateRefreshToken(ctx, &entity.RefreshToken{
		ID: uuid.NewString(), TokenHash: hash, AccountID: acc.ID, ExpiresAt: time.Now().Add(time.Hour),
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.WithinTx(ctx, func(tx Store) error {
				tok, err := tx.LockRefreshTokenByHash(ctx, hash)
				if err != nil {
					return err
				}
				return tx.MarkRefreshTokenRotated(ctx, tok.ID, time.Now())
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestRepoInvalidatePasswordResetTokens(t *testing.T) {
	r := NewRepository(openTestDB(t))
	ctx := context.Background()
	acc := createGormAccount(t, r)
	now := time.Now()

	live := []*entity.PasswordResetToken{
		{ID: uuid.NewString(), TokenHash: uuid.NewString(), AccountID: acc.ID, ExpiresAt: now.Add(time.Hour)},
		{ID: uuid.NewString(), TokenHash: uuid.NewString(), AccountID: acc.ID, ExpiresAt: now.Add(time.Hour)},
	}
	expired := &entity.PasswordResetToken{ID: uuid.NewString(), TokenHash: uuid.NewString(), AccountID: acc.ID, ExpiresAt: now.Add(-time.Minute)}
	for _, tok := range append(live, expired) {
		require.NoError(t, r.CreatePasswordResetToken(ctx, tok))
	}

	n, err := r.InvalidatePasswordResetTokens(ctx, acc.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, tok := range live {
		got, err := r.GetPasswordResetTokenByHash(ctx, tok.TokenHash)
		require.NoError(t, err)
		assert.True(t, got.IsUsed)
		assert.ErrorIs(t, r.MarkPasswordResetTokenUsed(ctx, tok.ID, now), ErrStaleRow, "no longer redeemable")
	}

	got, err := r.GetPasswordResetTokenByHash(ctx, expired.TokenHash)
	require.NoError(t, err)
	assert.False(t, got.IsUsed, "expired rows are left alone")

	n, err = r.InvalidatePasswordResetTokens(ctx, acc.ID, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepoDuplicateSocialCredential(t *testing.T) {
	r := NewRepository(openTestDB(t))
	ctx := context.Background()

	pid := "kakao-" + uuid.NewString()
	first := &entity.Account{ID: uuid.NewString(), Nickname: "first", Status: entity.StatusActive}
	require.NoError(t, r.CreateAccount(ctx, first,
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodKakao, ProviderID: &pid}))

	second := &entity.Account{ID: uuid.NewString(), Nickname: "second", Status: entity.StatusActive}
	err := r.CreateAccount(ctx, second,
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodKakao, ProviderID: &pid})
	assert.ErrorIs(t, err, ErrCredentialTaken)

	_, err = r.GetAccountByID(ctx, second.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound, "account insert rolled back with its credential")

	other := &entity.Account{ID: uuid.NewString(), Nickname: "other", Status: entity.StatusActive}
	require.NoError(t, r.CreateAccount(ctx, other,
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodNaver, ProviderID: &pid}),
		"the same provider id under another method is a different identity")
}

func TestRepoSetPasswordHashOnSocialAccount(t *testing.T) {
	r := NewRepository(openTestDB(t))
	ctx := context.Background()

	pid := "google-" + uuid.NewString()
	acc := &entity.Account{ID: uuid.NewString(), Nickname: "g", Status: entity.StatusActive}
	require.NoError(t, r.CreateAccount(ctx, acc,
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodGoogle, ProviderID: &pid}))

	require.NoError(t, r.SetPasswordHash(ctx, acc.ID, "h1", time.Now()))
	require.NoError(t, r.SetPasswordHash(ctx, acc.ID, "h2", time.Now()), "second call updates in place")

	creds, err := r.ListCredentials(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	cred, err := r.GetCredential(ctx, acc.ID, entity.MethodEmail)
	require.NoError(t, err)
	require.NotNil(t, cred.PasswordHash)
	assert.Equal(t, "h2", *cred.PasswordHash)
}
