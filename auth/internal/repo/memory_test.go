package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, m *Memory, email string) entity.Account {
	t.Helper()

	hash := "hash"
	account := &entity.Account{ID: uuid.NewString(), Email: &email, Nickname: "nick", CreatedAt: t0}
	cred := &entity.Credential{ID: uuid.NewString(), Method: entity.MethodEmail, PasswordHash: &hash}
	require.NoError(t, m.CreateAccount(context.Background(), account, cred))
	return *account
}

func TestMemoryCreateAccountUniqueness(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "a@example.com")

	email := "a@example.com"
	err := m.CreateAccount(ctx,
		&entity.Account{ID: uuid.NewString(), Email: &email, Nickname: "other"},
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodEmail},
	)
	assert.ErrorIs(t, err, ErrEmailTaken)

	pid := "kakao-1"
	require.NoError(t, m.CreateAccount(ctx,
		&entity.Account{ID: uuid.NewString(), Nickname: "social"},
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodKakao, ProviderID: &pid},
	))
	err = m.CreateAccount(ctx,
		&entity.Account{ID: uuid.NewString(), Nickname: "social2"},
		&entity.Credential{ID: uuid.NewString(), Method: entity.MethodKakao, ProviderID: &pid},
	)
	assert.ErrorIs(t, err, ErrCredentialTaken)
}

func TestMemoryWithinTxRollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	acc := seedAccount(t, m, "rb@example.com")

	require.NoError(t, m.CreateRefreshToken(ctx, &entity.RefreshToken{
		ID: uuid.NewString(), TokenHash: "h1", AccountID: acc.ID, ExpiresAt: t0.Add(time.Hour), CreatedAt: t0,
	}))

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.RevokeAccountRefreshTokens(ctx, acc.ID, t0, entity.ReasonLogoutAll); err != nil {
			return err
		}
		if err := tx.SetPasswordHash(ctx, acc.ID, "new", t0); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tok, err := m.GetRefreshTokenByHash(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, tok.IsRevoked)

	cred, err := m.GetCredential(ctx, acc.ID, entity.MethodEmail)
	require.NoError(t, err)
	assert.Equal(t, "hash", *cred.PasswordHash)
}

func TestMemoryMarkRefreshTokenRotatedOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	acc := seedAccount(t, m, "rot@example.com")

	tok := &entity.RefreshToken{ID: uuid.NewString(), TokenHash: "h", AccountID: acc.ID, ExpiresAt: t0.Add(time.Hour)}
	require.NoError(t, m.CreateRefreshToken(ctx, tok))

	require.NoError(t, m.MarkRefreshTokenRotated(ctx, tok.ID, t0))
	assert.ErrorIs(t, m.MarkRefreshTokenRotated(ctx, tok.ID, t0), ErrStaleRow)

	got, err := m.GetRefreshTokenByHash(ctx, "h")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	assert.Equal(t, 1, got.UsageCount)
	require.NotNil(t, got.RevokedReason)
	assert.Equal(t, entity.ReasonRotated, *got.RevokedReason)
}

func TestMemoryInvalidatePasswordResetTokens(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	acc := seedAccount(t, m, "reset@example.com")

	live := &entity.PasswordResetToken{ID: uuid.NewString(), TokenHash: "live", AccountID: acc.ID, ExpiresAt: t0.Add(time.Hour), CreatedAt: t0}
	expired := &entity.PasswordResetToken{ID: uuid.NewString(), TokenHash: "old", AccountID: acc.ID, ExpiresAt: t0.Add(-time.Minute), CreatedAt: t0.Add(-time.Hour)}
	require.NoError(t, m.CreatePasswordResetToken(ctx, live))
	require.NoError(t, m.CreatePasswordResetToken(ctx, expired))

	n, err := m.InvalidatePasswordResetTokens(ctx, acc.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := m.GetPasswordResetTokenByHash(ctx, "old")
	require.NoError(t, err)
	assert.False(t, got.IsUsed, "expired rows are left alone")

	assert.ErrorIs(t, m.MarkPasswordResetTokenUsed(ctx, live.ID, t0), ErrStaleRow)
}

func TestMemorySetPasswordHashCreatesEmailCredential(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	pid := "g-1"
	acc := &entity.Account{ID: uuid.NewString(), Nickname: "g"}
	require.NoError(t, m.CreateAccount(ctx, acc, &entity.Credential{ID: uuid.NewString(), Method: entity.MethodGoogle, ProviderID: &pid}))

	require.NoError(t, m.SetPasswordHash(ctx, acc.ID, "pw", t0))

	creds, err := m.ListCredentials(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	cred, err := m.GetCredential(ctx, acc.ID, entity.MethodEmail)
	require.NoError(t, err)
	assert.True(t, cred.HasPassword())
}
