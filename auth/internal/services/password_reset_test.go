package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/lib/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) requestReset(t *testing.T, email string) string {
	t.Helper()
	_, err := f.auth.RequestPasswordReset(context.Background(), email)
	require.NoError(t, err)
	f.flushMail(t)
	return f.notifier.last(t).token
}

func TestRequestPasswordResetNoEnumeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.registerEmail(t, "exists@x.com", "pw12345678")

	known, err := f.auth.RequestPasswordReset(ctx, "exists@x.com")
	require.NoError(t, err)
	unknown, err := f.auth.RequestPasswordReset(ctx, "nouser@x.com")
	require.NoError(t, err)

	assert.Equal(t, 60, known)
	assert.Equal(t, known, unknown)

	f.flushMail(t)

	require.Len(t, f.notifier.sent, 1, "nothing is sent for unknown addresses")
	assert.Equal(t, "exists@x.com", f.notifier.sent[0].to)
	assert.Len(t, f.store.ResetTokens(s.Account.ID), 1)
}

func TestRequestPasswordResetStoresOnlyHash(t *testing.T) {
	f := newFixture(t)
	s := f.registerEmail(t, "a@b.com", "pw12345678")

	raw := f.requestReset(t, "a@b.com")
	assert.True(t, strings.HasPrefix(raw, jwt.ResetPrefix))

	rows := f.store.ResetTokens(s.Account.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, jwt.HashSecret(raw), rows[0].TokenHash)
	assert.Equal(t, epoch.Add(time.Hour), rows[0].ExpiresAt)
	assert.False(t, rows[0].IsUsed)
}

func TestRequestPasswordResetIgnoresMailFailure(t *testing.T) {
	f := newFixture(t)
	f.registerEmail(t, "a@b.com", "pw12345678")
	f.notifier.err = errors.New("smtp down")

	retry, err := f.auth.RequestPasswordReset(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 60, retry)
	f.flushMail(t)
}

// blockingNotifier holds every send until release is closed.
type blockingNotifier struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
}

func (n *blockingNotifier) SendPasswordReset(ctx context.Context, to, _ string) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, to)
	return nil
}

func TestRequestPasswordResetDoesNotWaitForMail(t *testing.T) {
	slow := &blockingNotifier{release: make(chan struct{})}
	f := newFixture(t, WithNotifier(slow))
	f.registerEmail(t, "a@b.com", "pw12345678")

	done := make(chan error, 1)
	go func() {
		_, err := f.auth.RequestPasswordReset(context.Background(), "a@b.com")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("request blocked on the mail server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.auth.Close(ctx), context.DeadlineExceeded, "mail still pending")

	close(slow.release)
	f.flushMail(t)
	assert.Equal(t, []string{"a@b.com"}, slow.got)
}

func TestRequestPasswordResetMailOutlivesRequestContext(t *testing.T) {
	f := newFixture(t)
	f.registerEmail(t, "a@b.com", "pw12345678")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.auth.RequestPasswordReset(ctx, "a@b.com")
	require.NoError(t, err)
	cancel()

	f.flushMail(t)
	assert.Equal(t, "a@b.com", f.notifier.last(t).to)
}

func TestRequestPasswordResetRequiresEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.RequestPasswordReset(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfirmPasswordResetSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerEmail(t, "a@b.com", "pw12345678")
	raw := f.requestReset(t, "a@b.com")

	require.NoError(t, f.auth.ConfirmPasswordReset(ctx, raw, "newpass123"))

	err := f.auth.ConfirmPasswordReset(ctx, raw, "another123")
	assert.ErrorIs(t, err, ErrResetTokenUsed)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.auth.Login(ctx, LoginInput{Method: entity.MethodEmail, Email: "a@b.com", Password: "newpass123"})
	assert.NoError(t, err)
	_, err = f.auth.Login(ctx, LoginInput{Method: entity.MethodEmail, Email: "a@b.com", Password: "pw12345678"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.auth.Login(ctx, LoginInput{Method: entity.MethodEmail, Email: "a@b.com", Password: "another123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestConfirmPasswordResetSupersededToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.registerEmail(t, "a@b.com", "pw12345678")

	first := f.requestReset(t, "a@b.com")
	f.clock.Advance(time.Minute)
	second := f.requestReset(t, "a@b.com")

	redeemable := 0
	for _, row := range f.store.ResetTokens(s.Account.ID) {
		if row.Redeemable(f.clock.Now()) {
			redeemable++
		}
	}
	assert.Equal(t, 1, redeemable)

	err := f.auth.ConfirmPasswordReset(ctx, first, "newpass123")
	assert.ErrorIs(t, err, ErrValidation)

	assert.NoError(t, f.auth.ConfirmPasswordReset(ctx, second, "newpass123"))
}

func TestConfirmPasswordResetRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerEmail(t, "a@b.com", "pw12345678")
	raw := f.requestReset(t, "a@b.com")

	assert.ErrorIs(t, f.auth.ConfirmPasswordReset(ctx, "pr_unknown", "newpass123"), ErrResetTokenInvalid)
	assert.ErrorIs(t, f.auth.ConfirmPasswordReset(ctx, "", "newpass123"), ErrResetTokenInvalid)
	assert.ErrorIs(t, f.auth.ConfirmPasswordReset(ctx, raw, ""), ErrValidation)

	f.clock.Advance(time.Hour + time.Second)
	assert.ErrorIs(t, f.auth.ConfirmPasswordReset(ctx, raw, "newpass123"), ErrResetTokenExpired)
}

func TestConfirmPasswordResetRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.registerEmail(t, "a@b.com", "pw12345678")
	_, err := f.auth.Login(ctx, LoginInput{Method: entity.MethodEmail, Email: "a@b.com", Password: "pw12345678"})
	require.NoError(t, err)

	raw := f.requestReset(t, "a@b.com")
	f.clock.Advance(time.Minute)
	require.NoError(t, f.auth.ConfirmPasswordReset(ctx, raw, "newpass123"))

	rows := f.store.RefreshTokens(s.Account.ID)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.IsRevoked)
		assert.Equal(t, entity.ReasonPasswordChange, *row.RevokedReason)
	}

	_, err = f.auth.Verify(ctx, s.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid, "access tokens issued before the change are refused")
}

func TestConfirmPasswordResetIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.registerEmail(t, "a@b.com", "pw12345678")
	raw := f.requestReset(t, "a@b.com")

	f.auth.store = &failingStore{Store: f.store, failRevokeAccount: true}
	err := f.auth.ConfirmPasswordReset(ctx, raw, "newpass123")
	require.ErrorIs(t, err, errInjected)
	f.auth.store = f.store

	rows := f.store.ResetTokens(s.Account.ID)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsUsed, "token not consumed")

	_, err = f.auth.Login(ctx, LoginInput{Method: entity.MethodEmail, Email: "a@b.com", Password: "pw12345678"})
	assert.NoError(t, err, "old password still valid")

	_, err = f.auth.Refresh(ctx, s.RefreshToken)
	assert.NoError(t, err, "sessions untouched")

	assert.NoError(t, f.auth.ConfirmPasswordReset(ctx, raw, "newpass123"))
}

func TestConfirmPasswordResetAddsEmailCredentialForSocialAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.auth.Register(ctx, RegisterInput{Method: entity.MethodKakao, SocialToken: "kakao-good", Nickname: "Kakao"})
	require.NoError(t, err)

	raw := f.requestReset(t, "k@example.com")
	require.NoError(t, f.auth.ConfirmPasswordReset(ctx, raw, "newpass123"))

	login, err := f.auth.Login(ctx, LoginInput{Method: entity.MethodEmail, Email: "k@example.com", Password: "newpass123"})
	require.NoError(t, err)
	assert.Equal(t, s.Account.ID, login.Account.ID)
}
