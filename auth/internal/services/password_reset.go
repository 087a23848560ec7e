package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/lib/jwt"
	"github.com/dyjung/logindemo/auth/internal/lib/password"
	"github.com/dyjung/logindemo/auth/internal/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestPasswordReset answers identically whether or not the email is known,
// and returns the seconds the client should wait before asking again.
func (a *Auth) RequestPasswordReset(ctx context.Context, rawEmail string) (int, error) {
	const op = "auth.RequestPasswordReset"

	log := a.log.With(zap.String("op", op))
	retryAfter := int(a.retryAfter / time.Second)

	email := normalizeEmail(rawEmail)
	if email == "" {
		return 0, validationf("email is required")
	}

	account, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrAccountNotFound) {
			a.metrics.Reset("unknown_email")
			log.Info("password reset for unknown email")
			return retryAfter, nil
		}
		log.Error("failed to look up email", zap.Error(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(zap.String("account_id", account.ID))

	raw, hash, err := jwt.NewSecret(jwt.ResetPrefix)
	if err != nil {
		log.Error("failed to generate reset token", zap.Error(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	now := a.now()
	var superseded int64
	err = a.store.WithinTx(ctx, func(tx repo.Store) error {
		var err error
		superseded, err = tx.InvalidatePasswordResetTokens(ctx, account.ID, now)
		if err != nil {
			return err
		}
		return tx.CreatePasswordResetToken(ctx, &entity.PasswordResetToken{
			ID:        uuid.NewString(),
			TokenHash: hash,
			AccountID: account.ID,
			ExpiresAt: now.Add(a.resetTTL),
			CreatedAt: now,
		})
	})
	if err != nil {
		log.Error("failed to store reset token", zap.Error(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	a.metrics.Reset("requested")
	log.Info("password reset token issued", zap.Int64("superseded", superseded))

	a.dispatchResetMail(ctx, log, account.EmailValue(), raw)

	return retryAfter, nil
}

// dispatchResetMail sends outside the request; the response never waits on
// the mail server.
func (a *Auth) dispatchResetMail(ctx context.Context, log *zap.Logger, to, token string) {
	if a.notifier == nil {
		return
	}

	select {
	case a.mailSlots <- struct{}{}:
	default:
		a.metrics.Reset("mail_dropped")
		log.Warn("too many pending reset mails, dropping")
		return
	}

	a.mailWG.Add(1)
	go func() {
		defer a.mailWG.Done()
		defer func() { <-a.mailSlots }()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.mailTimeout)
		defer cancel()

		if err := a.notifier.SendPasswordReset(sendCtx, to, token); err != nil {
			a.metrics.Reset("mail_failed")
			log.Warn("failed to send password reset mail", zap.Error(err))
			return
		}
		a.metrics.Reset("mail_sent")
	}()
}

// Close waits for reset mails still being sent, or until ctx is done.
func (a *Auth) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.mailWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfirmPasswordReset redeems a reset token. The password update, token
// consumption and session revocation commit together.
func (a *Auth) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	const op = "auth.ConfirmPasswordReset"

	log := a.log.With(zap.String("op", op))

	if rawToken == "" {
		return ErrResetTokenInvalid
	}
	if newPassword == "" {
		return validationf("newPassword is required")
	}

	hash := jwt.HashSecret(rawToken)
	now := a.now()

	token, err := a.store.GetPasswordResetTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrTokenNotFound) {
			log.Info("unknown reset token")
			return ErrResetTokenInvalid
		}
		log.Error("failed to load reset token", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := checkRedeemable(token, now); err != nil {
		log.Info("reset token not redeemable", zap.Error(err))
		return err
	}

	log = log.With(zap.String("account_id", token.AccountID))

	passwordHash, err := a.hasher.Hash(ctx, newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return ErrPasswordTooLong
		}
		log.Error("failed to hash password", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	var revoked int64
	err = a.store.WithinTx(ctx, func(tx repo.Store) error {
		locked, err := tx.LockPasswordResetTokenByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, repo.ErrTokenNotFound) {
				return ErrResetTokenInvalid
			}
			return err
		}
		if err := checkRedeemable(locked, now); err != nil {
			return err
		}

		if err := tx.SetPasswordHash(ctx, locked.AccountID, passwordHash, now); err != nil {
			return err
		}
		if err := tx.MarkPasswordResetTokenUsed(ctx, locked.ID, now); err != nil {
			if errors.Is(err, repo.ErrStaleRow) {
				return ErrResetTokenUsed
			}
			return err
		}

		revoked, err = tx.RevokeAccountRefreshTokens(ctx, locked.AccountID, now, entity.ReasonPasswordChange)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			log.Info("reset token redeemed concurrently", zap.Error(err))
			return err
		}
		log.Error("failed to reset password", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.metrics.Reset("confirmed")
	a.metrics.Revoked(entity.ReasonPasswordChange, revoked)
	a.raiseWatermark(ctx, log, token.AccountID, now)

	log.Info("password reset", zap.Int64("revoked", revoked))
	return nil
}

func checkRedeemable(token entity.PasswordResetToken, now time.Time) error {
	switch {
	case token.IsUsed:
		return ErrResetTokenUsed
	case token.IsExpired(now):
		return ErrResetTokenExpired
	}
	return nil
}
