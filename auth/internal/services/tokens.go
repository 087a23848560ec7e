package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/lib/jwt"
	"github.com/dyjung/logindemo/auth/internal/repo"
	"go.uber.org/zap"
)

// Refresh rotates a refresh token: the presented row is revoked and its
// successor created in one transaction, so a token can be spent only once.
func (a *Auth) Refresh(ctx context.Context, rawToken string) (Session, error) {
	const op = "auth.Refresh"

	log := a.log.With(zap.String("op", op))

	if rawToken == "" {
		a.metrics.Refresh("invalid")
		return Session{}, ErrTokenInvalid
	}

	hash := jwt.HashSecret(rawToken)
	now := a.now()

	var (
		session Session
		reused  entity.RefreshToken
	)
	err := a.store.WithinTx(ctx, func(tx repo.Store) error {
		token, err := tx.LockRefreshTokenByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, repo.ErrTokenNotFound) {
				return ErrTokenInvalid
			}
			return err
		}

		if token.IsExpired(now) {
			return ErrTokenExpired
		}
		if token.IsRevoked {
			reused = token
			return ErrTokenRevoked
		}

		account, err := tx.GetAccountByID(ctx, token.AccountID)
		if err != nil {
			if errors.Is(err, repo.ErrAccountNotFound) {
				return ErrTokenInvalid
			}
			return err
		}
		if !account.IsActive() {
			return &AccountStatusError{Status: account.Status}
		}

		if err := tx.MarkRefreshTokenRotated(ctx, token.ID, now); err != nil {
			if errors.Is(err, repo.ErrStaleRow) {
				return ErrTokenRevoked
			}
			return err
		}

		session, err = a.issueSession(ctx, tx, account, derefString(token.DeviceID), now)
		return err
	})

	var statusErr *AccountStatusError
	switch {
	case err == nil:
		a.metrics.Refresh("success")
		a.metrics.Revoked(entity.ReasonRotated, 1)
		log.Info("refresh token rotated", zap.String("account_id", session.Account.ID))
		return session, nil
	case errors.Is(err, ErrTokenRevoked):
		a.metrics.Refresh("reuse")
		a.handleReuse(ctx, log, reused)
		return Session{}, err
	case errors.Is(err, ErrTokenExpired):
		a.metrics.Refresh("expired")
		log.Info("refresh token expired")
		return Session{}, err
	case errors.As(err, &statusErr):
		a.metrics.Refresh("inactive")
		log.Warn("refresh refused for inactive account", zap.String("status", string(statusErr.Status)))
		return Session{}, err
	case errors.Is(err, ErrTokenInvalid):
		a.metrics.Refresh("invalid")
		log.Info("unknown refresh token")
		return Session{}, err
	default:
		a.metrics.Refresh("error")
		log.Error("failed to rotate refresh token", zap.Error(err))
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
}

// handleReuse reacts to a revoked token being presented again. token is zero
// when the revocation was only observed through a lost rotation race.
func (a *Auth) handleReuse(ctx context.Context, log *zap.Logger, token entity.RefreshToken) {
	if token.ID == "" {
		log.Warn("refresh token rotated concurrently")
		return
	}

	log = log.With(zap.String("account_id", token.AccountID), zap.String("token_id", token.ID))
	log.Warn("revoked refresh token presented again",
		zap.String("revoked_reason", derefString(token.RevokedReason)))

	if !a.revokeOnReuse {
		return
	}

	now := a.now()
	n, err := a.store.RevokeAccountRefreshTokens(ctx, token.AccountID, now, entity.ReasonReuseDetected)
	if err != nil {
		log.Error("failed to revoke account tokens after reuse", zap.Error(err))
		return
	}
	a.metrics.Revoked(entity.ReasonReuseDetected, n)
	a.raiseWatermark(ctx, log, token.AccountID, now)
	log.Warn("revoked all refresh tokens after reuse", zap.Int64("revoked", n))
}

// Logout never reports unknown or missing tokens; only store failures surface.
func (a *Auth) Logout(ctx context.Context, rawToken string, allDevices bool) error {
	const op = "auth.Logout"

	log := a.log.With(zap.String("op", op), zap.Bool("all_devices", allDevices))

	if rawToken == "" {
		log.Info("logout without token")
		return nil
	}

	hash := jwt.HashSecret(rawToken)
	now := a.now()

	if !allDevices {
		n, err := a.store.RevokeRefreshTokenByHash(ctx, hash, now, entity.ReasonLogout)
		if err != nil {
			log.Error("failed to revoke refresh token", zap.Error(err))
			return fmt.Errorf("%s: %w", op, err)
		}
		a.metrics.Revoked(entity.ReasonLogout, n)
		log.Info("logged out", zap.Int64("revoked", n))
		return nil
	}

	token, err := a.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrTokenNotFound) {
			log.Info("logout-all with unknown token")
			return nil
		}
		log.Error("failed to resolve refresh token", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(zap.String("account_id", token.AccountID))

	n, err := a.store.RevokeAccountRefreshTokens(ctx, token.AccountID, now, entity.ReasonLogoutAll)
	if err != nil {
		log.Error("failed to revoke account tokens", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	a.metrics.Revoked(entity.ReasonLogoutAll, n)
	a.raiseWatermark(ctx, log, token.AccountID, now)

	log.Info("logged out from all devices", zap.Int64("revoked", n))
	return nil
}

// Verify resolves a bearer access token to its ACTIVE account. Every
// rejection is ErrTokenInvalid; store and cache failures are returned as is.
func (a *Auth) Verify(ctx context.Context, rawToken string) (entity.Account, error) {
	const op = "auth.Verify"

	log := a.log.With(zap.String("op", op))
	now := a.now()

	claims, err := a.issuer.ParseAccess(rawToken, now)
	if err != nil {
		return entity.Account{}, ErrTokenInvalid
	}

	account, err := a.store.GetAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrAccountNotFound) {
			log.Info("access token for unknown account", zap.String("account_id", claims.Subject))
			return entity.Account{}, ErrTokenInvalid
		}
		log.Error("failed to load account", zap.Error(err))
		return entity.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	if !account.IsActive() {
		log.Info("access token for inactive account",
			zap.String("account_id", account.ID), zap.String("status", string(account.Status)))
		return entity.Account{}, ErrTokenInvalid
	}

	if a.revocations != nil {
		revokedBefore, ok, err := a.revocations.RevokedBefore(ctx, account.ID)
		if err != nil {
			log.Error("failed to read access token watermark", zap.Error(err))
			return entity.Account{}, fmt.Errorf("%s: %w", op, err)
		}
		if ok && claims.IssuedAt != nil && claims.IssuedAt.Time.Before(revokedBefore) {
			log.Info("access token issued before revocation", zap.String("account_id", account.ID))
			return entity.Account{}, ErrTokenInvalid
		}
	}

	return account, nil
}
