package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/repo"
	"go.uber.org/zap"
)

type FindIDResult struct {
	MaskedEmail   string
	CreatedAt     time.Time
	LinkedMethods []entity.Method
}

// FindID reveals, in masked form, the email of the account a verified social
// identity is linked to.
func (a *Auth) FindID(ctx context.Context, method entity.Method, socialToken string) (FindIDResult, error) {
	const op = "auth.FindID"

	log := a.log.With(zap.String("op", op), zap.String("method", string(method)))

	parsed, ok := entity.ParseMethod(string(method))
	if !ok || !parsed.IsSocial() {
		return FindIDResult{}, ErrUnsupportedProvider
	}
	if socialToken == "" {
		return FindIDResult{}, validationf("socialAccessToken is required")
	}

	identity, err := a.verifySocial(ctx, parsed, socialToken)
	if err != nil {
		log.Warn("social token not accepted", zap.Error(err))
		return FindIDResult{}, err
	}

	cred, err := a.store.GetCredentialByProvider(ctx, parsed, identity.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrCredentialNotFound) {
			log.Info("no account linked to social identity")
			return FindIDResult{}, ErrAccountNotLinked
		}
		log.Error("failed to look up social link", zap.Error(err))
		return FindIDResult{}, fmt.Errorf("%s: %w", op, err)
	}

	account, err := a.store.GetAccountByID(ctx, cred.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrAccountNotFound) {
			return FindIDResult{}, ErrAccountNotLinked
		}
		log.Error("failed to load account", zap.Error(err))
		return FindIDResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if account.Email == nil {
		log.Info("linked account has no email", zap.String("account_id", account.ID))
		return FindIDResult{}, fmt.Errorf("%w: account has no email", ErrNotFound)
	}

	creds, err := a.store.ListCredentials(ctx, account.ID)
	if err != nil {
		log.Error("failed to list credentials", zap.Error(err))
		return FindIDResult{}, fmt.Errorf("%s: %w", op, err)
	}
	methods := make([]entity.Method, 0, len(creds))
	for _, c := range creds {
		methods = append(methods, c.Method)
	}

	return FindIDResult{
		MaskedEmail:   MaskEmail(*account.Email),
		CreatedAt:     account.CreatedAt,
		LinkedMethods: methods,
	}, nil
}

// MaskEmail keeps the first two characters of the local part:
// "abcdef@example.com" becomes "ab***@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}

	local := []rune(email[:at])
	if len(local) > 2 {
		local = local[:2]
	}
	return string(local) + "***" + email[at:]
}
