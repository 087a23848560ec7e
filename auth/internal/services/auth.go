package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/lib/password"
	"github.com/dyjung/logindemo/auth/internal/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RegisterInput struct {
	Method           entity.Method
	Email            string
	Password         string
	Nickname         string
	SocialToken      string
	MarketingConsent bool
	DeviceID         string
}

type LoginInput struct {
	Method      entity.Method
	Email       string
	Password    string
	SocialToken string
	DeviceID    string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Auth) Register(ctx context.Context, in RegisterInput) (Session, error) {
	const op = "auth.Register"

	log := a.log.With(zap.String("op", op), zap.String("method", string(in.Method)))
	log.Info("registering account")

	method, ok := entity.ParseMethod(string(in.Method))
	if !ok {
		return Session{}, validationf("unknown provider %q", in.Method)
	}
	nickname := strings.TrimSpace(in.Nickname)
	if n := utf8.RuneCountInString(nickname); n < 2 || n > 20 {
		return Session{}, validationf("nickname must be 2 to 20 characters")
	}

	email := normalizeEmail(in.Email)
	credential := &entity.Credential{ID: uuid.NewString(), Method: method}

	if method == entity.MethodEmail {
		if email == "" || in.Password == "" {
			return Session{}, validationf("email and password are required")
		}
		if _, err := a.store.GetAccountByEmail(ctx, email); err == nil {
			log.Info("email already registered")
			return Session{}, ErrEmailExists
		} else if !errors.Is(err, repo.ErrAccountNotFound) {
			log.Error("failed to look up email", zap.Error(err))
			return Session{}, fmt.Errorf("%s: %w", op, err)
		}

		hash, err := a.hasher.Hash(ctx, in.Password)
		if err != nil {
			if errors.Is(err, password.ErrPasswordTooLong) {
				return Session{}, ErrPasswordTooLong
			}
			log.Error("failed to hash password", zap.Error(err))
			return Session{}, fmt.Errorf("%s: %w", op, err)
		}
		credential.PasswordHash = &hash
	} else {
		if in.SocialToken == "" {
			return Session{}, validationf("socialAccessToken is required")
		}
		identity, err := a.verifySocial(ctx, method, in.SocialToken)
		if err != nil {
			log.Warn("social token not accepted", zap.Error(err))
			return Session{}, err
		}

		if _, err := a.store.GetCredentialByProvider(ctx, method, identity.Subject); err == nil {
			log.Info("social account already registered")
			return Session{}, ErrSocialLinked
		} else if !errors.Is(err, repo.ErrCredentialNotFound) {
			log.Error("failed to look up social link", zap.Error(err))
			return Session{}, fmt.Errorf("%s: %w", op, err)
		}
		credential.ProviderID = &identity.Subject

		if email == "" {
			email = a.unclaimedEmail(ctx, normalizeEmail(identity.Email))
		}
	}

	now := a.now()
	account := entity.Account{
		ID:               uuid.NewString(),
		Nickname:         nickname,
		Status:           entity.StatusActive,
		MarketingConsent: in.MarketingConsent,
		CreatedAt:        now,
		LastLogin:        &now,
		UpdatedAt:        now,
	}
	if email != "" {
		account.Email = &email
	}
	credential.CreatedAt = now
	credential.UpdatedAt = now

	var session Session
	err := a.store.WithinTx(ctx, func(tx repo.Store) error {
		if err := tx.CreateAccount(ctx, &account, credential); err != nil {
			return err
		}
		var err error
		session, err = a.issueSession(ctx, tx, account, in.DeviceID, now)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrEmailTaken):
			log.Info("email claimed concurrently")
			return Session{}, ErrEmailExists
		case errors.Is(err, repo.ErrCredentialTaken):
			log.Info("credential claimed concurrently")
			return Session{}, ErrSocialLinked
		}
		log.Error("failed to create account", zap.Error(err))
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account registered", zap.String("account_id", account.ID))
	return session, nil
}

// unclaimedEmail returns email when no account uses it yet, otherwise "".
func (a *Auth) unclaimedEmail(ctx context.Context, email string) string {
	if email == "" {
		return ""
	}
	if _, err := a.store.GetAccountByEmail(ctx, email); errors.Is(err, repo.ErrAccountNotFound) {
		return email
	}
	return ""
}

func (a *Auth) Login(ctx context.Context, in LoginInput) (Session, error) {
	const op = "auth.Login"

	log := a.log.With(zap.String("op", op), zap.String("method", string(in.Method)))
	log.Info("attempting to login")

	method, ok := entity.ParseMethod(string(in.Method))
	if !ok {
		return Session{}, validationf("unknown provider %q", in.Method)
	}

	var (
		account entity.Account
		err     error
	)
	if method == entity.MethodEmail {
		account, err = a.authenticatePassword(ctx, log, in.Email, in.Password)
	} else {
		account, err = a.authenticateSocial(ctx, log, method, in.SocialToken)
	}
	if err != nil {
		status := loginStatus(err)
		a.metrics.Login(status)
		if status == "error" {
			return Session{}, fmt.Errorf("%s: %w", op, err)
		}
		return Session{}, err
	}

	if !account.IsActive() {
		log.Warn("login refused for inactive account",
			zap.String("account_id", account.ID), zap.String("status", string(account.Status)))
		a.metrics.Login("inactive")
		return Session{}, &AccountStatusError{Status: account.Status}
	}

	now := a.now()
	var session Session
	err = a.store.WithinTx(ctx, func(tx repo.Store) error {
		if err := tx.TouchLastLogin(ctx, account.ID, now); err != nil {
			return err
		}
		account.LastLogin = &now
		account.UpdatedAt = now

		var err error
		session, err = a.issueSession(ctx, tx, account, in.DeviceID, now)
		return err
	})
	if err != nil {
		log.Error("failed to issue session", zap.Error(err))
		a.metrics.Login("error")
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	a.metrics.Login("success")
	log.Info("successfully logged in", zap.String("account_id", account.ID))
	return session, nil
}

func (a *Auth) authenticatePassword(ctx context.Context, log *zap.Logger, rawEmail, plain string) (entity.Account, error) {
	email := normalizeEmail(rawEmail)
	if email == "" || plain == "" {
		return entity.Account{}, validationf("email and password are required")
	}

	account, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrAccountNotFound) {
			log.Info("unknown email")
			return entity.Account{}, ErrInvalidCredentials
		}
		log.Error("failed to find account", zap.Error(err))
		return entity.Account{}, err
	}

	cred, err := a.store.GetCredential(ctx, account.ID, entity.MethodEmail)
	if err != nil {
		if errors.Is(err, repo.ErrCredentialNotFound) {
			log.Info("account has no password credential", zap.String("account_id", account.ID))
			return entity.Account{}, ErrInvalidCredentials
		}
		log.Error("failed to load credential", zap.Error(err))
		return entity.Account{}, err
	}
	if !cred.HasPassword() {
		log.Info("account has no password credential", zap.String("account_id", account.ID))
		return entity.Account{}, ErrInvalidCredentials
	}

	ok, err := a.hasher.Verify(ctx, plain, *cred.PasswordHash)
	if err != nil {
		log.Error("stored password hash unreadable", zap.String("account_id", account.ID), zap.Error(err))
		return entity.Account{}, err
	}
	if !ok {
		log.Info("invalid credentials", zap.String("account_id", account.ID))
		return entity.Account{}, ErrInvalidCredentials
	}

	return account, nil
}

func (a *Auth) authenticateSocial(ctx context.Context, log *zap.Logger, method entity.Method, token string) (entity.Account, error) {
	if token == "" {
		return entity.Account{}, validationf("socialAccessToken is required")
	}

	identity, err := a.verifySocial(ctx, method, token)
	if err != nil {
		log.Warn("social token not accepted", zap.Error(err))
		return entity.Account{}, err
	}

	cred, err := a.store.GetCredentialByProvider(ctx, method, identity.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrCredentialNotFound) {
			log.Info("no account linked to social identity")
			return entity.Account{}, ErrInvalidCredentials
		}
		log.Error("failed to look up social link", zap.Error(err))
		return entity.Account{}, err
	}

	account, err := a.store.GetAccountByID(ctx, cred.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrAccountNotFound) {
			return entity.Account{}, ErrInvalidCredentials
		}
		log.Error("failed to load account", zap.Error(err))
		return entity.Account{}, err
	}
	return account, nil
}

func loginStatus(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrAuthentication):
		return "failure"
	default:
		return "error"
	}
}
