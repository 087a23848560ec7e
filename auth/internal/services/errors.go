package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dyjung/logindemo/auth/internal/entity"
)

// Error classes. Handlers map these to HTTP statuses; every specific error
// below wraps exactly one of them.
var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrAuthentication = errors.New("authentication failed")
	ErrNotFound       = errors.New("not found")
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthentication)
	ErrTokenInvalid       = fmt.Errorf("%w: invalid token", ErrAuthentication)
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrAuthentication)
	ErrTokenRevoked       = fmt.Errorf("%w: token revoked", ErrAuthentication)
	ErrSocialRejected     = fmt.Errorf("%w: social token rejected", ErrAuthentication)

	ErrEmailExists  = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrSocialLinked = fmt.Errorf("%w: social account already registered", ErrConflict)

	ErrResetTokenInvalid   = fmt.Errorf("%w: invalid or expired reset token", ErrValidation)
	ErrResetTokenUsed      = fmt.Errorf("%w: reset token already used", ErrValidation)
	ErrResetTokenExpired   = fmt.Errorf("%w: reset token expired", ErrValidation)
	ErrUnsupportedProvider = fmt.Errorf("%w: unsupported provider", ErrValidation)
	ErrPasswordTooLong     = fmt.Errorf("%w: password too long", ErrValidation)

	ErrAccountNotLinked = fmt.Errorf("%w: no account linked to this social login", ErrNotFound)
)

// AccountStatusError rejects a non-ACTIVE account. The status is for logs;
// callers facing end users should only rely on it being an ErrAuthentication.
type AccountStatusError struct {
	Status entity.AccountStatus
}

func (e *AccountStatusError) Error() string {
	return "account is " + strings.ToLower(string(e.Status))
}

func (e *AccountStatusError) Unwrap() error {
	return ErrAuthentication
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
