package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// AppSettings is the client-facing runtime configuration served at startup.
type AppSettings struct {
	MinVersion      string
	MaintenanceMode bool
	Notice          string
	Country         string
	Currency        string
	Language        string
}

const (
	AutoLoginNoToken          = "NO_TOKEN"
	AutoLoginTokenExpired     = "TOKEN_EXPIRED"
	AutoLoginTokenInvalid     = "TOKEN_INVALID"
	AutoLoginAccountSleep     = "ACCOUNT_SLEEP"
	AutoLoginAccountSuspended = "ACCOUNT_SUSPENDED"
	AutoLoginAccountDeleted   = "ACCOUNT_DELETED"
)

type BootstrapInput struct {
	AppVersion string
	// RefreshToken is nil when the client sent no token at all, which skips
	// auto-login entirely.
	RefreshToken *string
}

type AutoLoginResult struct {
	Success       bool
	Session       *Session
	FailureReason string
}

type BootstrapResult struct {
	Settings      AppSettings
	ForceUpdate   bool
	IsMaintenance bool
	AutoLogin     *AutoLoginResult
}

func (a *Auth) Bootstrap(ctx context.Context, in BootstrapInput) (BootstrapResult, error) {
	const op = "auth.Bootstrap"

	log := a.log.With(zap.String("op", op), zap.String("app_version", in.AppVersion))

	res := BootstrapResult{
		Settings:      a.app,
		ForceUpdate:   NeedsUpdate(in.AppVersion, a.app.MinVersion),
		IsMaintenance: a.app.MaintenanceMode,
	}
	if in.RefreshToken == nil {
		return res, nil
	}

	if *in.RefreshToken == "" {
		res.AutoLogin = &AutoLoginResult{FailureReason: AutoLoginNoToken}
		return res, nil
	}

	session, err := a.Refresh(ctx, *in.RefreshToken)
	if err != nil {
		reason, ok := autoLoginFailure(err)
		if !ok {
			return BootstrapResult{}, err
		}
		log.Info("auto-login failed", zap.String("reason", reason))
		res.AutoLogin = &AutoLoginResult{FailureReason: reason}
		return res, nil
	}

	res.AutoLogin = &AutoLoginResult{Success: true, Session: &session}
	return res, nil
}

func autoLoginFailure(err error) (string, bool) {
	var statusErr *AccountStatusError
	switch {
	case errors.As(err, &statusErr):
		switch statusErr.Status {
		case entity.StatusSleep:
			return AutoLoginAccountSleep, true
		case entity.StatusSuspended:
			return AutoLoginAccountSuspended, true
		case entity.StatusDeleted:
			return AutoLoginAccountDeleted, true
		}
		return AutoLoginTokenInvalid, true
	case errors.Is(err, ErrTokenExpired):
		return AutoLoginTokenExpired, true
	case errors.Is(err, ErrAuthentication):
		return AutoLoginTokenInvalid, true
	}
	return "", false
}

// NeedsUpdate reports whether appVersion is semver-lower than minVersion.
// An unparseable app version needs an update; an unparseable minimum never
// forces one.
func NeedsUpdate(appVersion, minVersion string) bool {
	required := canonicalVersion(minVersion)
	if !semver.IsValid(required) {
		return false
	}
	current := canonicalVersion(appVersion)
	if !semver.IsValid(current) {
		return true
	}
	return semver.Compare(current, required) < 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
