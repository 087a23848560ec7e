package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/lib/jwt"
	"github.com/dyjung/logindemo/auth/internal/metrics"
	"github.com/dyjung/logindemo/auth/internal/repo"
	"github.com/dyjung/logindemo/auth/internal/social"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultResetTTL   = time.Hour
	defaultRetryAfter = 60 * time.Second

	defaultMailTimeout = 2 * time.Minute
	maxPendingMails    = 64
)

type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, encoded string) (bool, error)
}

// RevocationStorage holds the per-account instant before which access
// tokens are no longer honoured.
type RevocationStorage interface {
	RevokeBefore(ctx context.Context, accountID string, at time.Time, ttl time.Duration) error
	RevokedBefore(ctx context.Context, accountID string) (time.Time, bool, error)
}

type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, to, token string) error
}

type SocialVerifier interface {
	Verify(ctx context.Context, method entity.Method, token string) (social.Identity, error)
}

type Auth struct {
	log         *zap.Logger
	store       repo.Store
	hasher      PasswordHasher
	issuer      *jwt.Issuer
	revocations RevocationStorage
	notifier    ResetNotifier
	social      SocialVerifier
	metrics     *metrics.Metrics
	now         func() time.Time

	refreshTTL    time.Duration
	resetTTL      time.Duration
	retryAfter    time.Duration
	revokeOnReuse bool
	app           AppSettings

	mailTimeout time.Duration
	mailSlots   chan struct{}
	mailWG      sync.WaitGroup
}

type Option func(*Auth)

func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

func WithRevocationStorage(r RevocationStorage) Option {
	return func(a *Auth) { a.revocations = r }
}

func WithNotifier(n ResetNotifier) Option {
	return func(a *Auth) { a.notifier = n }
}

func WithSocialVerifier(v SocialVerifier) Option {
	return func(a *Auth) { a.social = v }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auth) { a.metrics = m }
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(a *Auth) { a.refreshTTL = ttl }
}

func WithResetTTL(ttl time.Duration) Option {
	return func(a *Auth) { a.resetTTL = ttl }
}

func WithRetryAfter(d time.Duration) Option {
	return func(a *Auth) { a.retryAfter = d }
}

// WithRevokeOnReuse makes presenting an already-rotated refresh token revoke
// every active token of its account.
func WithRevokeOnReuse(on bool) Option {
	return func(a *Auth) { a.revokeOnReuse = on }
}

// WithMailTimeout bounds one background reset mail delivery, retries included.
// Non-positive values keep the default.
func WithMailTimeout(d time.Duration) Option {
	return func(a *Auth) {
		if d > 0 {
			a.mailTimeout = d
		}
	}
}

func WithAppSettings(s AppSettings) Option {
	return func(a *Auth) { a.app = s }
}

func NewAuth(log *zap.Logger, store repo.Store, hasher PasswordHasher, issuer *jwt.Issuer, opts ...Option) *Auth {
	a := &Auth{
		log:        log,
		store:      store,
		hasher:     hasher,
		issuer:     issuer,
		now:        time.Now,
		refreshTTL: defaultRefreshTTL,
		resetTTL:   defaultResetTTL,
		retryAfter: defaultRetryAfter,
		app:        AppSettings{MinVersion: "1.0.0"},

		mailTimeout: defaultMailTimeout,
		mailSlots:   make(chan struct{}, maxPendingMails),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Session is the result of every operation that hands out credentials.
// RefreshToken is the raw secret; only Record.TokenHash is persisted.
type Session struct {
	Account         entity.Account
	AccessToken     string
	AccessExpiresAt time.Time
	ExpiresIn       int64
	RefreshToken    string
	Record          entity.RefreshToken
}

// issueSession mints an access token and inserts exactly one new refresh row.
func (a *Auth) issueSession(ctx context.Context, tx repo.Store, account entity.Account, deviceID string, now time.Time) (Session, error) {
	pair, err := a.issuer.NewTokenPair(account.ID, deviceID, now)
	if err != nil {
		return Session{}, err
	}

	record := entity.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: pair.RefreshTokenHash,
		AccountID: account.ID,
		ExpiresAt: now.Add(a.refreshTTL),
		CreatedAt: now,
	}
	if deviceID != "" {
		record.DeviceID = &deviceID
	}

	if err := tx.CreateRefreshToken(ctx, &record); err != nil {
		return Session{}, fmt.Errorf("store refresh token: %w", err)
	}

	return Session{
		Account:         account,
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		ExpiresIn:       int64(a.issuer.AccessTTL().Seconds()),
		RefreshToken:    pair.RefreshToken,
		Record:          record,
	}, nil
}

// raiseWatermark stops every access token of the account issued before now.
// Failures are logged: the refresh rows are already revoked by then.
func (a *Auth) raiseWatermark(ctx context.Context, log *zap.Logger, accountID string, now time.Time) {
	if a.revocations == nil {
		return
	}
	if err := a.revocations.RevokeBefore(ctx, accountID, now, a.issuer.AccessTTL()); err != nil {
		log.Warn("failed to raise access token watermark", zap.Error(err))
	}
}

func (a *Auth) verifySocial(ctx context.Context, method entity.Method, token string) (social.Identity, error) {
	if a.social == nil {
		return social.Identity{}, ErrUnsupportedProvider
	}

	id, err := a.social.Verify(ctx, method, token)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, social.ErrUnsupportedProvider):
		return social.Identity{}, ErrUnsupportedProvider
	case errors.Is(err, social.ErrInvalidToken):
		return social.Identity{}, ErrSocialRejected
	default:
		return social.Identity{}, fmt.Errorf("verify social token: %w", err)
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
