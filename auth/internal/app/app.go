package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/dyjung/logindemo/auth/internal/cache"
	"github.com/dyjung/logindemo/auth/internal/config"
	"github.com/dyjung/logindemo/auth/internal/email"
	"github.com/dyjung/logindemo/auth/internal/handlers"
	"github.com/dyjung/logindemo/auth/internal/lib/jwt"
	"github.com/dyjung/logindemo/auth/internal/lib/password"
	"github.com/dyjung/logindemo/auth/internal/metrics"
	"github.com/dyjung/logindemo/auth/internal/middleware"
	"github.com/dyjung/logindemo/auth/internal/repo"
	"github.com/dyjung/logindemo/auth/internal/routes"
	"github.com/dyjung/logindemo/auth/internal/services"
	"github.com/dyjung/logindemo/auth/internal/social"
	"github.com/dyjung/logindemo/auth/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	log     *zap.Logger
	cfg     *config.Config
	server  *http.Server
	auth    *services.Auth
	closers []func() error
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	const op = "app.New"

	a := &App{log: log, cfg: cfg}
	checks := map[string]handlers.HealthCheck{}

	store, err := a.openStore(checks)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hasher, err := password.NewHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := []services.Option{
		services.WithMetrics(m),
		services.WithRefreshTTL(cfg.Tokens.RefreshTTL),
		services.WithResetTTL(cfg.Tokens.ResetTTL),
		services.WithRetryAfter(cfg.Reset.RetryAfter),
		services.WithMailTimeout(cfg.SMTP.SendTimeout),
		services.WithRevokeOnReuse(cfg.Security.RevokeOnReuse),
		services.WithSocialVerifier(social.NewRegistryFromConfig(cfg.Social)),
		services.WithAppSettings(services.AppSettings{
			MinVersion:      cfg.App.MinVersion,
			MaintenanceMode: cfg.App.MaintenanceMode,
			Notice:          cfg.App.Notice,
			Country:         cfg.App.Country,
			Currency:        cfg.App.Currency,
			Language:        cfg.App.Language,
		}),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		opts = append(opts, services.WithRevocationStorage(cache.NewRedisRevocationStorage(client)))
	} else {
		log.Warn("redis not configured, access tokens stay valid until expiry after revocation")
	}

	if cfg.SMTP.Enabled() {
		opts = append(opts, services.WithNotifier(email.NewSMTPClient(
			log, cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From, cfg.Reset.LinkBase,
		)))
	} else {
		opts = append(opts, services.WithNotifier(email.NewLogNotifier(log)))
	}

	issuer := jwt.NewIssuer(cfg.Tokens.Secret, cfg.Tokens.AccessTTL)
	auth := services.NewAuth(log, store, hasher, issuer, opts...)
	a.auth = auth

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log, m))

	routes.RegisterRoutes(r,
		handlers.NewAuthHandler(auth, log),
		handlers.NewSystemHandler(auth, log, checks),
		auth,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	a.server = &http.Server{
		Addr:         net.JoinHostPort("", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return a, nil
}

func (a *App) openStore(checks map[string]handlers.HealthCheck) (repo.Store, error) {
	if a.cfg.Storage.Driver == config.DriverMemory {
		a.log.Warn("using in-memory storage, data is lost on restart")
		return repo.NewMemory(), nil
	}

	db, err := storage.InitDB(a.cfg.Storage.Postgres, a.cfg.Storage.AutoMigrate)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlDB.Close)
	checks["postgres"] = sqlDB.PingContext

	return repo.NewRepository(db), nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	const op = "app.Run"

	defer a.close()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server started", zap.String("addr", a.server.Addr), zap.String("env", a.cfg.Env))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down", zap.Duration("timeout", a.cfg.HTTP.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", op, err)
	}
	if err := a.auth.Close(shutdownCtx); err != nil {
		a.log.Warn("reset mails still pending at shutdown", zap.Error(err))
	}
	return nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
