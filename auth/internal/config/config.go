package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "development"
	EnvProd  = "production"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Env      string         `yaml:"env" env:"APP_ENV" env-default:"local"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Password PasswordConfig `yaml:"password"`
	Reset    ResetConfig    `yaml:"reset"`
	Security SecurityConfig `yaml:"security"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Social   SocialConfig   `yaml:"social"`
	App      AppConfig      `yaml:"app"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type StorageConfig struct {
	Driver      string   `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	AutoMigrate bool     `yaml:"auto_migrate" env:"STORAGE_AUTO_MIGRATE" env-default:"true"`
	Postgres    DBConfig `yaml:"postgres"`
}

type DBConfig struct {
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Dbname   string `yaml:"dbname" env:"DB_NAME" env-default:"logindemo"`
	Sslmode  string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Dbname, c.Port, c.Sslmode)
}

// RedisConfig: an empty Addr disables the access-token watermark.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type TokensConfig struct {
	Secret     string        `yaml:"secret" env:"JWT_SECRET"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ACCESS_TTL" env-default:"1h"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL" env-default:"168h"`
	ResetTTL   time.Duration `yaml:"reset_ttl" env:"RESET_TTL" env-default:"1h"`
}

type PasswordConfig struct {
	Algorithm  string `yaml:"algorithm" env:"PASSWORD_ALGORITHM" env-default:"bcrypt"`
	BcryptCost int    `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

type ResetConfig struct {
	RetryAfter time.Duration `yaml:"retry_after" env-default:"60s"`
	LinkBase   string        `yaml:"link_base" env:"RESET_LINK_BASE" env-default:"logindemo://reset-password"`
}

type SecurityConfig struct {
	RevokeOnReuse bool `yaml:"revoke_on_reuse" env:"REVOKE_ON_REUSE" env-default:"false"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`

	// SendTimeout bounds one background delivery, retries included.
	SendTimeout time.Duration `yaml:"send_timeout" env:"SMTP_SEND_TIMEOUT" env-default:"2m"`
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type SocialConfig struct {
	KakaoUserInfoURL  string        `yaml:"kakao_userinfo_url" env-default:"https://kapi.kakao.com/v2/user/me"`
	NaverUserInfoURL  string        `yaml:"naver_userinfo_url" env-default:"https://openapi.naver.com/v1/nid/me"`
	GoogleUserInfoURL string        `yaml:"google_userinfo_url" env-default:"https://www.googleapis.com/oauth2/v3/userinfo"`
	AppleClientID     string        `yaml:"apple_client_id" env:"APPLE_CLIENT_ID"`
	AppleJWKSURL      string        `yaml:"apple_jwks_url" env-default:"https://appleid.apple.com/auth/keys"`
	Timeout           time.Duration `yaml:"timeout" env-default:"5s"`
}

type AppConfig struct {
	MinVersion      string `yaml:"min_version" env:"APP_MIN_VERSION" env-default:"1.0.0"`
	MaintenanceMode bool   `yaml:"maintenance_mode" env:"APP_MAINTENANCE" env-default:"false"`
	Notice          string `yaml:"notice" env:"APP_NOTICE"`
	Country         string `yaml:"country" env-default:"KR"`
	Currency        string `yaml:"currency" env-default:"KRW"`
	Language        string `yaml:"language" env-default:"ko"`
}

// Load reads the YAML file at path, or only the environment when path is
// empty, after loading a .env file if one exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Tokens.Secret == "" {
		if c.Env != EnvLocal {
			return errors.New("tokens.secret is required outside local")
		}
		c.Tokens.Secret = "local-dev-secret"
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}
