package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
env: local
storage:
  driver: memory
tokens:
  secret: s3cret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, time.Hour, cfg.Tokens.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Tokens.RefreshTTL)
	assert.Equal(t, time.Hour, cfg.Tokens.ResetTTL)
	assert.Equal(t, "bcrypt", cfg.Password.Algorithm)
	assert.False(t, cfg.Security.RevokeOnReuse)
	assert.False(t, cfg.SMTP.Enabled())
	assert.Equal(t, 2*time.Minute, cfg.SMTP.SendTimeout)
	assert.Equal(t, "8080", cfg.HTTP.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
env: local
storage:
  driver: memory
tokens:
  secret: from-file
`)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REVOKE_ON_REUSE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Tokens.Secret)
	assert.True(t, cfg.Security.RevokeOnReuse)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "missing secret in production", body: "env: production\nstorage:\n  driver: memory\n", wantErr: true},
		{name: "missing secret locally", body: "env: local\nstorage:\n  driver: memory\n"},
		{name: "unknown driver", body: "env: local\nstorage:\n  driver: sqlite\n", wantErr: true},
		{name: "negative ttl", body: "env: local\ntokens:\n  access_ttl: -1h\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5433", User: "u", Password: "p", Dbname: "auth", Sslmode: "disable"}
	assert.Equal(t, "host=db user=u password=p dbname=auth port=5433 sslmode=disable", c.DSN())
}
