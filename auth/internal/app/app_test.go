package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyjung/logindemo/auth/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T, redisAddr string) *config.Config {
	t.Helper()
	return &config.Config{
		Env:     config.EnvLocal,
		HTTP:    config.HTTPConfig{Port: "0", ReadTimeout: time.Second, WriteTimeout: time.Second, ShutdownTimeout: time.Second},
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Redis:   config.RedisConfig{Addr: redisAddr},
		Tokens: config.TokensConfig{
			Secret:     "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 168 * time.Hour,
			ResetTTL:   time.Hour,
		},
		Password: config.PasswordConfig{Algorithm: "bcrypt", BcryptCost: 4},
		Reset:    config.ResetConfig{RetryAfter: time.Minute, LinkBase: "logindemo://reset-password"},
		Social:   config.SocialConfig{Timeout: time.Second},
		App:      config.AppConfig{MinVersion: "1.0.0", Country: "KR", Currency: "KRW", Language: "ko"},
	}
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(raw)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Version", "1.0.0")
	req.Header.Set("X-Platform", "Android")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAppServesAuthFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)

	a, err := New(testConfig(t, mr.Addr()), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+"/v1/auth/register", gin.H{
		"provider": "EMAIL", "email": "a@b.com", "password": "pw12345678", "nickname": "Nick",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = post(t, srv.URL+"/v1/auth/login", gin.H{"provider": "EMAIL", "email": "a@b.com", "password": "pw12345678"})
	var session struct {
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv.URL+"/v1/auth/logout", gin.H{"refreshToken": session.RefreshToken, "allDevices": true})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	keys := mr.Keys()
	require.Len(t, keys, 1, "logout-all raises the access token watermark")
	assert.True(t, strings.HasPrefix(keys[0], "auth:revoked-before:"))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","checks":{"redis":"up"}}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `auth_login_attempts_total{status="success"} 1`)
	assert.Contains(t, string(body), `auth_refresh_tokens_revoked_total{reason="Logout from all devices"}`)
	assert.Contains(t, string(body), "auth_http_request_duration_seconds")
}

func TestAppRejectsUnknownHasher(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Password.Algorithm = "md5"

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	a, err := New(testConfig(t, ""), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
