package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/metrics"
	"github.com/dyjung/logindemo/auth/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderRequestID  = "X-Request-Id"
	HeaderAppVersion = "X-App-Version"
	HeaderPlatform   = "X-Platform"
	HeaderDeviceID   = "X-Device-Id"

	KeyRequestID  = "request_id"
	KeyAppVersion = "app_version"
	KeyPlatform   = "platform"
	KeyDeviceID   = "device_id"
	KeyAccount    = "account"
)

var platforms = map[string]struct{}{"iOS": {}, "Android": {}, "Web": {}}

// RequestID echoes the caller's X-Request-Id or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(KeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Logger writes one line per request and records its latency.
func Logger(log *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), latency.Seconds())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("request_id", c.GetString(KeyRequestID)),
		}
		if platform := c.GetString(KeyPlatform); platform != "" {
			fields = append(fields, zap.String("platform", platform))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// ClientHeaders requires X-App-Version and a known X-Platform and exposes
// them, with the optional X-Device-Id, to handlers.
func ClientHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		version := strings.TrimSpace(c.GetHeader(HeaderAppVersion))
		if version == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing X-App-Version header"})
			return
		}

		platform := c.GetHeader(HeaderPlatform)
		if _, ok := platforms[platform]; !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Platform must be one of iOS, Android, Web"})
			return
		}

		c.Set(KeyAppVersion, version)
		c.Set(KeyPlatform, platform)
		if device := strings.TrimSpace(c.GetHeader(HeaderDeviceID)); device != "" {
			c.Set(KeyDeviceID, device)
		}
		c.Next()
	}
}

type AccessVerifier interface {
	Verify(ctx context.Context, token string) (entity.Account, error)
}

// Authenticate resolves a bearer access token when one is present. Requests
// without a valid token continue unauthenticated; store failures abort.
func Authenticate(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		account, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, services.ErrAuthentication) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Set(KeyAccount, account)
		c.Next()
	}
}

// CurrentAccount returns the account set by Authenticate.
func CurrentAccount(c *gin.Context) (entity.Account, bool) {
	v, ok := c.Get(KeyAccount)
	if !ok {
		return entity.Account{}, false
	}
	account, ok := v.(entity.Account)
	return account, ok
}

func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
