package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dyjung/logindemo/auth/internal/middleware"
	"github.com/dyjung/logindemo/auth/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const HeaderRefreshToken = "X-Refresh-Token"

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type SystemHandler struct {
	auth   *services.Auth
	log    *zap.Logger
	checks map[string]HealthCheck
}

func NewSystemHandler(auth *services.Auth, log *zap.Logger, checks map[string]HealthCheck) *SystemHandler {
	return &SystemHandler{auth: auth, log: log, checks: checks}
}

type appConfigResponse struct {
	MinVersion      string `json:"minVersion"`
	MaintenanceMode bool   `json:"maintenanceMode"`
	NoticeMessage   string `json:"noticeMessage,omitempty"`
}

type userContextResponse struct {
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Language string `json:"language"`
}

type autoLoginResponse struct {
	Success       bool          `json:"success"`
	User          *userResponse `json:"user,omitempty"`
	AccessToken   string        `json:"accessToken,omitempty"`
	RefreshToken  string        `json:"refreshToken,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
}

type initResponse struct {
	Config        appConfigResponse   `json:"config"`
	ForceUpdate   bool                `json:"forceUpdate"`
	IsMaintenance bool                `json:"isMaintenance"`
	UserContext   userContextResponse `json:"userContext"`
	AutoLogin     *autoLoginResponse  `json:"autoLogin,omitempty"`
}

func (h *SystemHandler) Init(ctx *gin.Context) {
	in := services.BootstrapInput{AppVersion: ctx.GetString(middleware.KeyAppVersion)}
	if values, ok := ctx.Request.Header[HeaderRefreshToken]; ok {
		token := ""
		if len(values) > 0 {
			token = values[0]
		}
		in.RefreshToken = &token
	}

	res, err := h.auth.Bootstrap(ctx.Request.Context(), in)
	if err != nil {
		writeError(ctx, h.log, "handlers.Init", err, "")
		return
	}

	resp := initResponse{
		Config: appConfigResponse{
			MinVersion:      res.Settings.MinVersion,
			MaintenanceMode: res.Settings.MaintenanceMode,
			NoticeMessage:   res.Settings.Notice,
		},
		ForceUpdate:   res.ForceUpdate,
		IsMaintenance: res.IsMaintenance,
		UserContext: userContextResponse{
			Country:  res.Settings.Country,
			Currency: res.Settings.Currency,
			Language: res.Settings.Language,
		},
	}

	if al := res.AutoLogin; al != nil {
		resp.AutoLogin = &autoLoginResponse{Success: al.Success, FailureReason: al.FailureReason}
		if al.Session != nil {
			user := newUserResponse(al.Session.Account)
			resp.AutoLogin.User = &user
			resp.AutoLogin.AccessToken = al.Session.AccessToken
			resp.AutoLogin.RefreshToken = al.Session.RefreshToken
		}
	}

	ctx.JSON(http.StatusOK, resp)
}

func (h *SystemHandler) Health(ctx *gin.Context) {
	checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(h.checks))
	for name, check := range h.checks {
		if err := check(checkCtx); err != nil {
			h.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	ctx.JSON(status, gin.H{"status": state, "checks": results})
}
