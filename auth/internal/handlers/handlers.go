package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/middleware"
	"github.com/dyjung/logindemo/auth/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgInvalidRequest     = "invalid request"
	msgInvalidCredentials = "invalid credentials"
	msgInvalidRefresh     = "invalid or expired refresh token"
	msgResetSent          = "If the email exists, a reset link has been sent"
)

type AuthHandler struct {
	auth *services.Auth
	log  *zap.Logger
}

func NewAuthHandler(auth *services.Auth, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

type deviceInfo struct {
	DeviceID   string `json:"deviceId" binding:"omitempty,max=128"`
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
}

// deviceID prefers the X-Device-Id header over the request body.
func deviceID(ctx *gin.Context, body *deviceInfo) string {
	if id := ctx.GetString(middleware.KeyDeviceID); id != "" {
		return id
	}
	if body != nil {
		return body.DeviceID
	}
	return ""
}

func parseProvider(provider string) (entity.Method, error) {
	method, ok := entity.ParseMethod(provider)
	if !ok {
		return "", services.ErrUnsupportedProvider
	}
	return method, nil
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req struct {
		Provider          string      `json:"provider" binding:"required"`
		Email             string      `json:"email" binding:"omitempty,email"`
		Password          string      `json:"password"`
		SocialAccessToken string      `json:"socialAccessToken"`
		DeviceInfo        *deviceInfo `json:"deviceInfo"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	method, err := parseProvider(req.Provider)
	if err != nil {
		writeError(ctx, h.log, "handlers.Login", err, msgInvalidCredentials)
		return
	}

	session, err := h.auth.Login(ctx.Request.Context(), services.LoginInput{
		Method:      method,
		Email:       req.Email,
		Password:    req.Password,
		SocialToken: req.SocialAccessToken,
		DeviceID:    deviceID(ctx, req.DeviceInfo),
	})
	if err != nil {
		writeError(ctx, h.log, "handlers.Login", err, msgInvalidCredentials)
		return
	}

	ctx.JSON(http.StatusOK, newSessionResponse(session))
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req struct {
		Provider          string      `json:"provider" binding:"required"`
		Email             string      `json:"email" binding:"omitempty,email"`
		Password          string      `json:"password" binding:"omitempty,min=8,max=100"`
		Nickname          string      `json:"nickname" binding:"required,min=2,max=20"`
		SocialAccessToken string      `json:"socialAccessToken"`
		MarketingConsent  bool        `json:"marketingConsent"`
		DeviceInfo        *deviceInfo `json:"deviceInfo"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	method, err := parseProvider(req.Provider)
	if err != nil {
		writeError(ctx, h.log, "handlers.Register", err, "")
		return
	}

	session, err := h.auth.Register(ctx.Request.Context(), services.RegisterInput{
		Method:           method,
		Email:            req.Email,
		Password:         req.Password,
		Nickname:         req.Nickname,
		SocialToken:      req.SocialAccessToken,
		MarketingConsent: req.MarketingConsent,
		DeviceID:         deviceID(ctx, req.DeviceInfo),
	})
	if err != nil {
		writeError(ctx, h.log, "handlers.Register", err, "")
		return
	}

	ctx.JSON(http.StatusCreated, newSessionResponse(session))
}

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	session, err := h.auth.Refresh(ctx.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(ctx, h.log, "handlers.Refresh", err, msgInvalidRefresh)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken":  session.AccessToken,
		"refreshToken": session.RefreshToken,
	})
}

// Verify relies on middleware.Authenticate having resolved the bearer token.
func (h *AuthHandler) Verify(ctx *gin.Context) {
	account, ok := middleware.CurrentAccount(ctx)
	if !ok {
		ctx.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"valid": true, "user": newUserResponse(account)})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
		AllDevices   bool   `json:"allDevices"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	if err := h.auth.Logout(ctx.Request.Context(), req.RefreshToken, req.AllDevices); err != nil {
		writeError(ctx, h.log, "handlers.Logout", err, "")
		return
	}

	message := "Successfully logged out"
	if req.AllDevices {
		message = "Logged out from all devices"
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (h *AuthHandler) FindID(ctx *gin.Context) {
	var req struct {
		Provider          string `form:"provider" binding:"required"`
		SocialAccessToken string `form:"socialAccessToken" binding:"required"`
	}

	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	method, err := parseProvider(req.Provider)
	if err != nil {
		writeError(ctx, h.log, "handlers.FindID", err, "")
		return
	}

	res, err := h.auth.FindID(ctx.Request.Context(), method, req.SocialAccessToken)
	if err != nil {
		writeError(ctx, h.log, "handlers.FindID", err, "")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"maskedEmail":   res.MaskedEmail,
		"createdAt":     res.CreatedAt,
		"linkedMethods": res.LinkedMethods,
	})
}

func (h *AuthHandler) RequestPasswordReset(ctx *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	retryAfter, err := h.auth.RequestPasswordReset(ctx.Request.Context(), req.Email)
	if err != nil {
		writeError(ctx, h.log, "handlers.RequestPasswordReset", err, "")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"sent":       true,
		"message":    msgResetSent,
		"retryAfter": retryAfter,
	})
}

func (h *AuthHandler) ConfirmPasswordReset(ctx *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required,min=8,max=100"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	if err := h.auth.ConfirmPasswordReset(ctx.Request.Context(), req.Token, req.NewPassword); err != nil {
		writeError(ctx, h.log, "handlers.ConfirmPasswordReset", err, "")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true, "message": "Password has been reset"})
}
