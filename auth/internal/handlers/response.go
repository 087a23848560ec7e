package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/dyjung/logindemo/auth/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type userResponse struct {
	ID               string     `json:"id"`
	Email            *string    `json:"email,omitempty"`
	Nickname         string     `json:"nickname"`
	Status           string     `json:"status"`
	MarketingConsent bool       `json:"marketingConsent"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

func newUserResponse(a entity.Account) userResponse {
	resp := userResponse{
		ID:               a.ID,
		Email:            a.Email,
		Nickname:         a.Nickname,
		Status:           string(a.Status),
		MarketingConsent: a.MarketingConsent,
		CreatedAt:        a.CreatedAt,
		LastLogin:        a.LastLogin,
	}
	if !a.UpdatedAt.IsZero() {
		updated := a.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

type sessionResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
}

func newSessionResponse(s services.Session) sessionResponse {
	return sessionResponse{
		User:         newUserResponse(s.Account),
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    s.ExpiresIn,
	}
}

// writeError maps service errors onto statuses. unauthorized replaces the
// message of authentication failures so callers cannot tell them apart.
func writeError(ctx *gin.Context, log *zap.Logger, op string, err error, unauthorized string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAuthentication):
		if unauthorized == "" {
			unauthorized = err.Error()
		}
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": unauthorized})
	case errors.Is(err, services.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Error("request failed", zap.String("op", op), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
