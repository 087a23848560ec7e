package routes

import (
	"net/http"

	"github.com/dyjung/logindemo/auth/internal/handlers"
	"github.com/dyjung/logindemo/auth/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, auth *handlers.AuthHandler, system *handlers.SystemHandler, verifier middleware.AccessVerifier, metrics http.Handler) {
	r.GET("/healthz", system.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/v1")
	v1.GET("/init", middleware.ClientHeaders(), system.Init)

	authGroup := v1.Group("/auth")

	// logout stays reachable for clients that lost their headers
	authGroup.POST("/logout", auth.Logout)

	client := authGroup.Group("/")
	client.Use(middleware.ClientHeaders())

	client.POST("/register", auth.Register)
	client.POST("/login", auth.Login)
	client.POST("/refresh", auth.Refresh)
	client.GET("/verify", middleware.Authenticate(verifier), auth.Verify)
	client.GET("/find-id", auth.FindID)
	client.POST("/password-reset", auth.RequestPasswordReset)
	client.PATCH("/password-confirm", auth.ConfirmPasswordReset)
}
