package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Extra-Chill/extrachill-users/internal/config"
	"github.com/Extra-Chill/extrachill-users/internal/http/handler"
	"github.com/Extra-Chill/extrachill-users/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *middleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/google", authHandler.GoogleLogin)
		authGroup.POST("/refresh", authHandler.Refresh)

		authGroup.POST("/logout", authMiddleware.RequireBearer, authHandler.Logout)
		authGroup.GET("/me", authMiddleware.RequireBearer, authHandler.Me)

		handoff := authGroup.Group("/handoff")
		{
			handoff.POST("", authMiddleware.RequireBearer, authHandler.HandoffRequest)
			handoff.GET("/redeem", authHandler.HandoffRedeem)
		}
	}

	return r
}
