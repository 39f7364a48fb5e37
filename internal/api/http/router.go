package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/api/http/handlers"
	"github.com/spec-kit/auth-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Keys           *handlers.KeysHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Get("/publicKey", cfg.Keys.Describe)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	protected.Get("/me", cfg.Auth.Me)

	rpc := app.Group("/rpc/auth")
	rpc.Get("/publicKey", cfg.Keys.PublicKey)
	rpc.Post("/checkPublicKey", cfg.Keys.CheckPublicKey)
}
