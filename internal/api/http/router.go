package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/dualauth/internal/api/http/handlers"
	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/config"
	"github.com/spec-kit/dualauth/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Customer       *handlers.CustomerHandler
	Staff          *handlers.StaffHandler
	Authz          *handlers.AuthzHandler
	JWKS           *handlers.JWKSHandler
	Keys           *handlers.KeysHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimit      config.RateLimitConfig
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	limited := loginRateLimiter(cfg.RateLimit.LoginRequestsPerSecond, cfg.RateLimit.LoginBurst)

	authGroup := app.Group("/auth")
	authGroup.Post("/customer/login", limited, cfg.Customer.Login)
	authGroup.Post("/customer/refresh", cfg.Customer.Refresh)
	authGroup.Post("/staff/login", limited, cfg.Staff.Login)
	authGroup.Post("/staff/mfa-verify", limited, cfg.Staff.VerifyMFA)
	authGroup.Post("/staff/refresh", cfg.Staff.Refresh)
	authGroup.Get("/:domain/.well-known/jwks.json", cfg.JWKS.KeySet)

	customer := app.Group("/customer", cfg.AuthMiddleware.RequireDomain(domain.DomainCustomer))
	customer.Get("/me", cfg.Customer.Me)

	staff := app.Group("/staff", cfg.AuthMiddleware.RequireDomain(domain.DomainStaff))
	staff.Get("/me", cfg.Staff.Me)
	staff.Get("/signing-keys", auth.RequireRole(domain.RoleManager), cfg.Keys.Status)
	staff.Post("/signing-keys/refresh", auth.RequirePermission(domain.DomainStaff, domain.PermSettingsManage), cfg.Keys.Refresh)

	authz := app.Group("/authz")
	authz.Post("/customer/check", cfg.AuthMiddleware.RequireDomain(domain.DomainCustomer), cfg.Authz.Check(domain.DomainCustomer))
	authz.Post("/staff/check", cfg.AuthMiddleware.RequireDomain(domain.DomainStaff), cfg.Authz.Check(domain.DomainStaff))
}
