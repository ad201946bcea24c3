// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/machine-treatments/internal/handler"
	"github.com/iliyamo/machine-treatments/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the session endpoints.  register, login and refresh
// sit behind limiter; /api/me requires a valid access token.  Logout accepts
// either a refresh token or a bearer token, so it is not wrapped in JWTAuth.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/api")
	g.POST("/register", a.Register, limiter)
	g.POST("/login", a.Login, limiter)
	g.POST("/refresh", a.Refresh, limiter)
	g.POST("/logout", a.Logout)
	g.GET("/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterTreatments registers the treatment catalogue.  Reads are public
// and served through cache; writes require a valid access token.
//
// GET /api/treatments/:machineType and PUT|DELETE /api/treatments/:id share
// a path segment; Echo keys param names per method, so both names resolve.
func RegisterTreatments(e *echo.Echo, t *handler.TreatmentHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	g := e.Group("/api/treatments")
	g.GET("", t.ListAll, cache)
	g.GET("/:machineType", t.ListByType, cache)

	auth := middleware.JWTAuth(jwtSecret)
	g.POST("", t.Create, auth)
	g.PUT("/:id", t.Update, auth)
	g.DELETE("/:id", t.Delete, auth)
}
