package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/gatekeeper/internal/rate"
)

// RouteLimiters agrupa los limiters por endpoint. Uno nil deja la ruta sin
// throttling (útil en tests).
type RouteLimiters struct {
	Start      rate.Limiter
	Callback   rate.Limiter
	Exchange   rate.Limiter
	Refresh    rate.Limiter
	Logout     rate.Limiter
	MFASetup   rate.Limiter
	MFAVerify  rate.Limiter
	MFADisable rate.Limiter
	Roles      rate.Limiter
}

// RouterDeps contiene todo lo que el router necesita.
type RouterDeps struct {
	Guard   *Guard
	OAuth   *OAuthController
	Session *SessionController
	MFA     *MFAController
	Roles   *RolesController

	Limits         RouteLimiters
	AllowedOrigins []string
	Metrics        http.Handler // handler de /metrics; nil lo omite
}

// limit adapta WithRateLimit a middleware chi por ruta.
func limit(l rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return WithRateLimit(next, l)
	}
}

// NewRouter arma el router v1 con la cadena de middlewares global.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(WithRequestID)
	r.Use(WithRecover)
	r.Use(WithSecurityHeaders)
	r.Use(func(next http.Handler) http.Handler {
		return WithCORS(next, deps.AllowedOrigins)
	})
	r.Use(WithMetrics)
	r.Use(WithLogging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/oauth", func(r chi.Router) {
			r.With(limit(deps.Limits.Start)).Get("/start", deps.OAuth.Start)
			r.With(limit(deps.Limits.Callback)).Get("/callback", deps.OAuth.Callback)
		})

		r.Route("/session", func(r chi.Router) {
			r.With(limit(deps.Limits.Exchange)).Post("/exchange", deps.Session.Exchange)
			r.With(limit(deps.Limits.Refresh)).Post("/refresh", deps.Session.Refresh)
			r.With(limit(deps.Limits.Logout)).Post("/logout", deps.Session.Logout)
			r.With(deps.Guard.RequireAuth).Get("/me", deps.Session.Me)
		})

		r.Route("/mfa", func(r chi.Router) {
			r.Use(deps.Guard.RequireAuth)
			r.With(limit(deps.Limits.MFASetup)).Post("/setup", deps.MFA.Setup)
			r.With(limit(deps.Limits.MFAVerify)).Post("/verify", deps.MFA.Verify)
			r.With(limit(deps.Limits.MFADisable)).Post("/disable", deps.MFA.Disable)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Use(deps.Guard.RequireAuth)
			r.With(limit(deps.Limits.Roles), deps.Guard.RequireRoles("admin")).Post("/assign", deps.Roles.Assign)
			r.Get("/", deps.Roles.Get)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, ErrNotFound)
	})

	return r
}
