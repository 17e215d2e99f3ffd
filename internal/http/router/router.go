// Package router arma las rutas HTTP sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	accountsctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/accounts"
	authflowctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/authflow"
	healthctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/health"
	sessionctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/session"
	httperrors "github.com/dropDatabas3/cilogonauth/internal/http/errors"
	mw "github.com/dropDatabas3/cilogonauth/internal/http/middlewares"
	"github.com/dropDatabas3/cilogonauth/internal/rate"
	"github.com/dropDatabas3/cilogonauth/internal/session"
)

// Deps contiene los controllers y lo que necesitan los middlewares.
type Deps struct {
	Sessions *session.Store

	AuthFlow *authflowctrl.Controller
	Accounts *accountsctrl.Controller
	Session  *sessionctrl.Controller
	Health   *healthctrl.Controller

	// Metrics es el handler de /metrics; nil = no se expone.
	Metrics http.Handler
	// Limiter para inicio de login y callback; nil = sin límite.
	Limiter rate.Limiter
	// CSRF protege los POST que cambian estado de una sesión logueada.
	CSRF mw.CSRFConfig
}

// New devuelve el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.WithRecover(), mw.WithRequestID())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed."))
	})

	// Infra: sin logging ni sesión (muy frecuentes).
	if d.Health != nil {
		r.Get("/healthz", d.Health.Healthz)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.WithLogging(), mw.WithMetrics(), mw.WithSecurityHeaders(), mw.WithSession(d.Sessions), mw.IssueCSRFCookie(d.CSRF))
		csrf := mw.WithCSRF(d.CSRF)

		r.With(mw.WithRateLimit(d.Limiter, "login"), mw.WithNoStore()).Post("/login/{providerID}", d.AuthFlow.Login)
		r.With(mw.WithRateLimit(d.Limiter, "callback"), mw.WithNoStore()).Get("/authenticate/{providerID}", d.AuthFlow.Callback)
		r.With(csrf, mw.WithNoStore()).Post("/logout", d.AuthFlow.Logout)
		r.Get("/session", d.Session.Show)

		r.Route("/user/{accountID}/connected-accounts", func(r chi.Router) {
			r.Use(mw.RequireAccount(), mw.WithNoStore())
			r.Get("/", d.Accounts.List)
			r.With(csrf, mw.WithRateLimit(d.Limiter, "login")).Post("/{providerID}/connect", d.AuthFlow.Connect)
			r.With(csrf).Post("/{providerID}/disconnect", d.Accounts.Disconnect)
		})
	})
	return r
}
