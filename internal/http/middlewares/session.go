package middlewares

import (
	"net/http"

	httperrors "github.com/dropDatabas3/cilogonauth/internal/http/errors"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
	"github.com/dropDatabas3/cilogonauth/internal/session"
)

// WithSession carga la sesión del browser y la deja en el contexto. Guardarla
// es responsabilidad del controller, antes de escribir el status.
func WithSession(st *session.Store) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := st.Load(r)
			if err != nil {
				logger.From(r.Context()).Error("session load failed", logger.Err(err))
				httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionValue(r.Context(), sess)))
		})
	}
}

// RequireAccount corta con 401 si la sesión no tiene cuenta logueada.
func RequireAccount() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := GetSession(r.Context())
			if sess == nil || sess.AccountID == "" {
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
