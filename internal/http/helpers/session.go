package helpers

import (
	"net/http"

	httperrors "github.com/dropDatabas3/cilogonauth/internal/http/errors"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
	"github.com/dropDatabas3/cilogonauth/internal/session"
)

// SaveSession persiste sess y escribe la cookie. Si falla ya escribió el
// error HTTP y devuelve false.
func SaveSession(w http.ResponseWriter, r *http.Request, st *session.Store, sess *session.Session) bool {
	if err := st.Save(r.Context(), w, sess); err != nil {
		logger.From(r.Context()).Error("session save failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return false
	}
	return true
}
