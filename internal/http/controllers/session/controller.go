// Package session expone el estado de la sesión del browser.
package session

import (
	"net/http"

	"github.com/dropDatabas3/cilogonauth/internal/http/helpers"
	mw "github.com/dropDatabas3/cilogonauth/internal/http/middlewares"
	"github.com/dropDatabas3/cilogonauth/internal/session"
)

type Controller struct {
	sessions *session.Store
}

func NewController(sessions *session.Store) *Controller {
	return &Controller{sessions: sessions}
}

type response struct {
	AccountID string            `json:"account_id,omitempty"`
	Messages  []session.Message `json:"messages"`
}

// Show maneja GET /session. Los mensajes se consumen al leerlos.
func (c *Controller) Show(w http.ResponseWriter, r *http.Request) {
	sess := mw.GetSession(r.Context())
	out := response{Messages: []session.Message{}}
	if sess != nil {
		out.AccountID = sess.AccountID
		if msgs := sess.TakeMessages(); len(msgs) > 0 {
			out.Messages = msgs
		}
		if !helpers.SaveSession(w, r, c.sessions, sess) {
			return
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, out)
}
