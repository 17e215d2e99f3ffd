// Package authflow contiene los endpoints del login: inicio, connect y callback.
package authflow

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/cilogonauth/internal/http/errors"
	"github.com/dropDatabas3/cilogonauth/internal/http/helpers"
	mw "github.com/dropDatabas3/cilogonauth/internal/http/middlewares"
	svc "github.com/dropDatabas3/cilogonauth/internal/http/services/authflow"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
	"github.com/dropDatabas3/cilogonauth/internal/session"
)

// Controller maneja las rutas del saga de autorización.
type Controller struct {
	service  svc.Service
	sessions *session.Store
}

func NewController(service svc.Service, sessions *session.Store) *Controller {
	return &Controller{service: service, sessions: sessions}
}

// Login maneja POST /login/{providerID}?destination=/path
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	c.begin(w, r, svc.BeginRequest{
		ProviderID:  chi.URLParam(r, "providerID"),
		Operation:   session.OperationLogin,
		Destination: session.ParseDestination(r.URL.Query().Get("destination")),
	})
}

// Connect maneja POST /user/{accountID}/connected-accounts/{providerID}/connect
func (c *Controller) Connect(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	dest := r.URL.Query().Get("destination")
	if dest == "" {
		dest = "/user/" + accountID + "/connected-accounts"
	}
	c.begin(w, r, svc.BeginRequest{
		ProviderID:       chi.URLParam(r, "providerID"),
		Operation:        session.OperationConnect,
		Destination:      session.ParseDestination(dest),
		ConnectAccountID: accountID,
	})
}

func (c *Controller) begin(w http.ResponseWriter, r *http.Request, req svc.BeginRequest) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authflow.Begin"), logger.Provider(req.ProviderID))

	sess := mw.GetSession(ctx)
	if sess == nil {
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithDetail("no session"))
		return
	}

	instr, err := c.service.BeginLogin(ctx, sess, req)
	if err != nil {
		log.Info("begin login rejected", logger.Err(err))
		httperrors.WriteError(w, mapError(err))
		return
	}
	if !helpers.SaveSession(w, r, c.sessions, sess) {
		return
	}
	if instr.NoStore {
		w.Header().Set("Cache-Control", "no-store")
	}
	http.Redirect(w, r, instr.URL, http.StatusFound)
}

// Callback maneja GET /authenticate/{providerID}
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerID := chi.URLParam(r, "providerID")
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authflow.Callback"), logger.Provider(providerID))

	sess := mw.GetSession(ctx)
	if sess == nil {
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithDetail("no session"))
		return
	}

	res, err := c.service.CompleteCallback(ctx, sess, svc.CallbackRequest{
		ProviderID: providerID,
		Query:      r.URL.Query(),
	})
	if !helpers.SaveSession(w, r, c.sessions, sess) {
		return
	}
	if res == nil {
		log.Info("callback rejected", logger.Err(err))
		httperrors.WriteError(w, mapError(err))
		return
	}
	if err != nil {
		log.Info("callback finished with error", logger.String("outcome", svc.Outcome(err)), logger.Err(err))
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.Redirect, http.StatusFound)
}

// Logout maneja POST /logout
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	sess := mw.GetSession(r.Context())
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	sess.Logout()
	if !helpers.SaveSession(w, r, c.sessions, sess) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapError(err error) *httperrors.AppError {
	switch {
	case err == nil:
		return httperrors.ErrInternalServerError
	case errors.Is(err, svc.ErrCSRF):
		return httperrors.ErrForbidden.WithDetail("invalid state").WithCause(err)
	case errors.Is(err, svc.ErrOutOfFlow):
		return httperrors.ErrNotFound.WithDetail("no authorization in progress").WithCause(err)
	case errors.Is(err, svc.ErrUnknownProvider):
		return httperrors.ErrNotFound.WithDetail("unknown provider").WithCause(err)
	case errors.Is(err, svc.ErrConnectMismatch):
		return httperrors.ErrForbidden.WithDetail("cannot connect another user's account").WithCause(err)
	default:
		return httperrors.FromError(err)
	}
}
