// Package accounts expone la vista de cuentas conectadas.
package accounts

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/cilogonauth/internal/http/errors"
	"github.com/dropDatabas3/cilogonauth/internal/http/helpers"
	mw "github.com/dropDatabas3/cilogonauth/internal/http/middlewares"
	svc "github.com/dropDatabas3/cilogonauth/internal/http/services/accounts"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
)

type Controller struct {
	service svc.Service
}

func NewController(service svc.Service) *Controller {
	return &Controller{service: service}
}

type listResponse struct {
	AccountID string                 `json:"account_id"`
	Providers []svc.ConnectedAccount `json:"providers"`
}

type disconnectResponse struct {
	Removed int `json:"removed"`
}

// List maneja GET /user/{accountID}/connected-accounts
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")
	actor := actorID(r)

	ok, err := c.service.CanManage(ctx, actor, accountID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if !ok {
		httperrors.WriteError(w, httperrors.ErrForbidden)
		return
	}

	rows, err := c.service.Connected(ctx, accountID)
	if err != nil {
		httperrors.WriteError(w, mapError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, listResponse{AccountID: accountID, Providers: rows})
}

// Disconnect maneja POST /user/{accountID}/connected-accounts/{providerID}/disconnect
func (c *Controller) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")
	providerID := chi.URLParam(r, "providerID")
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("accounts.Disconnect"))

	n, err := c.service.Disconnect(ctx, actorID(r), accountID, providerID)
	if err != nil {
		httperrors.WriteError(w, mapError(err))
		return
	}
	log.Info("provider disconnected", logger.AccountID(accountID), logger.Provider(providerID), logger.Int("removed", n))
	helpers.WriteJSON(w, http.StatusOK, disconnectResponse{Removed: n})
}

func actorID(r *http.Request) string {
	if s := mw.GetSession(r.Context()); s != nil {
		return s.AccountID
	}
	return ""
}

func mapError(err error) error {
	switch {
	case errors.Is(err, svc.ErrForbidden):
		return httperrors.ErrForbidden.WithCause(err)
	case errors.Is(err, svc.ErrAccountNotFound):
		return httperrors.ErrNotFound.WithDetail("account not found").WithCause(err)
	case errors.Is(err, svc.ErrNotConnected):
		return httperrors.ErrNotFound.WithDetail("provider not connected").WithCause(err)
	default:
		return err
	}
}
