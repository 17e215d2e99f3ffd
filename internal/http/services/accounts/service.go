// Package accounts lists the identity links of an account and disconnects them.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
)

var (
	ErrAccountNotFound = errors.New("accounts: account not found")
	ErrForbidden       = errors.New("accounts: actor cannot manage this account")
	ErrNotConnected    = errors.New("accounts: provider not connected")
)

// ConnectedAccount es una fila de la vista "connected accounts".
type ConnectedAccount struct {
	ProviderID string   `json:"provider_id"`
	Label      string   `json:"label"`
	Enabled    bool     `json:"enabled"`
	Connected  bool     `json:"connected"`
	IdPNames   []string `json:"idp_names,omitempty"`
}

type Service interface {
	// Connected lista los proveedores habilitados y cualquier otro que
	// todavía tenga vínculos con la cuenta.
	Connected(ctx context.Context, accountID string) ([]ConnectedAccount, error)

	// Disconnect borra los vínculos de accountID con providerID (todos si
	// providerID es vacío). actorID debe ser el dueño o un administrador.
	Disconnect(ctx context.Context, actorID, accountID, providerID string) (int, error)

	// CanManage informa si actorID puede operar sobre accountID.
	CanManage(ctx context.Context, actorID, accountID string) (bool, error)
}

type Deps struct {
	Providers *oauth.Registry
	Accounts  repository.AccountRepository
	Links     repository.LinkRepository
	// ShowIdP incluye el nombre de la institución de cada vínculo.
	ShowIdP bool
}

type service struct {
	providers *oauth.Registry
	accounts  repository.AccountRepository
	links     repository.LinkRepository
	showIdP   bool
}

func NewService(d Deps) Service {
	return &service{providers: d.Providers, accounts: d.Accounts, links: d.Links, showIdP: d.ShowIdP}
}

func (s *service) Connected(ctx context.Context, accountID string) ([]ConnectedAccount, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	cps, err := s.links.ConnectedProviders(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("accounts: connected providers: %w", err)
	}

	byProvider := map[string][]string{}
	for _, cp := range cps {
		names := byProvider[cp.ProviderID]
		if s.showIdP && cp.IdPName != "" {
			names = append(names, cp.IdPName)
		}
		byProvider[cp.ProviderID] = names
	}

	out := []ConnectedAccount{}
	for _, c := range s.providers.List() {
		names, ok := byProvider[c.ID()]
		delete(byProvider, c.ID())
		out = append(out, ConnectedAccount{
			ProviderID: c.ID(),
			Label:      c.Label(),
			Enabled:    true,
			Connected:  ok,
			IdPNames:   names,
		})
	}
	// Vínculos de proveedores que ya no están habilitados.
	rest := make([]string, 0, len(byProvider))
	for id := range byProvider {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, ConnectedAccount{ProviderID: id, Label: id, Connected: true, IdPNames: byProvider[id]})
	}
	return out, nil
}

func (s *service) CanManage(ctx context.Context, actorID, accountID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	if actorID == accountID {
		return true, nil
	}
	actor, err := s.accounts.GetByID(ctx, actorID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return actor.Active() && actor.HasRole(repository.RoleAdministrator), nil
}

func (s *service) Disconnect(ctx context.Context, actorID, accountID, providerID string) (int, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("accounts"),
		logger.Op("Disconnect"),
		logger.AccountID(accountID),
		logger.Provider(providerID),
	)

	ok, err := s.CanManage(ctx, actorID, accountID)
	if err != nil {
		return 0, err
	}
	if !ok {
		log.Warn("disconnect forbidden", logger.String("actor_id", actorID))
		return 0, ErrForbidden
	}

	n, err := s.links.Delete(ctx, accountID, providerID)
	if err != nil {
		return 0, fmt.Errorf("accounts: delete links: %w", err)
	}
	if n == 0 {
		return 0, ErrNotConnected
	}
	log.Info("links removed", logger.Int("count", n), logger.String("actor_id", actorID))
	return n, nil
}
