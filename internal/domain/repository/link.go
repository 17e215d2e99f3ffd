package repository

import (
	"context"
	"time"
)

// AccountLink vincula (ProviderID, Subject) con una cuenta local.
// El par (ProviderID, Subject) mapea a lo sumo a una cuenta.
type AccountLink struct {
	AccountID  string
	ProviderID string
	Subject    string
	// IdPName es el nombre del IdP upstream (claim idp_name), solo para mostrar.
	IdPName   string
	CreatedAt time.Time
}

// ConnectedProvider es una entrada deduplicada de ConnectedProviders.
type ConnectedProvider struct {
	ProviderID string
	IdPName    string
}

// LinkRepository es el authmap.
type LinkRepository interface {
	// Lookup retorna el account id dueño del par o ErrNotFound.
	Lookup(ctx context.Context, providerID, subject string) (string, error)

	// Create inserta el vínculo. Los adapters tienen UNIQUE(provider_id,
	// subject): un segundo writer concurrente recibe ErrConflict.
	Create(ctx context.Context, l AccountLink) error

	// Delete borra todos los vínculos de la cuenta, o solo el de providerID
	// si no es vacío. Retorna la cantidad borrada.
	Delete(ctx context.Context, accountID, providerID string) (int, error)

	// ConnectedProviders retorna pares (provider, idp) deduplicados,
	// ordenados por provider.
	ConnectedProviders(ctx context.Context, accountID string) ([]ConnectedProvider, error)

	// ListByAccount retorna los vínculos completos de la cuenta.
	ListByAccount(ctx context.Context, accountID string) ([]AccountLink, error)
}
