package repository

import (
	"context"
	"time"
)

// AccountStatus de una cuenta local.
type AccountStatus string

const (
	StatusActive  AccountStatus = "active"
	StatusBlocked AccountStatus = "blocked"
)

// RoleAdministrator puede desconectar vínculos de otras cuentas.
const RoleAdministrator = "administrator"

// Account es la cuenta local que autoriza el login.
type Account struct {
	ID         string
	Username   string
	Email      string
	Status     AccountStatus
	Roles      []string
	Properties map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Account) Active() bool { return a.Status == StatusActive }

func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SetProperty asigna una propiedad arbitraria.
func (a *Account) SetProperty(name string, v any) {
	if a.Properties == nil {
		a.Properties = map[string]any{}
	}
	a.Properties[name] = v
}

// AccountRepository es el contrato del almacén de cuentas locales.
type AccountRepository interface {
	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByEmail compara sin distinguir mayúsculas. Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	UsernameExists(ctx context.Context, username string) (bool, error)

	// ListUsernamesWithPrefix retorna los usernames que empiezan con prefix.
	ListUsernamesWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// Create asigna ID y timestamps si faltan. Retorna ErrConflict si el
	// username o el email ya existen.
	Create(ctx context.Context, a *Account) error

	// Save persiste status, roles, email y propiedades.
	Save(ctx context.Context, a *Account) error

	Delete(ctx context.Context, id string) error
}
