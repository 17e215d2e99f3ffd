// Package store abre el almacén durable de cuentas y vínculos.
//
// Cada adapter (adapters/pg, adapters/sqlite, adapters/memory) se registra en
// init(); importar adapters/dal en main habilita todos los drivers.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
)

// AdapterConfig es la configuración de conexión común a todos los drivers.
type AdapterConfig struct {
	DSN          string
	MaxOpenConns int
}

// Connection es una conexión viva que expone los repositorios.
type Connection interface {
	Name() string
	Ping(ctx context.Context) error
	Close() error

	Accounts() repository.AccountRepository
	Links() repository.LinkRepository

	// Migrate aplica el schema embebido del dialecto. Idempotente.
	Migrate(ctx context.Context) (*MigrationResult, error)
}

// Adapter construye conexiones para un driver.
type Adapter interface {
	Name() string
	Connect(ctx context.Context, cfg AdapterConfig) (Connection, error)
}

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]Adapter{}
)

// RegisterAdapter registra un driver por nombre. Llamar desde init().
func RegisterAdapter(a Adapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[a.Name()] = a
}

// Drivers lista los drivers registrados.
func Drivers() []string {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	out := make([]string, 0, len(adapters))
	for n := range adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "pg", "postgres", "postgresql":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "", "memory", "mem":
		return "memory"
	default:
		return strings.ToLower(d)
	}
}

// Open conecta con el driver pedido.
func Open(ctx context.Context, driver string, cfg AdapterConfig) (Connection, error) {
	name := normalizeDriver(driver)
	adaptersMu.RLock()
	a, ok := adapters[name]
	adaptersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unsupported driver %q (registered: %s)", driver, strings.Join(Drivers(), ", "))
	}
	conn, err := a.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", name, err)
	}
	return conn, nil
}

// Dedupe reduce vínculos a pares (provider, idp) únicos ordenados.
func Dedupe(links []repository.AccountLink) []repository.ConnectedProvider {
	seen := map[repository.ConnectedProvider]bool{}
	out := []repository.ConnectedProvider{}
	for _, l := range links {
		cp := repository.ConnectedProvider{ProviderID: l.ProviderID, IdPName: l.IdPName}
		if seen[cp] {
			continue
		}
		seen[cp] = true
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].IdPName < out[j].IdPName
	})
	return out
}
