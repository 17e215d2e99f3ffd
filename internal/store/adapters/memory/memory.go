// Package memory es un adapter in-process para dev y tests. Aplica las mismas
// restricciones de unicidad que los adapters SQL.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/store"
)

func init() {
	store.RegisterAdapter(adapter{})
}

type adapter struct{}

func (adapter) Name() string { return "memory" }

func (adapter) Connect(context.Context, store.AdapterConfig) (store.Connection, error) {
	return New(), nil
}

type linkKey struct{ provider, subject string }

// Conn guarda todo bajo un único mutex.
type Conn struct {
	mu       sync.RWMutex
	accounts map[string]*repository.Account
	links    map[linkKey]repository.AccountLink
}

// New crea una conexión vacía.
func New() *Conn {
	return &Conn{
		accounts: map[string]*repository.Account{},
		links:    map[linkKey]repository.AccountLink{},
	}
}

func (c *Conn) Name() string                           { return "memory" }
func (c *Conn) Ping(context.Context) error             { return nil }
func (c *Conn) Close() error                           { return nil }
func (c *Conn) Accounts() repository.AccountRepository { return (*accounts)(c) }
func (c *Conn) Links() repository.LinkRepository       { return (*links)(c) }
func (c *Conn) Migrate(context.Context) (*store.MigrationResult, error) {
	return &store.MigrationResult{}, nil
}

func clone(a *repository.Account) *repository.Account {
	cp := *a
	cp.Roles = append([]string(nil), a.Roles...)
	if a.Properties != nil {
		cp.Properties = make(map[string]any, len(a.Properties))
		for k, v := range a.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

type accounts Conn

func (r *accounts) GetByID(_ context.Context, id string) (*repository.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(a), nil
}

func (r *accounts) GetByEmail(_ context.Context, email string) (*repository.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if email == "" {
		return nil, repository.ErrNotFound
	}
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accounts) UsernameExists(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *accounts) ListUsernamesWithPrefix(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, a := range r.accounts {
		if strings.HasPrefix(a.Username, prefix) {
			out = append(out, a.Username)
		}
	}
	sort.Strings(out)
	return out, nil
}

// conflicts se llama con el lock tomado.
func (r *accounts) conflicts(a *repository.Account) bool {
	for id, o := range r.accounts {
		if id == a.ID {
			continue
		}
		if o.Username == a.Username || (a.Email != "" && strings.EqualFold(o.Email, a.Email)) {
			return true
		}
	}
	return false
}

func (r *accounts) Create(_ context.Context, a *repository.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = repository.StatusActive
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if _, exists := r.accounts[a.ID]; exists || r.conflicts(a) {
		return repository.ErrConflict
	}
	r.accounts[a.ID] = clone(a)
	return nil
}

func (r *accounts) Save(_ context.Context, a *repository.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; !ok {
		return repository.ErrNotFound
	}
	if r.conflicts(a) {
		return repository.ErrConflict
	}
	a.UpdatedAt = time.Now().UTC()
	r.accounts[a.ID] = clone(a)
	return nil
}

func (r *accounts) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.accounts, id)
	for k, l := range r.links {
		if l.AccountID == id {
			delete(r.links, k)
		}
	}
	return nil
}

type links Conn

func (r *links) Lookup(_ context.Context, providerID, subject string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[linkKey{providerID, subject}]
	if !ok {
		return "", repository.ErrNotFound
	}
	return l.AccountID, nil
}

func (r *links) Create(_ context.Context, l repository.AccountLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := linkKey{l.ProviderID, l.Subject}
	if _, exists := r.links[k]; exists {
		return repository.ErrConflict
	}
	if _, ok := r.accounts[l.AccountID]; !ok {
		return repository.ErrNotFound
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	r.links[k] = l
	return nil
}

func (r *links) Delete(_ context.Context, accountID, providerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, l := range r.links {
		if l.AccountID == accountID && (providerID == "" || l.ProviderID == providerID) {
			delete(r.links, k)
			n++
		}
	}
	return n, nil
}

func (r *links) ListByAccount(_ context.Context, accountID string) ([]repository.AccountLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.AccountLink
	for _, l := range r.links {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].Subject < out[j].Subject
	})
	return out, nil
}

func (r *links) ConnectedProviders(ctx context.Context, accountID string) ([]repository.ConnectedProvider, error) {
	all, _ := r.ListByAccount(ctx, accountID)
	return store.Dedupe(all), nil
}
