package oauth

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/dropDatabas3/cilogonauth/internal/config"
)

// Factory builds a Client for one configured provider.
type Factory func(cfg config.ProviderConfig, opts FactoryOptions) (Client, error)

// FactoryOptions carries process-wide settings every variant needs.
type FactoryOptions struct {
	// PublicURL is the externally visible base URL; callbacks live at
	// PublicURL + "/authenticate/{id}".
	PublicURL  string
	HTTPClient *http.Client
}

// CallbackURL is the redirect_uri registered with provider id.
func (o FactoryOptions) CallbackURL(id string) string {
	return strings.TrimRight(o.PublicURL, "/") + "/authenticate/" + id
}

// Registry maps provider ids to Clients. Variants are chosen by the
// configured type through registered factories, never by reflection.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	clients   map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		clients:   make(map[string]Client),
	}
}

// RegisterFactory registers a factory for a provider type ("cilogon", "generic").
func (r *Registry) RegisterFactory(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Load instantiates every enabled provider. Disabled providers are skipped.
func (r *Registry) Load(cfgs []config.ProviderConfig, opts FactoryOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pc := range cfgs {
		if !pc.Enabled {
			continue
		}
		f, ok := r.factories[pc.Type]
		if !ok {
			return fmt.Errorf("oauth: provider %s: unknown type %q", pc.ID, pc.Type)
		}
		c, err := f(pc, opts)
		if err != nil {
			return fmt.Errorf("oauth: provider %s: %w", pc.ID, err)
		}
		r.clients[pc.ID] = c
	}
	return nil
}

// Add registers an already built client, replacing any with the same id.
func (r *Registry) Add(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID()] = c
}

// Get resolves an enabled provider.
func (r *Registry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// List returns enabled clients sorted by id.
func (r *Registry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
