// Package claims holds the catalog of recognized OpenID Connect claims and
// the mapper that turns a userinfo payload into account property assignments.
package claims

import (
	"strings"
	"sync"

	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
)

// Value types a claim can carry.
const (
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeNumber  = "number"
	TypeJSON    = "json"
)

// Definition describes one claim.
type Definition struct {
	Name        string
	Scope       string
	Type        string
	Title       string
	Description string
}

// BaseScopes are always requested.
var BaseScopes = []string{"openid", "email", "profile", "org.cilogon.userinfo"}

// Extender may add or replace definitions. It runs once, in registration
// order, when the catalog is built.
type Extender func(defs []Definition) []Definition

// Catalog is the ordered, extensible set of claim definitions.
type Catalog struct {
	once      sync.Once
	extenders []Extender
	defs      []Definition
	byName    map[string]Definition
}

// NewCatalog returns a catalog of the standard claims altered by extenders.
func NewCatalog(extenders ...Extender) *Catalog {
	return &Catalog{extenders: extenders}
}

func (c *Catalog) build() {
	c.once.Do(func() {
		defs := StandardClaims()
		for _, ext := range c.extenders {
			defs = ext(append([]Definition(nil), defs...))
		}
		defs = keepStandard(defs)
		c.defs = defs
		c.byName = make(map[string]Definition, len(defs))
		for _, d := range defs {
			c.byName[d.Name] = d
		}
	})
}

// keepStandard restores standard entries an extender dropped.
func keepStandard(defs []Definition) []Definition {
	present := make(map[string]bool, len(defs))
	for _, d := range defs {
		present[d.Name] = true
	}
	for _, std := range StandardClaims() {
		if !present[std.Name] {
			logger.L().Warn("claim catalog extender removed a standard claim; restoring it",
				logger.Component("claims.catalog"), logger.String("claim", std.Name))
			defs = append(defs, std)
		}
	}
	return defs
}

// Definitions returns the catalog in order.
func (c *Catalog) Definitions() []Definition {
	c.build()
	return append([]Definition(nil), c.defs...)
}

func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.build()
	d, ok := c.byName[name]
	return d, ok
}

// RequiredScopes returns the base scopes followed by the scope of every
// mapped claim, in order of first appearance. The email claim and claims
// unknown to the catalog add nothing.
func (c *Catalog) RequiredScopes(mappings []config.ClaimMapping) string {
	scopes := append([]string(nil), BaseScopes...)
	seen := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		seen[s] = true
	}
	for _, m := range mappings {
		if m.Claim == "email" {
			continue
		}
		d, ok := c.Lookup(m.Claim)
		if !ok || d.Scope == "" || seen[d.Scope] {
			continue
		}
		seen[d.Scope] = true
		scopes = append(scopes, d.Scope)
	}
	return strings.Join(scopes, " ")
}

// Options groups definitions by scope for display.
func (c *Catalog) Options() map[string][]Definition {
	out := map[string][]Definition{}
	for _, d := range c.Definitions() {
		out[d.Scope] = append(out[d.Scope], d)
	}
	return out
}
