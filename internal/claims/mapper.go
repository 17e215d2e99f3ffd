package claims

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
)

// Assignment is one property write produced by Apply.
type Assignment struct {
	Property string
	Claim    string
	Type     string
	Value    any
}

// ClaimContext describes the claim being mapped to a rewrite hook.
type ClaimContext struct {
	ProviderID   string
	Claim        string
	Property     string
	PropertyType string
	IsNew        bool
}

// MapContext carries the per-attempt inputs of Apply.
type MapContext struct {
	ProviderID string
	IsNew      bool
	// Ignored properties are never iterated.
	Ignored map[string]bool
	// Rewrite may replace a value before it is assigned. Nil means identity.
	Rewrite func(value any, cc ClaimContext) any
}

// Mapper applies configured claim mappings.
type Mapper struct {
	catalog *Catalog
}

func NewMapper(c *Catalog) *Mapper { return &Mapper{catalog: c} }

// Apply emits one assignment per mapping whose claim is present in info, in
// the declared order of mappings. It does not mutate info.
func (m *Mapper) Apply(info oauth.UserInfo, mappings []config.ClaimMapping, mc MapContext) []Assignment {
	out := make([]Assignment, 0, len(mappings))
	for _, mp := range mappings {
		if mc.Ignored[mp.Property] {
			continue
		}
		raw, ok := info[mp.Claim]
		if !ok || raw == nil {
			continue
		}
		typ := TypeString
		if d, ok := m.catalog.Lookup(mp.Claim); ok {
			typ = d.Type
		}
		v := coerce(raw, typ)
		if mc.Rewrite != nil {
			v = mc.Rewrite(v, ClaimContext{
				ProviderID:   mc.ProviderID,
				Claim:        mp.Claim,
				Property:     mp.Property,
				PropertyType: typ,
				IsNew:        mc.IsNew,
			})
		}
		out = append(out, Assignment{Property: mp.Property, Claim: mp.Claim, Type: typ, Value: v})
	}
	return out
}

// coerce normalizes a decoded JSON value to the catalog type. Values that
// cannot be converted are passed through unchanged.
func coerce(v any, typ string) any {
	switch typ {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t
		case json.Number:
			return t.String()
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		}
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	case TypeNumber:
		switch t := v.(type) {
		case float64:
			return t
		case json.Number:
			// se conserva tal cual: un entero > 2^53 pierde precisión en float64
			return t
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
	case TypeJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	}
	return v
}

// String renders an assignment for logs.
func (a Assignment) String() string {
	return fmt.Sprintf("%s<-%s(%s)", a.Property, a.Claim, a.Type)
}
