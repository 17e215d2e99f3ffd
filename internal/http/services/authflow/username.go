package authflow

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
)

// maxUsernameAttempts acota la búsqueda de sufijos libres.
const maxUsernameAttempts = 1000

// UsernameGenerator arma usernames únicos según el esquema configurado.
type UsernameGenerator struct {
	Accounts     repository.AccountRepository
	Scheme       string
	CustomPrefix string
}

// DefaultUsername es el valor opaco por proveedor: <provider>_<md5(sub)>.
func DefaultUsername(providerID, sub string) string {
	sum := md5.Sum([]byte(sub))
	return providerID + "_" + hex.EncodeToString(sum[:])
}

// Generate retorna un username libre. email puede estar vacío; los esquemas
// basados en e-mail caen al default en ese caso.
func (g UsernameGenerator) Generate(ctx context.Context, providerID, sub, email string) (string, error) {
	switch g.Scheme {
	case config.UsernameCustomPrefix:
		return g.nextWithPrefix(ctx, g.CustomPrefix)
	case config.UsernameEmail:
		if email != "" {
			return g.unique(ctx, email)
		}
	case config.UsernameEmailPrefix:
		if at := strings.IndexByte(email, '@'); at > 0 {
			return g.unique(ctx, email[:at])
		}
	}
	return g.unique(ctx, DefaultUsername(providerID, sub))
}

// unique agrega _1, _2... hasta encontrar un username libre.
func (g UsernameGenerator) unique(ctx context.Context, base string) (string, error) {
	name := base
	for i := 1; i <= maxUsernameAttempts; i++ {
		taken, err := g.Accounts.UsernameExists(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return "", fmt.Errorf("%w: no free username for %q", ErrPersistence, base)
}

// nextWithPrefix retorna prefix seguido del menor entero positivo sin usar.
func (g UsernameGenerator) nextWithPrefix(ctx context.Context, prefix string) (string, error) {
	names, err := g.Accounts.ListUsernamesWithPrefix(ctx, prefix)
	if err != nil {
		return "", err
	}
	used := make(map[int]bool, len(names))
	for _, n := range names {
		if v, err := strconv.Atoi(strings.TrimPrefix(n, prefix)); err == nil && v > 0 {
			used[v] = true
		}
	}
	for i := 1; ; i++ {
		if !used[i] {
			return prefix + strconv.Itoa(i), nil
		}
	}
}
