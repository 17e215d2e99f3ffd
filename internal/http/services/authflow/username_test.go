package authflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/store/adapters/memory"
)

func seedUsernames(t *testing.T, repo repository.AccountRepository, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, repo.Create(context.Background(), &repository.Account{Username: n, Status: repository.StatusActive}))
	}
}

func TestDefaultUsernameIsStable(t *testing.T) {
	// md5("abc123")
	require.Equal(t, "cilogon_e99a18c428cb38d5f260853678922e03", DefaultUsername("cilogon", "abc123"))
}

func TestUsernameSchemes(t *testing.T) {
	ctx := context.Background()
	def := DefaultUsername("cilogon", "abc123")

	cases := []struct {
		name   string
		scheme string
		prefix string
		seed   []string
		email  string
		want   string
	}{
		{"default", config.UsernameDefault, "", nil, "jdoe@example.org", def},
		{"default collision", config.UsernameDefault, "", []string{def, def + "_1"}, "", def + "_2"},
		{"email", config.UsernameEmail, "", nil, "jdoe@example.org", "jdoe@example.org"},
		{"email collision", config.UsernameEmail, "", []string{"jdoe@example.org"}, "jdoe@example.org", "jdoe@example.org_1"},
		{"email without e-mail", config.UsernameEmail, "", nil, "", def},
		{"email prefix", config.UsernameEmailPrefix, "", nil, "jdoe@example.org", "jdoe"},
		{"email prefix collision", config.UsernameEmailPrefix, "", []string{"jdoe"}, "jdoe@example.org", "jdoe_1"},
		{"email prefix without e-mail", config.UsernameEmailPrefix, "", nil, "", def},
		{"custom prefix first", config.UsernameCustomPrefix, "user", nil, "", "user1"},
		{"custom prefix fills gap", config.UsernameCustomPrefix, "user", []string{"user1", "user3", "userx"}, "", "user2"},
		{"custom prefix next", config.UsernameCustomPrefix, "user", []string{"user1", "user2"}, "", "user3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := memory.New()
			seedUsernames(t, conn.Accounts(), tc.seed...)
			g := UsernameGenerator{Accounts: conn.Accounts(), Scheme: tc.scheme, CustomPrefix: tc.prefix}

			got, err := g.Generate(ctx, "cilogon", "abc123", tc.email)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestOutcomeLabels(t *testing.T) {
	require.Equal(t, "ok", Outcome(nil))
	require.Equal(t, "csrf", Outcome(ErrCSRF))
	require.Equal(t, "provider_error", Outcome(&ProviderError{Code: "server_error"}))
	require.Equal(t, "link_race", Outcome(ErrLinkRace))
	require.Equal(t, "error", Outcome(ErrPersistence))
}
