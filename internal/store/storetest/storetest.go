// Package storetest es el contrato compartido que todo adapter de store debe cumplir.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/store"
)

// Run ejecuta el contrato contra una conexión vacía y migrada.
// Se usan nombres únicos por subtest para no depender de un reset.
func Run(t *testing.T, conn store.Connection) {
	t.Helper()

	t.Run("accounts", func(t *testing.T) { testAccounts(t, conn) })
	t.Run("links", func(t *testing.T) { testLinks(t, conn) })
	t.Run("delete account cascades", func(t *testing.T) { testCascade(t, conn) })
}

func newAccount(t *testing.T, conn store.Connection, username, email string) *repository.Account {
	t.Helper()
	a := &repository.Account{Username: username, Email: email, Status: repository.StatusActive}
	require.NoError(t, conn.Accounts().Create(context.Background(), a))
	require.NotEmpty(t, a.ID)
	return a
}

func testAccounts(t *testing.T, conn store.Connection) {
	ctx := context.Background()
	repo := conn.Accounts()

	a := newAccount(t, conn, "acc_jdoe", "JDoe@Example.org")
	a.Roles = []string{repository.RoleAdministrator}
	a.SetProperty("given_name", "Jane")
	require.NoError(t, repo.Save(ctx, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "acc_jdoe", got.Username)
	require.True(t, got.HasRole(repository.RoleAdministrator))
	require.Equal(t, "Jane", got.Properties["given_name"])

	byEmail, err := repo.GetByEmail(ctx, "jdoe@EXAMPLE.org")
	require.NoError(t, err)
	require.Equal(t, a.ID, byEmail.ID)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetByEmail(ctx, "")
	require.ErrorIs(t, err, repository.ErrNotFound)

	ok, err := repo.UsernameExists(ctx, "acc_jdoe")
	require.NoError(t, err)
	require.True(t, ok)

	dupUser := &repository.Account{Username: "acc_jdoe", Email: "other@example.org", Status: repository.StatusActive}
	require.ErrorIs(t, repo.Create(ctx, dupUser), repository.ErrConflict)
	dupEmail := &repository.Account{Username: "acc_other", Email: "jdoe@example.org", Status: repository.StatusActive}
	require.ErrorIs(t, repo.Create(ctx, dupEmail), repository.ErrConflict)

	// Emails vacíos no colisionan.
	newAccount(t, conn, "acc_noemail1", "")
	newAccount(t, conn, "acc_noemail2", "")

	newAccount(t, conn, "pfx_1", "")
	newAccount(t, conn, "pfx_2", "")
	newAccount(t, conn, "pfxa", "")
	names, err := repo.ListUsernamesWithPrefix(ctx, "pfx_")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"pfx_1", "pfx_2"}, names)
}

func testLinks(t *testing.T, conn store.Connection) {
	ctx := context.Background()
	links := conn.Links()
	a := newAccount(t, conn, "lnk_owner", "owner@example.org")
	b := newAccount(t, conn, "lnk_other", "")

	_, err := links.Lookup(ctx, "cilogon", "sub-1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, links.Create(ctx, repository.AccountLink{AccountID: a.ID, ProviderID: "cilogon", Subject: "sub-1", IdPName: "Example U"}))
	got, err := links.Lookup(ctx, "cilogon", "sub-1")
	require.NoError(t, err)
	require.Equal(t, a.ID, got)

	// El par mapea a lo sumo a una cuenta.
	err = links.Create(ctx, repository.AccountLink{AccountID: b.ID, ProviderID: "cilogon", Subject: "sub-1"})
	require.ErrorIs(t, err, repository.ErrConflict)

	err = links.Create(ctx, repository.AccountLink{AccountID: "missing", ProviderID: "cilogon", Subject: "sub-x"})
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, links.Create(ctx, repository.AccountLink{AccountID: a.ID, ProviderID: "cilogon", Subject: "sub-2", IdPName: "Example U"}))
	require.NoError(t, links.Create(ctx, repository.AccountLink{AccountID: a.ID, ProviderID: "generic", Subject: "sub-1", IdPName: "Other"}))

	all, err := links.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)

	connected, err := links.ConnectedProviders(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []repository.ConnectedProvider{
		{ProviderID: "cilogon", IdPName: "Example U"},
		{ProviderID: "generic", IdPName: "Other"},
	}, connected)

	n, err := links.Delete(ctx, a.ID, "cilogon")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = links.Lookup(ctx, "cilogon", "sub-1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	// Ya no está vinculado: otra cuenta puede reclamar el par.
	require.NoError(t, links.Create(ctx, repository.AccountLink{AccountID: b.ID, ProviderID: "cilogon", Subject: "sub-1"}))

	n, err = links.Delete(ctx, a.ID, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = links.Delete(ctx, a.ID, "")
	require.NoError(t, err)
	require.Zero(t, n)

	connected, err = links.ConnectedProviders(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, connected)
}

func testCascade(t *testing.T, conn store.Connection) {
	ctx := context.Background()
	a := newAccount(t, conn, "cascade", "")
	require.NoError(t, conn.Links().Create(ctx, repository.AccountLink{AccountID: a.ID, ProviderID: "cilogon", Subject: "cascade-sub"}))

	require.NoError(t, conn.Accounts().Delete(ctx, a.ID))
	_, err := conn.Links().Lookup(ctx, "cilogon", "cascade-sub")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.ErrorIs(t, conn.Accounts().Delete(ctx, a.ID), repository.ErrNotFound)
}
