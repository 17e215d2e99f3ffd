package authflow_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cilogonauth/internal/claims"
	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/hooks"
	"github.com/dropDatabas3/cilogonauth/internal/http/services/authflow"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
	"github.com/dropDatabas3/cilogonauth/internal/oauth/oauthtest"
	"github.com/dropDatabas3/cilogonauth/internal/session"
	"github.com/dropDatabas3/cilogonauth/internal/store/adapters/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	accounts []string
}

func (n *recordingNotifier) PendingApproval(_ context.Context, a *repository.Account, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts = append(n.accounts, a.ID)
	return nil
}

type harness struct {
	idp      *oauthtest.IdP
	other    *oauthtest.IdP
	conn     *memory.Conn
	hooks    *hooks.Registry
	notifier *recordingNotifier
	now      time.Time
	svc      authflow.Service
}

func visitorPolicy() authflow.Policy {
	return authflow.Policy{
		Mappings: []config.ClaimMapping{
			{Property: "given_name", Claim: "given_name"},
			{Property: "affiliation", Claim: "affiliation"},
		},
		IgnoredProperties: config.DefaultIgnoredProperties,
		RegistrationMode:  config.RegisterVisitors,
		UsernameScheme:    config.UsernameDefault,
	}
}

func newHarness(t *testing.T, p authflow.Policy) *harness {
	t.Helper()
	return newHarnessWith(t, p, nil)
}

// newHarnessWith permite envolver el repositorio de cuentas.
func newHarnessWith(t *testing.T, p authflow.Policy, wrap func(repository.AccountRepository) repository.AccountRepository) *harness {
	t.Helper()
	h := &harness{
		idp:      oauthtest.NewIdP(t),
		other:    oauthtest.NewIdP(t),
		conn:     memory.New(),
		hooks:    hooks.NewRegistry(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	reg := oauth.NewRegistry()
	reg.Add(h.idp.Client(t, "cilogon"))
	reg.Add(h.other.Client(t, "other"))

	var accounts repository.AccountRepository = h.conn.Accounts()
	if wrap != nil {
		accounts = wrap(accounts)
	}
	catalog := claims.NewCatalog()
	h.svc = authflow.NewService(authflow.Deps{
		Providers: reg,
		Catalog:   catalog,
		Mapper:    claims.NewMapper(catalog),
		Hooks:     h.hooks,
		Accounts:  accounts,
		Links:     h.conn.Links(),
		Policy:    p,
		Notifier:  h.notifier,
		Now:       func() time.Time { return h.now },
	})
	return h
}

// begin arranca un flujo y retorna el state que el IdP devolvería.
func (h *harness) begin(t *testing.T, sess *session.Session, req authflow.BeginRequest) string {
	t.Helper()
	if req.ProviderID == "" {
		req.ProviderID = "cilogon"
	}
	ri, err := h.svc.BeginLogin(context.Background(), sess, req)
	require.NoError(t, err)
	require.True(t, ri.NoStore)
	u, err := url.Parse(ri.URL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func (h *harness) callback(sess *session.Session, provider string, q url.Values) (*authflow.CallbackResult, error) {
	return h.svc.CompleteCallback(context.Background(), sess, authflow.CallbackRequest{ProviderID: provider, Query: q})
}

// login hace un flujo LOGIN completo contra cilogon.
func (h *harness) login(t *testing.T, sess *session.Session) (*authflow.CallbackResult, error) {
	t.Helper()
	state := h.begin(t, sess, authflow.BeginRequest{Destination: session.ParseDestination("/dashboard?tab=1")})
	return h.callback(sess, "cilogon", url.Values{"state": {state}, "code": {"c1"}})
}

func (h *harness) usernameTaken(t *testing.T, username string) bool {
	t.Helper()
	ok, err := h.conn.Accounts().UsernameExists(context.Background(), username)
	require.NoError(t, err)
	return ok
}

func TestFreshLoginCreatesAccountAndLink(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	h.idp.SetUserInfo(map[string]any{
		"sub": "abc123", "email": "jdoe@example.org",
		"given_name": "Jane", "idp_name": "Example University",
	})
	sess := session.New("sid")

	res, err := h.login(t, sess)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, "/dashboard?tab=1", res.Redirect)
	require.Equal(t, res.AccountID, sess.AccountID)

	owner, err := h.conn.Links().Lookup(context.Background(), "cilogon", "abc123")
	require.NoError(t, err)
	require.Equal(t, res.AccountID, owner)

	links, err := h.conn.Links().ListByAccount(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "Example University", links[0].IdPName)

	acct, err := h.conn.Accounts().GetByID(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, authflow.DefaultUsername("cilogon", "abc123"), acct.Username)
	require.Equal(t, "jdoe@example.org", acct.Email)
	require.True(t, acct.Active())
	require.Equal(t, "Jane", acct.Properties["given_name"])
	_, mapped := acct.Properties["affiliation"]
	require.False(t, mapped, "absent claims are not assigned")

	// El code se intercambió con el redirect_uri forzado a https.
	forms := h.idp.TokenForms()
	require.Len(t, forms, 1)
	require.Equal(t, "authorization_code", forms[0].Get("grant_type"))
	require.Equal(t, "https://app.example.org/authenticate/cilogon", forms[0].Get("redirect_uri"))
}

func TestRepeatLoginReusesLink(t *testing.T) {
	h := newHarness(t, visitorPolicy())

	first, err := h.login(t, session.New("s1"))
	require.NoError(t, err)

	sess := session.New("s2")
	second, err := h.login(t, sess)
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.AccountID, second.AccountID)
	require.Equal(t, first.AccountID, sess.AccountID)

	links, err := h.conn.Links().ListByAccount(context.Background(), first.AccountID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.False(t, h.usernameTaken(t, authflow.DefaultUsername("cilogon", "abc123")+"_1"))
}

func TestConsentRequiredIsCancelled(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	sess := session.New("sid")
	state := h.begin(t, sess, authflow.BeginRequest{Destination: session.ParseDestination("/after")})

	res, err := h.callback(sess, "cilogon", url.Values{"state": {state}, "error": {"consent_required"}})
	require.ErrorIs(t, err, authflow.ErrUserCancelled)
	require.NotNil(t, res)
	require.Equal(t, "/after", res.Redirect)
	require.Equal(t, session.LevelStatus, res.Messages[0].Level)

	require.Empty(t, h.idp.TokenForms())
	require.Empty(t, sess.AccountID)
	_, err = h.conn.Links().Lookup(context.Background(), "cilogon", "abc123")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProviderErrorIsReportedGenerically(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	sess := session.New("sid")
	state := h.begin(t, sess, authflow.BeginRequest{})

	res, err := h.callback(sess, "cilogon", url.Values{
		"state":             {state},
		"error":             {"server_error"},
		"error_description": {"upstream ldap at 10.0.0.7 down"},
	})
	require.ErrorIs(t, err, authflow.ErrProvider)
	var perr *authflow.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "server_error", perr.Code)

	require.Equal(t, "/user", res.Redirect)
	require.Len(t, res.Messages, 1)
	require.NotContains(t, res.Messages[0].Text, "10.0.0.7")
	require.Equal(t, "provider_error", authflow.Outcome(err))
}

func TestMissingOrWrongStateIsRejectedFirst(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	sess := session.New("sid")
	h.begin(t, sess, authflow.BeginRequest{})

	for _, q := range []url.Values{
		{"code": {"c1"}},
		{"state": {""}, "code": {"c1"}},
		{"state": {"forged"}, "code": {"c1"}},
		{"state": {"forged"}, "error": {"consent_required"}},
	} {
		res, err := h.callback(sess, "cilogon", q)
		require.ErrorIs(t, err, authflow.ErrCSRF)
		require.Nil(t, res)
	}
	// Nada del flujo se consumió ni se contactó al IdP.
	require.NotNil(t, sess.Authorization)
	require.NotEmpty(t, sess.State)
	require.Empty(t, h.idp.TokenForms())
	require.Empty(t, sess.Messages)
}

func TestStateIsSingleUse(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	sess := session.New("sid")
	state := h.begin(t, sess, authflow.BeginRequest{})
	q := url.Values{"state": {state}, "code": {"c1"}}

	_, err := h.callback(sess, "cilogon", q)
	require.NoError(t, err)

	_, err = h.callback(sess, "cilogon", q)
	require.ErrorIs(t, err, authflow.ErrCSRF)
	require.Len(t, h.idp.TokenForms(), 1)
}

func TestNewBeginLoginReplacesPreviousFlow(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	sess := session.New("sid")
	old := h.begin(t, sess, authflow.BeginRequest{Destination: session.ParseDestination("/old")})
	current := h.begin(t, sess, authflow.BeginRequest{Destination: session.ParseDestination("/new")})
	require.NotEqual(t, old, current)

	_, err := h.callback(sess, "cilogon", url.Values{"state": {old}, "code": {"c1"}})
	require.ErrorIs(t, err, authflow.ErrCSRF)

	res, err := h.callback(sess, "cilogon", url.Values{"state": {current}, "code": {"c1"}})
	require.NoError(t, err)
	require.Equal(t, "/new", res.Redirect)
}

func TestOutOfFlowCallbacks(t *testing.T) {
	t.Run("no authorization session", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		sess := session.New("sid")
		state, err := sess.CreateState()
		require.NoError(t, err)

		res, err := h.callback(sess, "cilogon", url.Values{"state": {state}, "code": {"c1"}})
		require.ErrorIs(t, err, authflow.ErrOutOfFlow)
		require.Nil(t, res)
	})

	t.Run("expired flow", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		sess := session.New("sid")
		state := h.begin(t, sess, authflow.BeginRequest{})
		h.now = h.now.Add(authflow.DefaultFlowTTL + time.Second)

		_, err := h.callback(sess, "cilogon", url.Values{"state": {state}, "code": {"c1"}})
		require.ErrorIs(t, err, authflow.ErrOutOfFlow)
		require.Empty(t, h.idp.TokenForms())
	})

	t.Run("other provider", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		sess := session.New("sid")
		state := h.begin(t, sess, authflow.BeginRequest{})

		_, err := h.callback(sess, "other", url.Values{"state": {state}, "code": {"c1"}})
		require.ErrorIs(t, err, authflow.ErrOutOfFlow)
	})

	t.Run("absent code", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		sess := session.New("sid")
		state := h.begin(t, sess, authflow.BeginRequest{})

		_, err := h.callback(sess, "cilogon", url.Values{"state": {state}})
		require.ErrorIs(t, err, authflow.ErrOutOfFlow)
		require.Nil(t, sess.Authorization)
	})
}

func TestExchangeFailureLeavesNoAccount(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	h.idp.FailToken(400)
	sess := session.New("sid")

	res, err := h.login(t, sess)
	var ex *oauth.ExchangeError
	require.True(t, errors.As(err, &ex))
	require.Equal(t, "invalid_grant", ex.ProviderCode())
	require.Equal(t, "/dashboard?tab=1", res.Redirect)
	require.Empty(t, sess.AccountID)
	require.False(t, h.usernameTaken(t, authflow.DefaultUsername("cilogon", "abc123")))
}

func TestUserInfoFailures(t *testing.T) {
	t.Run("fetch error", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		h.idp.FailUserInfo(500)
		_, err := h.login(t, session.New("sid"))
		var fe *oauth.FetchError
		require.True(t, errors.As(err, &fe))
	})

	t.Run("sub mismatch", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		h.idp.SetUserInfo(map[string]any{"sub": "someone-else", "email": "jdoe@example.org"})
		_, err := h.login(t, session.New("sid"))
		var fe *oauth.FetchError
		require.True(t, errors.As(err, &fe))
	})

	t.Run("missing e-mail", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		h.idp.SetUserInfo(map[string]any{"sub": "abc123"})
		_, err := h.login(t, session.New("sid"))
		require.ErrorIs(t, err, authflow.ErrEmailMissing)
	})

	t.Run("invalid e-mail", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		h.idp.SetUserInfo(map[string]any{"sub": "abc123", "email": "not-an-email"})
		_, err := h.login(t, session.New("sid"))
		require.ErrorIs(t, err, authflow.ErrEmailInvalid)
	})
}

func TestUserInfoOverridesIdentityToken(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	h.idp.SetIDClaims(map[string]any{"sub": "abc123", "email": "old@example.org", "given_name": "FromToken", "affiliation": "member"})
	h.idp.SetUserInfo(map[string]any{"sub": "abc123", "email": "new@example.org", "given_name": "FromUserinfo"})

	res, err := h.login(t, session.New("sid"))
	require.NoError(t, err)
	acct, err := h.conn.Accounts().GetByID(context.Background(), res.AccountID)
	require.NoError(t, err)
	require.Equal(t, "new@example.org", acct.Email)
	require.Equal(t, "FromUserinfo", acct.Properties["given_name"])
	require.Equal(t, "member", acct.Properties["affiliation"])
}

func TestUserInfoHookRunsBeforeResolution(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	h.hooks.OnUserInfo(func(info oauth.UserInfo, hc *hooks.Context) {
		require.Equal(t, "cilogon", hc.ProviderID)
		info["given_name"] = "Rewritten"
	})
	res, err := h.login(t, session.New("sid"))
	require.NoError(t, err)
	acct, err := h.conn.Accounts().GetByID(context.Background(), res.AccountID)
	require.NoError(t, err)
	require.Equal(t, "Rewritten", acct.Properties["given_name"])
}

func TestConnectMismatchCreatesNoLink(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	ctx := context.Background()
	a := &repository.Account{Username: "alice", Email: "alice@example.org", Status: repository.StatusActive}
	b := &repository.Account{Username: "bob", Email: "bob@example.org", Status: repository.StatusActive}
	require.NoError(t, h.conn.Accounts().Create(ctx, a))
	require.NoError(t, h.conn.Accounts().Create(ctx, b))

	sess := session.New("sid")
	sess.AccountID = a.ID
	state := h.begin(t, sess, authflow.BeginRequest{Operation: session.OperationConnect, ConnectAccountID: a.ID})

	// La sesión cambió de dueño entre el redirect y el callback.
	sess.AccountID = b.ID
	res, err := h.callback(sess, "cilogon", url.Values{"state": {state}, "code": {"c1"}})
	require.ErrorIs(t, err, authflow.ErrConnectMismatch)
	require.NotNil(t, res)
	require.Empty(t, h.idp.TokenForms())

	_, err = h.conn.Links().Lookup(ctx, "cilogon", "abc123")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBeginConnectRequiresOwner(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	sess := session.New("sid")
	_, err := h.svc.BeginLogin(context.Background(), sess, authflow.BeginRequest{
		ProviderID: "cilogon", Operation: session.OperationConnect, ConnectAccountID: "acc-1",
	})
	require.ErrorIs(t, err, authflow.ErrConnectMismatch)
	require.Nil(t, sess.Authorization)

	_, err = h.svc.BeginLogin(context.Background(), sess, authflow.BeginRequest{ProviderID: "nope"})
	require.ErrorIs(t, err, authflow.ErrUnknownProvider)
}

func TestConnectLinksCurrentAccount(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	ctx := context.Background()
	sess := session.New("sid")
	res, err := h.login(t, sess)
	require.NoError(t, err)

	h.other.SetUserInfo(map[string]any{"sub": "other-77", "email": "jdoe@other.example.org", "idp_name": "Other IdP"})
	h.other.SetIDClaims(map[string]any{"sub": "other-77"})
	state := h.begin(t, sess, authflow.BeginRequest{
		ProviderID: "other", Operation: session.OperationConnect, ConnectAccountID: res.AccountID,
		Destination: session.ParseDestination("/user/connected-accounts"),
	})
	conn, err := h.callback(sess, "other", url.Values{"state": {state}, "code": {"c2"}})
	require.NoError(t, err)
	require.Equal(t, "/user/connected-accounts", conn.Redirect)
	require.Equal(t, res.AccountID, conn.AccountID)

	providers, err := h.conn.Links().ConnectedProviders(ctx, res.AccountID)
	require.NoError(t, err)
	require.Equal(t, []repository.ConnectedProvider{
		{ProviderID: "cilogon"},
		{ProviderID: "other", IdPName: "Other IdP"},
	}, providers)

	// Conectar de nuevo la misma identidad no duplica.
	state = h.begin(t, sess, authflow.BeginRequest{ProviderID: "other", Operation: session.OperationConnect, ConnectAccountID: res.AccountID})
	_, err = h.callback(sess, "other", url.Values{"state": {state}, "code": {"c3"}})
	require.NoError(t, err)
	links, err := h.conn.Links().ListByAccount(ctx, res.AccountID)
	require.NoError(t, err)
	require.Len(t, links, 2)
}

func TestConnectIdentityOwnedByAnotherAccount(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	ctx := context.Background()
	_, err := h.login(t, session.New("s1"))
	require.NoError(t, err)

	other := &repository.Account{Username: "carol", Email: "carol@example.org", Status: repository.StatusActive}
	require.NoError(t, h.conn.Accounts().Create(ctx, other))
	sess := session.New("s2")
	sess.AccountID = other.ID
	state := h.begin(t, sess, authflow.BeginRequest{Operation: session.OperationConnect, ConnectAccountID: other.ID})

	_, err = h.callback(sess, "cilogon", url.Values{"state": {state}, "code": {"c1"}})
	require.ErrorIs(t, err, authflow.ErrAlreadyConnected)
	links, err := h.conn.Links().ListByAccount(ctx, other.ID)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestEmailCollision(t *testing.T) {
	seed := func(t *testing.T, h *harness) *repository.Account {
		a := &repository.Account{Username: "jdoe", Email: "JDoe@example.org", Status: repository.StatusActive}
		require.NoError(t, h.conn.Accounts().Create(context.Background(), a))
		return a
	}

	t.Run("conflict when connect existing is off", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		seed(t, h)
		_, err := h.login(t, session.New("sid"))
		require.ErrorIs(t, err, authflow.ErrRegistrationConflict)
		_, err = h.conn.Links().Lookup(context.Background(), "cilogon", "abc123")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("connects verified e-mail", func(t *testing.T) {
		p := visitorPolicy()
		p.ConnectExistingUsers = true
		h := newHarness(t, p)
		a := seed(t, h)
		h.idp.SetUserInfo(map[string]any{"sub": "abc123", "email": "jdoe@example.org", "email_verified": true})

		sess := session.New("sid")
		res, err := h.login(t, sess)
		require.NoError(t, err)
		require.False(t, res.Created)
		require.Equal(t, a.ID, res.AccountID)
		require.Equal(t, a.ID, sess.AccountID)
	})

	t.Run("unverified e-mail is still a conflict", func(t *testing.T) {
		p := visitorPolicy()
		p.ConnectExistingUsers = true
		h := newHarness(t, p)
		seed(t, h)
		h.idp.SetUserInfo(map[string]any{"sub": "abc123", "email": "jdoe@example.org", "email_verified": false})

		_, err := h.login(t, session.New("sid"))
		require.ErrorIs(t, err, authflow.ErrRegistrationConflict)
	})
}

func TestRegistrationPolicy(t *testing.T) {
	t.Run("admin only", func(t *testing.T) {
		p := visitorPolicy()
		p.RegistrationMode = config.RegisterAdminOnly
		h := newHarness(t, p)
		_, err := h.login(t, session.New("sid"))
		require.ErrorIs(t, err, authflow.ErrRegistrationClosed)
	})

	t.Run("admin only with override", func(t *testing.T) {
		p := visitorPolicy()
		p.RegistrationMode = config.RegisterAdminOnly
		p.OverrideRegistration = true
		h := newHarness(t, p)
		res, err := h.login(t, session.New("sid"))
		require.NoError(t, err)
		require.True(t, res.Created)
	})

	t.Run("approval creates a blocked account", func(t *testing.T) {
		p := visitorPolicy()
		p.RegistrationMode = config.RegisterVisitorsWithApproval
		h := newHarness(t, p)
		sess := session.New("sid")

		res, err := h.login(t, sess)
		require.ErrorIs(t, err, authflow.ErrPendingApproval)
		require.True(t, res.Created)
		require.Empty(t, sess.AccountID)
		require.Equal(t, []string{res.AccountID}, h.notifier.accounts)

		acct, err := h.conn.Accounts().GetByID(context.Background(), res.AccountID)
		require.NoError(t, err)
		require.Equal(t, repository.StatusBlocked, acct.Status)

		// El vínculo existe: el segundo intento ve la cuenta bloqueada.
		_, err = h.login(t, sess)
		require.ErrorIs(t, err, authflow.ErrAccountBlocked)
		require.Len(t, h.notifier.accounts, 1)
	})

	t.Run("approval with unblock", func(t *testing.T) {
		p := visitorPolicy()
		p.RegistrationMode = config.RegisterVisitorsWithApproval
		p.UnblockAccounts = true
		h := newHarness(t, p)
		res, err := h.login(t, session.New("sid"))
		require.NoError(t, err)
		require.True(t, res.Created)
		require.Empty(t, h.notifier.accounts)
	})

	t.Run("role only on creation", func(t *testing.T) {
		p := visitorPolicy()
		p.Role = "researcher"
		h := newHarness(t, p)
		res, err := h.login(t, session.New("sid"))
		require.NoError(t, err)
		acct, err := h.conn.Accounts().GetByID(context.Background(), res.AccountID)
		require.NoError(t, err)
		require.True(t, acct.HasRole("researcher"))
	})
}

func TestPreAuthorizeHook(t *testing.T) {
	t.Run("deny", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		seen := &repository.Account{}
		h.hooks.OnPreAuthorize(func(_ context.Context, a *repository.Account, hc *hooks.Context) hooks.Decision {
			seen = a
			require.Equal(t, "abc123", hc.Sub)
			require.NotNil(t, hc.Tokens)
			return hooks.Decision{Deny: true}
		})
		sess := session.New("sid")
		_, err := h.login(t, sess)
		require.ErrorIs(t, err, authflow.ErrAuthorizationDenied)
		require.Nil(t, seen, "unlinked identity reaches the gate without an account")
		require.Empty(t, sess.AccountID)
		require.False(t, h.usernameTaken(t, authflow.DefaultUsername("cilogon", "abc123")))
	})

	t.Run("substitute", func(t *testing.T) {
		h := newHarness(t, visitorPolicy())
		ctx := context.Background()
		sub := &repository.Account{Username: "chosen", Email: "chosen@example.org", Status: repository.StatusActive}
		require.NoError(t, h.conn.Accounts().Create(ctx, sub))
		h.hooks.OnPreAuthorize(func(context.Context, *repository.Account, *hooks.Context) hooks.Decision {
			return hooks.Decision{Account: sub}
		})

		sess := session.New("sid")
		res, err := h.login(t, sess)
		require.NoError(t, err)
		require.False(t, res.Created)
		require.Equal(t, sub.ID, sess.AccountID)
		owner, err := h.conn.Links().Lookup(ctx, "cilogon", "abc123")
		require.NoError(t, err)
		require.Equal(t, sub.ID, owner)
	})
}

func TestPostAuthorizeReceivesTokens(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	var got *oauth.TokenSet
	h.hooks.OnPostAuthorize(func(_ context.Context, a *repository.Account, hc *hooks.Context) {
		require.True(t, hc.IsNew)
		got = hc.Tokens
	})
	_, err := h.login(t, session.New("sid"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "at-c1", got.AccessToken)
	require.Equal(t, "rt-1", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
}

func TestClaimsSavePolicy(t *testing.T) {
	run := func(t *testing.T, always bool) string {
		p := visitorPolicy()
		p.AlwaysSaveUserinfo = always
		h := newHarness(t, p)
		h.idp.SetUserInfo(map[string]any{"sub": "abc123", "email": "jdoe@example.org", "given_name": "Jane"})
		res, err := h.login(t, session.New("s1"))
		require.NoError(t, err)

		h.idp.SetUserInfo(map[string]any{"sub": "abc123", "email": "jdoe@example.org", "given_name": "Janet"})
		_, err = h.login(t, session.New("s2"))
		require.NoError(t, err)

		acct, err := h.conn.Accounts().GetByID(context.Background(), res.AccountID)
		require.NoError(t, err)
		return acct.Properties["given_name"].(string)
	}
	require.Equal(t, "Jane", run(t, false))
	require.Equal(t, "Janet", run(t, true))
}

func TestSaveHookFailureLeavesNoLink(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	h.hooks.OnUserInfoSave(func(context.Context, *repository.Account, *hooks.Context) error {
		return errors.New("complex claim rejected")
	})
	_, err := h.login(t, session.New("sid"))
	require.ErrorIs(t, err, authflow.ErrPersistence)

	_, err = h.conn.Links().Lookup(context.Background(), "cilogon", "abc123")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.False(t, h.usernameTaken(t, authflow.DefaultUsername("cilogon", "abc123")))
}

func TestIgnoredPropertiesAreNeverMapped(t *testing.T) {
	p := visitorPolicy()
	p.Mappings = append(p.Mappings, config.ClaimMapping{Property: "status", Claim: "given_name"})
	h := newHarness(t, p)
	h.hooks.OnIgnoredProperties(func(ignored map[string]bool, hc *hooks.Context) {
		if hc != nil && hc.ProviderID == "cilogon" {
			ignored["affiliation"] = true
		}
	})
	h.idp.SetUserInfo(map[string]any{"sub": "abc123", "email": "jdoe@example.org", "given_name": "Jane", "affiliation": "staff"})

	res, err := h.login(t, session.New("sid"))
	require.NoError(t, err)
	acct, err := h.conn.Accounts().GetByID(context.Background(), res.AccountID)
	require.NoError(t, err)
	require.NotContains(t, acct.Properties, "status")
	require.NotContains(t, acct.Properties, "affiliation")
	require.Equal(t, repository.StatusActive, acct.Status)
}

func TestConcurrentFirstLoginsShareOneAccount(t *testing.T) {
	h := newHarness(t, visitorPolicy())
	const n = 4
	sessions := make([]*session.Session, n)
	states := make([]string, n)
	for i := range sessions {
		sessions[i] = session.New("sid")
		states[i] = h.begin(t, sessions[i], authflow.BeginRequest{})
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.callback(sessions[i], "cilogon", url.Values{"state": {states[i]}, "code": {"c"}})
		}(i)
	}
	wg.Wait()

	owner, err := h.conn.Links().Lookup(context.Background(), "cilogon", "abc123")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, owner, sessions[i].AccountID)
	}
	require.False(t, h.usernameTaken(t, authflow.DefaultUsername("cilogon", "abc123")+"_1"))
}

// conflictingAccounts simula un índice único (username o email) que rechaza
// el alta aunque el lookup previo no encontró nada.
type conflictingAccounts struct {
	repository.AccountRepository
}

func (conflictingAccounts) Create(context.Context, *repository.Account) error {
	return repository.ErrConflict
}

func TestCreateConflictWithoutLinkIsPersistenceError(t *testing.T) {
	h := newHarnessWith(t, visitorPolicy(), func(r repository.AccountRepository) repository.AccountRepository {
		return conflictingAccounts{r}
	})
	sess := session.New("sid")
	_, err := h.login(t, sess)
	require.ErrorIs(t, err, authflow.ErrPersistence)
	require.NotErrorIs(t, err, authflow.ErrLinkRace)
	require.Equal(t, "error", authflow.Outcome(err))
	require.Empty(t, sess.AccountID)

	_, err = h.conn.Links().Lookup(context.Background(), "cilogon", "abc123")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

// cancellableAccounts falla el alta si el ctx ya fue cancelado, como lo haría
// un driver SQL.
type cancellableAccounts struct {
	repository.AccountRepository
}

func (r cancellableAccounts) Create(ctx context.Context, a *repository.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.AccountRepository.Create(ctx, a)
}

func TestRegistrationSurvivesCallerCancellation(t *testing.T) {
	h := newHarnessWith(t, visitorPolicy(), func(r repository.AccountRepository) repository.AccountRepository {
		return cancellableAccounts{r}
	})
	sess := session.New("sid")
	state := h.begin(t, sess, authflow.BeginRequest{})

	// El IdP ya respondió; sólo el tramo de registro ve el ctx cancelado.
	var cancel context.CancelFunc
	h.hooks.OnPreAuthorize(func(context.Context, *repository.Account, *hooks.Context) hooks.Decision {
		cancel()
		return hooks.Decision{}
	})
	ctx, c := context.WithCancel(context.Background())
	cancel = c
	defer cancel()

	res, err := h.svc.CompleteCallback(ctx, sess, authflow.CallbackRequest{
		ProviderID: "cilogon",
		Query:      url.Values{"state": {state}, "code": {"c1"}},
	})
	require.NoError(t, err)
	require.True(t, res.Created)

	owner, err := h.conn.Links().Lookup(context.Background(), "cilogon", "abc123")
	require.NoError(t, err)
	require.Equal(t, res.AccountID, owner)
}
