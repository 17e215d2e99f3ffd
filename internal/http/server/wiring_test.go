package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/http/server"
	"github.com/dropDatabas3/cilogonauth/internal/oauth/oauthtest"
	"github.com/dropDatabas3/cilogonauth/internal/store/adapters/memory"
)

type browser struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func (b *browser) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	if c, ok := b.cookies["csrf_token"]; ok {
		req.Header.Set("X-CSRF-Token", c.Value)
	}
	rec := httptest.NewRecorder()
	b.h.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rec
}

func newApp(t *testing.T) (*server.App, *oauthtest.IdP) {
	t.Helper()
	idp := oauthtest.NewIdP(t)
	e := idp.Endpoints()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
server:
  public_url: https://app.example.org
session:
  secret: 0123456789abcdef0123456789abcdef
registration:
  mode: visitors
accounts:
  show_idp: true
providers:
  - id: idp
    type: generic
    label: Example IdP
    enabled: true
    client_id: client-1
    client_secret: secret-1
    endpoints:
      authorization: %s
      token: %s
      userinfo: %s
`, e.Authorization, e.Token, e.UserInfo)))
	require.NoError(t, err)

	app, err := server.Build(context.Background(), cfg, server.Options{
		Version:    "test",
		Registerer: prometheus.NewRegistry(),
		Store:      memory.New(),
		HTTPClient: idp.Server.Client(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, idp
}

func TestLoginRoundTrip(t *testing.T) {
	app, _ := newApp(t)
	b := &browser{t: t, h: app.Handler, cookies: map[string]*http.Cookie{}}

	rec := b.do(http.MethodPost, "/login/idp?destination=/welcome?tab=1")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	require.Equal(t, "https://app.example.org/authenticate/idp", loc.Query().Get("redirect_uri"))

	rec = b.do(http.MethodGet, "/authenticate/idp?code=c1&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/welcome?tab=1", rec.Header().Get("Location"))

	rec = b.do(http.MethodGet, "/session")
	require.Equal(t, http.StatusOK, rec.Code)
	var sess struct {
		AccountID string `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.AccountID)

	rec = b.do(http.MethodGet, "/user/"+sess.AccountID+"/connected-accounts")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Providers []struct {
			ProviderID string `json:"provider_id"`
			Connected  bool   `json:"connected"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Providers, 1)
	require.Equal(t, "idp", list.Providers[0].ProviderID)
	require.True(t, list.Providers[0].Connected)

	// el state ya se consumió
	rec = b.do(http.MethodGet, "/authenticate/idp?code=c1&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = b.do(http.MethodGet, "/user/someone-else/connected-accounts")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = b.do(http.MethodPost, "/user/"+sess.AccountID+"/connected-accounts/idp/disconnect")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"removed":1}`, rec.Body.String())

	rec = b.do(http.MethodPost, "/user/"+sess.AccountID+"/connected-accounts/idp/disconnect")
	require.Equal(t, http.StatusNotFound, rec.Code)

	// sin header CSRF el logout no procede
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	forged := httptest.NewRecorder()
	app.Handler.ServeHTTP(forged, req)
	require.Equal(t, http.StatusForbidden, forged.Code)
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, "/session").Code)

	rec = b.do(http.MethodPost, "/logout")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.StatusUnauthorized, b.do(http.MethodGet, "/user/"+sess.AccountID+"/connected-accounts").Code)
}

func TestCallbackWithoutFlow(t *testing.T) {
	app, _ := newApp(t)
	b := &browser{t: t, h: app.Handler, cookies: map[string]*http.Cookie{}}

	rec := b.do(http.MethodGet, "/authenticate/idp?code=c1&state=forged")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = b.do(http.MethodPost, "/login/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectedAccountsRequireLogin(t *testing.T) {
	app, _ := newApp(t)
	b := &browser{t: t, h: app.Handler, cookies: map[string]*http.Cookie{}}

	require.Equal(t, http.StatusUnauthorized, b.do(http.MethodGet, "/user/1/connected-accounts").Code)
	require.Equal(t, http.StatusUnauthorized, b.do(http.MethodPost, "/user/1/connected-accounts/idp/connect").Code)
}

func TestHealthz(t *testing.T) {
	app, _ := newApp(t)
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"store":"ok"`)
}
