// Package oauthtest provides an in-process identity provider for tests.
package oauthtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/dropDatabas3/cilogonauth/internal/oauth"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// IdP is a fake token + userinfo server. Zero status fields mean 200.
type IdP struct {
	Server *httptest.Server

	mu             sync.Mutex
	claims         map[string]any
	userInfo       map[string]any
	tokenStatus    int
	userInfoStatus int
	omitExpiry     bool
	tokenForms     []url.Values
	userInfoCalls  int
}

// NewIdP starts a server that is closed with the test.
func NewIdP(t testing.TB) *IdP {
	p := &IdP{
		claims:   map[string]any{"sub": "abc123"},
		userInfo: map[string]any{"sub": "abc123", "email": "jdoe@example.org"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", p.token)
	mux.HandleFunc("/userinfo", p.info)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *IdP) Endpoints() oauth.Endpoints {
	return oauth.Endpoints{
		Authorization: p.Server.URL + "/authorize",
		Token:         p.Server.URL + "/token",
		UserInfo:      p.Server.URL + "/userinfo",
	}
}

// Client builds a Flow against this IdP.
func (p *IdP) Client(t testing.TB, id string) *oauth.Flow {
	t.Helper()
	f, err := oauth.NewFlow(oauth.Settings{
		ID:           id,
		Label:        strings.ToUpper(id),
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Endpoints:    p.Endpoints(),
		RedirectURL:  "http://app.example.org/authenticate/" + id,
		HTTPClient:   p.Server.Client(),
	})
	if err != nil {
		t.Fatalf("oauthtest: %v", err)
	}
	return f
}

func (p *IdP) SetIDClaims(c map[string]any) { p.mu.Lock(); p.claims = c; p.mu.Unlock() }
func (p *IdP) SetUserInfo(u map[string]any) { p.mu.Lock(); p.userInfo = u; p.mu.Unlock() }
func (p *IdP) FailToken(status int)         { p.mu.Lock(); p.tokenStatus = status; p.mu.Unlock() }
func (p *IdP) FailUserInfo(status int)      { p.mu.Lock(); p.userInfoStatus = status; p.mu.Unlock() }
func (p *IdP) OmitExpiry()                  { p.mu.Lock(); p.omitExpiry = true; p.mu.Unlock() }

// TokenForms returns the forms posted to the token endpoint.
func (p *IdP) TokenForms() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenForms...)
}

func (p *IdP) UserInfoCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoCalls
}

func (p *IdP) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.tokenForms = append(p.tokenForms, r.PostForm)
	status, claims, omit := p.tokenStatus, p.claims, p.omitExpiry
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "bad code"})
		return
	}
	resp := map[string]any{
		"access_token": "at-" + r.PostForm.Get("code"),
		"token_type":   "Bearer",
	}
	if claims != nil {
		resp["id_token"] = EncodeToken(claims)
	}
	if !omit {
		resp["expires_in"] = 3600
		resp["refresh_token"] = "rt-1"
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *IdP) info(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.userInfoCalls++
	status, info := p.userInfoStatus, p.userInfo
	p.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer at-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

// EncodeToken signs claims with a throwaway HMAC key.
func EncodeToken(claims map[string]any) string {
	s, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims(claims)).SignedString([]byte("oauthtest"))
	if err != nil {
		panic(err)
	}
	return s
}
