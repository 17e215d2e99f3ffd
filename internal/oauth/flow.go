package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/cilogonauth/internal/metrics"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// maxUserInfoBytes bounds the userinfo body we are willing to parse.
const maxUserInfoBytes = 1 << 20

// Settings configures a Flow.
type Settings struct {
	ID           string
	Label        string
	ClientID     string
	ClientSecret string
	Endpoints    Endpoints
	// RedirectURL is the callback for this provider. An http:// scheme is
	// rewritten to https://.
	RedirectURL string
	// HTTPClient carries the outbound timeout. Defaults to 10s.
	HTTPClient *http.Client
}

// Flow is the default authorization-code implementation of Client.
type Flow struct {
	id    string
	label string
	cfg   oauth2.Config
	info  string
	http  *http.Client
}

// NewFlow validates s and returns a ready Flow.
func NewFlow(s Settings) (*Flow, error) {
	if s.ID == "" {
		return nil, errors.New("oauth: provider id is required")
	}
	if s.ClientID == "" {
		return nil, fmt.Errorf("oauth: %s: client id is required", s.ID)
	}
	e := s.Endpoints
	if e.Authorization == "" || e.Token == "" || e.UserInfo == "" {
		return nil, fmt.Errorf("oauth: %s: authorization, token and userinfo endpoints are required", s.ID)
	}
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	label := s.Label
	if label == "" {
		label = s.ID
	}
	return &Flow{
		id:    s.ID,
		label: label,
		cfg: oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			RedirectURL:  ForceHTTPS(s.RedirectURL),
			Endpoint: oauth2.Endpoint{
				AuthURL:   e.Authorization,
				TokenURL:  e.Token,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		info: e.UserInfo,
		http: hc,
	}, nil
}

// ForceHTTPS rewrites a leading http:// to https://.
func ForceHTTPS(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func (f *Flow) ID() string    { return f.id }
func (f *Flow) Label() string { return f.label }

// RedirectURL is the https callback sent to the provider.
func (f *Flow) RedirectURL() string { return f.cfg.RedirectURL }

func (f *Flow) Authorize(scopes string, states StateIssuer) (*RedirectInstruction, error) {
	state, err := states.CreateState()
	if err != nil {
		return nil, err
	}
	c := f.cfg
	c.Scopes = strings.Fields(scopes)
	return &RedirectInstruction{URL: c.AuthCodeURL(state), NoStore: true}, nil
}

func (f *Flow) ExchangeCode(ctx context.Context, code string) (ts *TokenSet, err error) {
	start := time.Now()
	defer func() { metrics.ObserveIdPCall(f.id, "token", start, err) }()

	if code == "" {
		return nil, &ExchangeError{Provider: f.id, Err: errors.New("empty authorization code")}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.http)
	tok, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Provider: f.id, Err: err}
	}

	ts = &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if idt, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idt
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		ts.ExpiresAt = &exp
	}
	return ts, nil
}

func (f *Flow) DecodeIdentityToken(idToken string) (UserInfo, error) {
	return DecodeIdentityToken(f.id, idToken)
}

// DecodeIdentityToken parses the payload of a compact JWT without verifying
// its signature. Anything other than exactly three segments is rejected. The
// header is not inspected, so a missing or unknown alg does not matter.
func DecodeIdentityToken(provider, idToken string) (UserInfo, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, &DecodeError{Provider: provider, Err: errors.New("token must have exactly 3 segments")}
	}
	seg, err := jwtv5.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return nil, &DecodeError{Provider: provider, Err: err}
	}
	info, err := decodeClaims(seg)
	if err != nil {
		return nil, &DecodeError{Provider: provider, Err: err}
	}
	return info, nil
}

// decodeClaims decodes a JSON object keeping numbers as json.Number.
func decodeClaims(raw []byte) (UserInfo, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var info UserInfo
	if err := dec.Decode(&info); err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.New("claims must be a json object")
	}
	return info, nil
}

func (f *Flow) FetchUserInfo(ctx context.Context, accessToken string) (info UserInfo, err error) {
	start := time.Now()
	defer func() { metrics.ObserveIdPCall(f.id, "userinfo", start, err) }()

	if accessToken == "" {
		return nil, &FetchError{Provider: f.id, Err: errors.New("empty access token")}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.http)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.info, nil)
	if err != nil {
		return nil, &FetchError{Provider: f.id, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: f.id, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, &FetchError{Provider: f.id, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &FetchError{Provider: f.id, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body)))}
	}
	info, err = decodeClaims(body)
	if err != nil {
		return nil, &FetchError{Provider: f.id, Status: resp.StatusCode, Err: fmt.Errorf("invalid json: %w", err)}
	}
	return info, nil
}
