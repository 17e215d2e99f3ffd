// Package oauth implements the authorization-code client used against an
// OpenID Connect identity provider.
//
// Client is the per-provider capability set. Flow is the default behavior
// shared by all variants; a variant only decides where its endpoints come
// from (see the cilogon and generic sub-packages). Registry resolves a
// provider id to its Client.
package oauth

import (
	"context"
	"time"
)

// StateIssuer mints the anti-forgery state for an authorization redirect.
// *session.Session satisfies it.
type StateIssuer interface {
	CreateState() (string, error)
}

// RedirectInstruction tells the HTTP layer where to send the browser.
// NoStore is set whenever the URL carries per-user state and must not be
// served from a response cache.
type RedirectInstruction struct {
	URL     string
	NoStore bool
}

// TokenSet is the result of a successful code exchange. Fields missing from
// the token response stay empty; ExpiresAt is nil without expires_in.
type TokenSet struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Endpoints is the fixed triple a provider exposes.
type Endpoints struct {
	Authorization string
	Token         string
	UserInfo      string
}

// Client is implemented once per identity provider.
type Client interface {
	ID() string
	Label() string

	// Authorize builds the redirect to the provider. It never blocks.
	Authorize(scopes string, states StateIssuer) (*RedirectInstruction, error)

	// ExchangeCode returns *ExchangeError on any failure.
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)

	// DecodeIdentityToken returns the unverified claims of a compact JWT,
	// or *DecodeError.
	DecodeIdentityToken(idToken string) (UserInfo, error)

	// FetchUserInfo returns *FetchError on any failure.
	FetchUserInfo(ctx context.Context, accessToken string) (UserInfo, error)
}
