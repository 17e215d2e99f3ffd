// Package cilogon is the CILogon identity provider. Its endpoints are fixed.
package cilogon

import (
	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
)

const Type = "cilogon"

var Endpoints = oauth.Endpoints{
	Authorization: "https://cilogon.org/authorize",
	Token:         "https://cilogon.org/oauth2/token",
	UserInfo:      "https://cilogon.org/oauth2/userinfo",
}

// New is an oauth.Factory. Configured endpoints are ignored.
func New(cfg config.ProviderConfig, opts oauth.FactoryOptions) (oauth.Client, error) {
	label := cfg.Label
	if label == "" || label == cfg.ID {
		label = "CILogon"
	}
	return oauth.NewFlow(oauth.Settings{
		ID:           cfg.ID,
		Label:        label,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoints:    Endpoints,
		RedirectURL:  opts.CallbackURL(cfg.ID),
		HTTPClient:   opts.HTTPClient,
	})
}
