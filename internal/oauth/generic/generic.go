// Package generic is an OpenID Connect provider whose endpoints come from
// configuration.
package generic

import (
	"fmt"
	"net/url"

	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
)

const Type = "generic"

// New is an oauth.Factory.
func New(cfg config.ProviderConfig, opts oauth.FactoryOptions) (oauth.Client, error) {
	e := oauth.Endpoints{
		Authorization: cfg.Endpoints.Authorization,
		Token:         cfg.Endpoints.Token,
		UserInfo:      cfg.Endpoints.UserInfo,
	}
	for name, raw := range map[string]string{"authorization": e.Authorization, "token": e.Token, "userinfo": e.UserInfo} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return nil, fmt.Errorf("generic: invalid %s endpoint %q", name, raw)
		}
	}
	return oauth.NewFlow(oauth.Settings{
		ID:           cfg.ID,
		Label:        cfg.Label,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoints:    e,
		RedirectURL:  opts.CallbackURL(cfg.ID),
		HTTPClient:   opts.HTTPClient,
	})
}
