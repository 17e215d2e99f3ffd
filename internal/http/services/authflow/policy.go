package authflow

import "github.com/dropDatabas3/cilogonauth/internal/config"

// Policy es la parte de la configuración que decide cómo se resuelven y
// crean cuentas. Se lee una vez al armar el service.
type Policy struct {
	Mappings          []config.ClaimMapping
	IgnoredProperties []string

	// RegistrationMode es config.RegisterAdminOnly, RegisterVisitors o
	// RegisterVisitorsWithApproval.
	RegistrationMode string
	// OverrideRegistration permite auto-registro aunque el modo sea admin_only.
	OverrideRegistration bool
	// UnblockAccounts crea las cuentas activas sin importar el modo.
	UnblockAccounts bool
	// Role se asigna solo a cuentas recién creadas. Vacío = ninguno.
	Role string

	UsernameScheme string
	CustomPrefix   string

	// AlwaysSaveUserinfo aplica los claims en cada login, no solo al crear.
	AlwaysSaveUserinfo bool
	// ConnectExistingUsers vincula por e-mail verificado en vez de fallar.
	ConnectExistingUsers bool
}

// PolicyFromConfig copia las secciones relevantes de cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Mappings:             cfg.Claims.Mappings,
		IgnoredProperties:    cfg.Claims.IgnoredProperties,
		RegistrationMode:     cfg.Registration.Mode,
		OverrideRegistration: cfg.Registration.Override,
		UnblockAccounts:      cfg.Registration.UnblockAccount,
		Role:                 cfg.Registration.Role,
		UsernameScheme:       cfg.Username.Scheme,
		CustomPrefix:         cfg.Username.CustomPrefix,
		AlwaysSaveUserinfo:   cfg.Accounts.AlwaysSaveUserinfo,
		ConnectExistingUsers: cfg.Accounts.ConnectExistingUsers,
	}
}
