package authflow

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/cilogonauth/internal/oauth"
)

// Errores del callback. Los de transporte con el IdP llegan como
// *oauth.ExchangeError, *oauth.DecodeError o *oauth.FetchError.
var (
	ErrUnknownProvider = errors.New("authflow: unknown or disabled provider")

	// ErrCSRF: state ausente o distinto al guardado. Nada del request se usa.
	ErrCSRF = errors.New("authflow: state token missing or invalid")
	// ErrOutOfFlow: no hay AuthorizationSession viva (visita directa o vencida).
	ErrOutOfFlow = errors.New("authflow: callback outside of an authorization flow")

	ErrUserCancelled        = errors.New("authflow: user cancelled at the provider")
	ErrProvider             = errors.New("authflow: provider returned an error")
	ErrRegistrationConflict = errors.New("authflow: e-mail already taken by an unlinked account")
	ErrAuthorizationDenied  = errors.New("authflow: pre-authorization denied")
	ErrConnectMismatch      = errors.New("authflow: connect requested for another account")

	ErrEmailMissing       = errors.New("authflow: provider returned no e-mail")
	ErrEmailInvalid       = errors.New("authflow: provider returned an invalid e-mail")
	ErrAccountBlocked     = errors.New("authflow: account is blocked")
	ErrAlreadyConnected   = errors.New("authflow: identity already connected to another account")
	ErrRegistrationClosed = errors.New("authflow: only administrators can register accounts")
	ErrPendingApproval    = errors.New("authflow: account pending administrator approval")
	ErrLinkRace           = errors.New("authflow: identity was linked concurrently")
	ErrPersistence        = errors.New("authflow: account persistence failed")
)

// cancelCodes son errores del IdP que significan que el usuario abandonó.
var cancelCodes = map[string]bool{
	"interaction_required":       true,
	"login_required":             true,
	"account_selection_required": true,
	"consent_required":           true,
}

// ProviderError conserva code y description para el log. Nunca se muestra.
type ProviderError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("authflow: %s returned %s: %s", e.Provider, e.Code, e.Description)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Outcome es la etiqueta de métricas para el resultado de un callback.
func Outcome(err error) string {
	var (
		ex *oauth.ExchangeError
		de *oauth.DecodeError
		fe *oauth.FetchError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCSRF):
		return "csrf"
	case errors.Is(err, ErrOutOfFlow):
		return "out_of_flow"
	case errors.Is(err, ErrUserCancelled):
		return "cancelled"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	case errors.As(err, &ex):
		return "exchange_error"
	case errors.As(err, &de):
		return "decode_error"
	case errors.As(err, &fe):
		return "fetch_error"
	case errors.Is(err, ErrConnectMismatch):
		return "connect_mismatch"
	case errors.Is(err, ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, ErrRegistrationConflict):
		return "registration_conflict"
	case errors.Is(err, ErrRegistrationClosed):
		return "registration_closed"
	case errors.Is(err, ErrPendingApproval):
		return "pending_approval"
	case errors.Is(err, ErrAccountBlocked):
		return "blocked"
	case errors.Is(err, ErrAlreadyConnected):
		return "already_connected"
	case errors.Is(err, ErrEmailMissing):
		return "email_missing"
	case errors.Is(err, ErrEmailInvalid):
		return "email_invalid"
	case errors.Is(err, ErrLinkRace):
		return "link_race"
	default:
		return "error"
	}
}
