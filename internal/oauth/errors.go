package oauth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ExchangeError wraps any failure of the token endpoint call.
type ExchangeError struct {
	Provider string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oauth: %s: code exchange failed: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// ProviderCode returns the OAuth error code reported by the token endpoint, if any.
func (e *ExchangeError) ProviderCode() string {
	var re *oauth2.RetrieveError
	if errors.As(e.Err, &re) {
		return re.ErrorCode
	}
	return ""
}

// DecodeError reports a malformed identity token.
type DecodeError struct {
	Provider string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("oauth: %s: identity token decode failed: %v", e.Provider, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FetchError wraps any failure of the userinfo call.
type FetchError struct {
	Provider string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oauth: %s: userinfo returned %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("oauth: %s: userinfo failed: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
