package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const stateBytes = 32

// CreateState genera un token aleatorio url-safe y lo guarda como el único
// válido para esta sesión, pisando el anterior.
func (s *Session) CreateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: state token: %w", err)
	}
	s.State = base64.RawURLEncoding.EncodeToString(b)
	return s.State, nil
}

// ConfirmState es true solo si hay un token guardado y coincide con candidate.
// No consume el token: el caller debe llamar ClearState.
func (s *Session) ConfirmState(candidate string) bool {
	if s.State == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.State), []byte(candidate)) == 1
}

func (s *Session) ClearState() { s.State = "" }
