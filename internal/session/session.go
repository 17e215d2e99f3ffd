// Package session keeps browser state between the redirect to the IdP and the
// callback: the state token, the pending AuthorizationSession, the logged-in
// account and flash messages. The record lives in cache.Client; the cookie
// only carries the signed and encrypted id.
package session

import (
	"net/url"
	"strings"
	"time"
)

// Operation distingue login de conexión de una cuenta existente.
type Operation string

const (
	OperationLogin   Operation = "login"
	OperationConnect Operation = "connect"
)

// Destination es un path local con query opcional.
type Destination struct {
	Path  string     `json:"path"`
	Query url.Values `json:"query,omitempty"`
}

// ParseDestination acepta "/path?x=y". Destinos absolutos o protocol-relative
// se descartan para no convertir el callback en un open redirect.
func ParseDestination(raw string) Destination {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return Destination{Path: "/user"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return Destination{Path: "/user"}
	}
	d := Destination{Path: u.Path}
	if q := u.Query(); len(q) > 0 {
		d.Query = q
	}
	return d
}

func (d Destination) String() string {
	p := d.Path
	if p == "" {
		p = "/user"
	}
	if len(d.Query) == 0 {
		return p
	}
	return p + "?" + d.Query.Encode()
}

// AuthorizationSession es el flujo pendiente entre BeginLogin y el callback.
type AuthorizationSession struct {
	ProviderID       string      `json:"provider_id"`
	Operation        Operation   `json:"operation"`
	Destination      Destination `json:"destination"`
	ConnectAccountID string      `json:"connect_account_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Niveles de mensaje flash.
const (
	LevelStatus  = "status"
	LevelWarning = "warning"
	LevelError   = "error"
)

type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Session es el registro por navegador. No es seguro para uso concurrente;
// lo posee el request que lo cargó.
type Session struct {
	ID            string                `json:"-"`
	AccountID     string                `json:"account_id,omitempty"`
	State         string                `json:"state,omitempty"`
	Authorization *AuthorizationSession `json:"authorization,omitempty"`
	Messages      []Message             `json:"messages,omitempty"`

	renew bool
}

// New crea una sesión vacía con el id dado.
func New(id string) *Session { return &Session{ID: id} }

// StartAuthorization reemplaza cualquier flujo pendiente.
func (s *Session) StartAuthorization(a AuthorizationSession) {
	s.Authorization = &a
}

// TakeAuthorization devuelve y borra el flujo pendiente. Un flujo más viejo
// que ttl cuenta como ausente.
func (s *Session) TakeAuthorization(now time.Time, ttl time.Duration) (*AuthorizationSession, bool) {
	a := s.Authorization
	s.Authorization = nil
	if a == nil {
		return nil, false
	}
	if ttl > 0 && now.Sub(a.CreatedAt) > ttl {
		return nil, false
	}
	return a, true
}

func (s *Session) AddMessage(level, text string) {
	s.Messages = append(s.Messages, Message{Level: level, Text: text})
}

// TakeMessages devuelve y vacía los mensajes pendientes.
func (s *Session) TakeMessages() []Message {
	m := s.Messages
	s.Messages = nil
	return m
}

// Login asocia la cuenta y pide rotar el id de sesión en el próximo Save.
func (s *Session) Login(accountID string) {
	s.AccountID = accountID
	s.renew = true
}

func (s *Session) Logout() {
	s.AccountID = ""
	s.State = ""
	s.Authorization = nil
	s.renew = true
}
