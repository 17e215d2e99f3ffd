package session

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dropDatabas3/cilogonauth/internal/cache"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

// Options configura el Store.
type Options struct {
	CookieName string
	// Secret de al menos 32 bytes; de él se derivan las claves de firma y cifrado.
	Secret string
	Secure bool
	TTL    time.Duration
}

// Store persiste Sessions en cache.Client indexadas por un id opaco que viaja
// en una cookie securecookie.
type Store struct {
	cache  cache.Client
	codec  *securecookie.SecureCookie
	name   string
	secure bool
	ttl    time.Duration
}

func NewStore(c cache.Client, opts Options) (*Store, error) {
	if len(opts.Secret) < 32 {
		return nil, errors.New("session: secret must be at least 32 bytes")
	}
	hashKey, err := deriveKey(opts.Secret, "cilogon-auth session mac", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(opts.Secret, "cilogon-auth session enc", 32)
	if err != nil {
		return nil, err
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(opts.TTL.Seconds()))

	name := opts.CookieName
	if name == "" {
		name = "cilogon_sid"
	}
	return &Store{cache: c, codec: codec, name: name, secure: opts.Secure, ttl: opts.TTL}, nil
}

func deriveKey(secret, info string, n int) ([]byte, error) {
	k := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), k); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return k, nil
}

func (st *Store) key(id string) string { return "sess:" + id }

// Load devuelve la sesión del request o una nueva si no hay cookie válida.
// Cookies manipuladas o expiradas se tratan como ausentes.
func (st *Store) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(st.name)
	if err != nil {
		return New(uuid.NewString()), nil
	}
	var id string
	if err := st.codec.Decode(st.name, c.Value, &id); err != nil || id == "" {
		return New(uuid.NewString()), nil
	}
	raw, err := st.cache.Get(r.Context(), st.key(id))
	if cache.IsNotFound(err) {
		return New(uuid.NewString()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	s := New(id)
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return New(uuid.NewString()), nil
	}
	return s, nil
}

// Save persiste la sesión y escribe la cookie. Debe llamarse antes de escribir
// el status del response.
func (st *Store) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.renew {
		_ = st.cache.Delete(ctx, st.key(s.ID))
		s.ID = uuid.NewString()
		s.renew = false
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := st.cache.Set(ctx, st.key(s.ID), string(b), st.ttl); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	v, err := st.codec.Encode(st.name, s.ID)
	if err != nil {
		return fmt.Errorf("session: cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     st.name,
		Value:    v,
		Path:     "/",
		HttpOnly: true,
		Secure:   st.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(st.ttl.Seconds()),
	})
	return nil
}

// Destroy borra el registro y expira la cookie.
func (st *Store) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := st.cache.Delete(ctx, st.key(s.ID)); err != nil {
		return fmt.Errorf("session: destroy: %w", err)
	}
	http.SetCookie(w, &http.Cookie{Name: st.name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: st.secure})
	return nil
}
