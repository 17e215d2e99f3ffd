package middlewares

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/cilogonauth/internal/http/errors"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
)

// CSRFConfig configura el double-submit CSRF.
type CSRFConfig struct {
	HeaderName string // Default: "X-CSRF-Token"
	CookieName string // Default: "csrf_token"
	// Secure marca la cookie emitida por IssueCSRFCookie.
	Secure bool
}

// ErrInvalidCSRF es el rechazo de WithCSRF.
var ErrInvalidCSRF = httperrors.New(http.StatusForbidden, "INVALID_CSRF_TOKEN", "CSRF token missing or mismatch")

func (c CSRFConfig) withDefaults() CSRFConfig {
	c.HeaderName = strings.TrimSpace(c.HeaderName)
	if c.HeaderName == "" {
		c.HeaderName = "X-CSRF-Token"
	}
	c.CookieName = strings.TrimSpace(c.CookieName)
	if c.CookieName == "" {
		c.CookieName = "csrf_token"
	}
	return c
}

// IssueCSRFCookie emite la cookie del token si el request no trae una. No es
// HttpOnly: el frontend la lee y la repite en el header.
func IssueCSRFCookie(cfg CSRFConfig) Middleware {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ck, err := r.Cookie(cfg.CookieName); err != nil || strings.TrimSpace(ck.Value) == "" {
				b := make([]byte, 32)
				if _, err := rand.Read(b); err != nil {
					logger.From(r.Context()).Error("csrf token generation failed", logger.Err(err))
				} else {
					http.SetCookie(w, &http.Cookie{
						Name:     cfg.CookieName,
						Value:    base64.RawURLEncoding.EncodeToString(b),
						Path:     "/",
						Secure:   cfg.Secure,
						SameSite: http.SameSiteLaxMode,
					})
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithCSRF enforces double-submit CSRF check for cookie-based requests.
//   - Si Authorization: Bearer está presente, el check se salta (no es flujo de cookies).
//   - Para métodos inseguros (POST, PUT, PATCH, DELETE), requiere header y cookie con mismo valor.
func WithCSRF(cfg CSRFConfig) Middleware {
	cfg = cfg.withDefaults()
	isUnsafe := func(m string) bool {
		switch strings.ToUpper(m) {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			return true
		default:
			return false
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isUnsafe(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if ah := strings.TrimSpace(r.Header.Get("Authorization")); strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			hdr := strings.TrimSpace(r.Header.Get(cfg.HeaderName))
			ck, _ := r.Cookie(cfg.CookieName)
			if hdr == "" || ck == nil || strings.TrimSpace(ck.Value) == "" ||
				subtle.ConstantTimeCompare([]byte(hdr), []byte(ck.Value)) != 1 {
				httperrors.WriteError(w, ErrInvalidCSRF)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
