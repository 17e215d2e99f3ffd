package middlewares

import (
	"context"

	"github.com/dropDatabas3/cilogonauth/internal/session"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxSessionKey   ctxKey = "session"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID retorna "" si WithRequestID no se aplicó.
func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return s
	}
	return ""
}

// WithSessionValue inyecta la sesión del browser en el contexto.
func WithSessionValue(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, ctxSessionKey, s)
}

// GetSession obtiene la sesión cargada por WithSession, o nil.
func GetSession(ctx context.Context) *session.Session {
	if s, ok := ctx.Value(ctxSessionKey).(*session.Session); ok {
		return s
	}
	return nil
}
