package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }

// Dominio

// Provider identifica el proveedor de identidad configurado (ej: "cilogon").
func Provider(v string) zap.Field { return zap.String("provider", v) }

// Sub es el identificador remoto del usuario en el proveedor.
func Sub(v string) zap.Field { return zap.String("sub", v) }

func AccountID(v string) zap.Field { return zap.String("account_id", v) }

// Operation es LOGIN o CONNECT.
func Operation(v string) zap.Field { return zap.String("operation", v) }

// Email enmascara la parte local: "jdoe@example.org" -> "j***@example.org".
func Email(v string) zap.Field {
	at := strings.LastIndexByte(v, '@')
	if at <= 0 {
		return zap.String("email", "***")
	}
	return zap.String("email", v[:1]+"***"+v[at:])
}

// Sistema

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }

// Layer: handler, service, repository.
func Layer(v string) zap.Field { return zap.String("layer", v) }
func Err(err error) zap.Field  { return zap.Error(err) }

func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
