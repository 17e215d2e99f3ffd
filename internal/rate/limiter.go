// Package rate limita intentos de login por cliente con ventana fija.
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/cilogonauth/internal/cache"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// FixedWindow cuenta hits por ventana sobre cache.Client (INCR + EXPIRE en
// redis, IncrementInt64 en memoria).
type FixedWindow struct {
	Cache  cache.Client
	Prefix string
	Max    int64
	Window time.Duration
	Now    func() time.Time
}

func NewFixedWindow(c cache.Client, prefix string, limit int, window time.Duration) *FixedWindow {
	if prefix == "" {
		prefix = "rl:"
	}
	return &FixedWindow{Cache: c, Prefix: prefix, Max: int64(limit), Window: window, Now: time.Now}
}

func (l *FixedWindow) Allow(ctx context.Context, key string) (Result, error) {
	winStart := l.Now().UTC().Truncate(l.Window)
	k := fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	hits, ttl, err := l.Cache.Incr(ctx, k, l.Window)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Allowed:     hits <= l.Max,
		Remaining:   max(l.Max-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.Window
		}
	}
	return res, nil
}
