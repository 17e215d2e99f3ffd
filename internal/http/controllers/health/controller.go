// Package health contiene el controller para health checks.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dropDatabas3/cilogonauth/internal/http/helpers"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
)

// Check verifica una dependencia (store, cache).
type Check func(ctx context.Context) error

type Controller struct {
	checks  map[string]Check
	version string
}

func NewController(version string, checks map[string]Check) *Controller {
	return &Controller{checks: checks, version: version}
}

type response struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
}

// Healthz maneja GET /healthz. 503 si alguna dependencia falla.
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("health.Healthz"))

	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	out := response{Status: "ok", Version: c.version, Components: map[string]string{}}
	status := http.StatusOK
	for _, n := range names {
		if err := c.checks[n](ctx); err != nil {
			log.Warn("health check failed", logger.String("component", n), logger.Err(err))
			out.Components[n] = "down"
			out.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		out.Components[n] = "ok"
	}
	helpers.WriteJSON(w, status, out)
}
