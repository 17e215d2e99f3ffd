// Package metrics define los collectors del flujo de login. Vive aparte del
// paquete http para que oauth y los servicios puedan instrumentarse sin ciclos.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CallbackOutcomes cuenta callbacks por resultado final
	// (login, connect, cancelled, denied, csrf, out_of_flow, error...).
	CallbackOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cilogon_auth_callbacks_total",
		Help: "Callbacks del IdP por proveedor y resultado",
	}, []string{"provider", "outcome"})

	IdPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cilogon_auth_idp_requests_total",
		Help: "Llamadas salientes al IdP (token, userinfo) por resultado",
	}, []string{"provider", "call", "result"})

	IdPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cilogon_auth_idp_request_duration_seconds",
		Help:    "Latencia de llamadas salientes al IdP",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "call"})

	AccountsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cilogon_auth_accounts_created_total",
		Help: "Cuentas locales creadas en el primer login",
	}, []string{"provider"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Register registra todos los collectors en reg (default si nil) y devuelve
// el handler para /metrics. Registrar dos veces no es error.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		CallbackOutcomes, IdPRequests, IdPRequestDuration, AccountsCreated,
		HTTPRequests, HTTPRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

// ObserveIdPCall registra una llamada saliente al IdP.
func ObserveIdPCall(provider, call string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	IdPRequests.WithLabelValues(provider, call, result).Inc()
	IdPRequestDuration.WithLabelValues(provider, call).Observe(time.Since(start).Seconds())
}
