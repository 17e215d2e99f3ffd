// Package server conecta config, almacenamiento, proveedores y controllers en
// un http.Handler listo para servir.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/cilogonauth/internal/cache"
	"github.com/dropDatabas3/cilogonauth/internal/claims"
	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/hooks"
	accountsctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/accounts"
	authflowctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/authflow"
	healthctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/health"
	sessionctrl "github.com/dropDatabas3/cilogonauth/internal/http/controllers/session"
	mw "github.com/dropDatabas3/cilogonauth/internal/http/middlewares"
	"github.com/dropDatabas3/cilogonauth/internal/http/router"
	accountssvc "github.com/dropDatabas3/cilogonauth/internal/http/services/accounts"
	authflowsvc "github.com/dropDatabas3/cilogonauth/internal/http/services/authflow"
	"github.com/dropDatabas3/cilogonauth/internal/metrics"
	"github.com/dropDatabas3/cilogonauth/internal/notify"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
	"github.com/dropDatabas3/cilogonauth/internal/oauth/cilogon"
	"github.com/dropDatabas3/cilogonauth/internal/oauth/generic"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
	"github.com/dropDatabas3/cilogonauth/internal/rate"
	"github.com/dropDatabas3/cilogonauth/internal/session"
	"github.com/dropDatabas3/cilogonauth/internal/store"
)

// Options permite inyectar piezas en tests o desde otro binario.
type Options struct {
	Version string
	// Hooks extiende el flujo de login; nil = sin hooks.
	Hooks *hooks.Registry
	// Claims agrega definiciones al catálogo estándar.
	Claims []claims.Extender
	// Registerer para las métricas; nil = prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Store reemplaza la conexión que se abriría desde cfg.Storage.
	Store store.Connection
	// HTTPClient para llamadas al IdP; nil = cliente con cfg.HTTP.Timeout.
	HTTPClient *http.Client
	// Notifier reemplaza el SMTP de cfg.
	Notifier notify.Notifier
}

// App es el resultado del wiring.
type App struct {
	Handler  http.Handler
	Store    store.Connection
	Sessions *session.Store
	AuthFlow authflowsvc.Service
	Accounts accountssvc.Service

	closers []func() error
}

// Close libera conexiones en orden inverso de apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStore abre y migra el almacén configurado.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Connection, error) {
	conn, err := store.Open(ctx, cfg.Storage.Driver, store.AdapterConfig{
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	res, err := conn.Migrate(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.L().Info("store ready",
		logger.Component("store"),
		logger.String("driver", conn.Name()),
		logger.Int("migrations_applied", len(res.Applied)),
	)
	return conn, nil
}

// Build arma la aplicación completa.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	app := &App{}
	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	// 1. Cache + sesiones
	cc, err := cache.New(cache.Config{
		Driver:     cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: config.Dur(cfg.Cache.Memory.DefaultTTL, 12*time.Hour),
	})
	if err != nil {
		return fail(fmt.Errorf("cache: %w", err))
	}
	app.closers = append(app.closers, cc.Close)

	sessions, err := session.NewStore(cc, session.Options{
		CookieName: cfg.Session.CookieName,
		Secret:     cfg.Session.Secret,
		Secure:     cfg.Session.Secure,
		TTL:        config.Dur(cfg.Session.TTL, 12*time.Hour),
	})
	if err != nil {
		return fail(err)
	}
	app.Sessions = sessions

	// 2. Store
	conn := opts.Store
	if conn == nil {
		if conn, err = OpenStore(ctx, cfg); err != nil {
			return fail(err)
		}
		app.closers = append(app.closers, conn.Close)
	}
	app.Store = conn

	// 3. Proveedores
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Dur(cfg.HTTP.Timeout, 10*time.Second)}
	}
	providers := oauth.NewRegistry()
	providers.RegisterFactory(cilogon.Type, cilogon.New)
	providers.RegisterFactory(generic.Type, generic.New)
	if err := providers.Load(cfg.Providers, oauth.FactoryOptions{
		PublicURL:  cfg.Server.PublicURL,
		HTTPClient: httpClient,
	}); err != nil {
		return fail(err)
	}

	// 4. Servicios
	catalog := claims.NewCatalog(opts.Claims...)
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.New(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Admins:   cfg.SMTP.Admins,
		})
	}
	app.AuthFlow = authflowsvc.NewService(authflowsvc.Deps{
		Providers: providers,
		Catalog:   catalog,
		Mapper:    claims.NewMapper(catalog),
		Hooks:     opts.Hooks,
		Accounts:  conn.Accounts(),
		Links:     conn.Links(),
		Policy:    authflowsvc.PolicyFromConfig(cfg),
		Notifier:  notifier,
		FlowTTL:   config.Dur(cfg.Session.FlowTTL, authflowsvc.DefaultFlowTTL),
	})
	app.Accounts = accountssvc.NewService(accountssvc.Deps{
		Providers: providers,
		Accounts:  conn.Accounts(),
		Links:     conn.Links(),
		ShowIdP:   cfg.Accounts.ShowIdP,
	})

	// 5. HTTP
	var limiter rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.NewFixedWindow(cc, "rl:", cfg.RateLimit.Max, config.Dur(cfg.RateLimit.Window, time.Minute))
	}
	metricsHandler, err := metrics.Register(opts.Registerer)
	if err != nil {
		return fail(fmt.Errorf("metrics: %w", err))
	}
	app.Handler = router.New(router.Deps{
		Sessions: sessions,
		AuthFlow: authflowctrl.NewController(app.AuthFlow, sessions),
		Accounts: accountsctrl.NewController(app.Accounts),
		Session:  sessionctrl.NewController(sessions),
		Health: healthctrl.NewController(opts.Version, map[string]healthctrl.Check{
			"store": conn.Ping,
			"cache": cc.Ping,
		}),
		Metrics: metricsHandler,
		Limiter: limiter,
		CSRF:    mw.CSRFConfig{Secure: cfg.Session.Secure},
	})
	return app, nil
}
