package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Modos de registro para cuentas nuevas.
const (
	RegisterAdminOnly            = "admin_only"
	RegisterVisitors             = "visitors"
	RegisterVisitorsWithApproval = "visitors_admin_approval"
)

// Esquemas de generación de username.
const (
	UsernameDefault      = "default"
	UsernameEmail        = "email"
	UsernameEmailPrefix  = "email_prefix"
	UsernameCustomPrefix = "custom_prefix"
)

type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env" validate:"omitempty,oneof=dev prod"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr" validate:"required"`
		// PublicURL es la base con la que se construyen los redirect_uri.
		PublicURL string `yaml:"public_url" validate:"required,url"`
	} `yaml:"server"`

	HTTP struct {
		// Timeout para llamadas salientes al IdP (token, userinfo).
		Timeout string `yaml:"timeout"`
	} `yaml:"http"`

	Session struct {
		CookieName string `yaml:"cookie_name" validate:"required"`
		Secret     string `yaml:"secret" validate:"required,min=32"`
		Secure     bool   `yaml:"secure"`
		TTL        string `yaml:"ttl"`
		// FlowTTL: vida máxima de un AuthorizationSession pendiente.
		FlowTTL string `yaml:"flow_ttl"`
	} `yaml:"session"`

	Cache struct {
		Kind  string `yaml:"kind" validate:"oneof=memory redis"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	// RateLimit aplica a /login, /authenticate y connect, por IP.
	RateLimit struct {
		Enabled bool   `yaml:"enabled"`
		Max     int    `yaml:"max" validate:"omitempty,min=1"`
		Window  string `yaml:"window"`
	} `yaml:"rate_limit"`

	Storage struct {
		Driver   string `yaml:"driver" validate:"oneof=postgres sqlite memory"`
		DSN      string `yaml:"dsn" validate:"required_unless=Driver memory"`
		Postgres struct {
			MaxOpenConns int `yaml:"max_open_conns"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Providers []ProviderConfig `yaml:"providers" validate:"dive"`

	Claims struct {
		Mappings          []ClaimMapping `yaml:"mappings" validate:"dive"`
		IgnoredProperties []string       `yaml:"ignored_properties"`
	} `yaml:"claims"`

	Registration struct {
		Mode string `yaml:"mode" validate:"oneof=admin_only visitors visitors_admin_approval"`
		// Override permite registrar visitantes aunque Mode sea admin_only.
		Override       bool   `yaml:"override"`
		UnblockAccount bool   `yaml:"unblock_account"`
		Role           string `yaml:"role"`
	} `yaml:"registration"`

	Username struct {
		Scheme       string `yaml:"scheme" validate:"oneof=default email email_prefix custom_prefix"`
		CustomPrefix string `yaml:"custom_prefix" validate:"required_if=Scheme custom_prefix"`
	} `yaml:"username"`

	Accounts struct {
		AlwaysSaveUserinfo   bool `yaml:"always_save_userinfo"`
		ConnectExistingUsers bool `yaml:"connect_existing_users"`
		ShowIdP              bool `yaml:"show_idp"`
	} `yaml:"accounts"`

	SMTP struct {
		Host     string   `yaml:"host"`
		Port     int      `yaml:"port"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		From     string   `yaml:"from" validate:"omitempty,email"`
		Admins   []string `yaml:"admins" validate:"dive,email"`
	} `yaml:"smtp"`
}

// ProviderConfig describe un IdP configurado. Type cilogon ignora Endpoints.
type ProviderConfig struct {
	ID           string    `yaml:"id" validate:"required,alphanum"`
	Type         string    `yaml:"type" validate:"oneof=cilogon generic"`
	Label        string    `yaml:"label"`
	Enabled      bool      `yaml:"enabled"`
	ClientID     string    `yaml:"client_id" validate:"required_with=Enabled"`
	ClientSecret string    `yaml:"client_secret"`
	Endpoints    Endpoints `yaml:"endpoints"`
}

type Endpoints struct {
	Authorization string `yaml:"authorization" validate:"omitempty,url"`
	Token         string `yaml:"token" validate:"omitempty,url"`
	UserInfo      string `yaml:"userinfo" validate:"omitempty,url"`
}

// ClaimMapping asocia una propiedad de cuenta con un claim del catálogo.
type ClaimMapping struct {
	Property string `yaml:"property" validate:"required"`
	Claim    string `yaml:"claim" validate:"required"`
}

// DefaultIgnoredProperties nunca se sobreescriben desde userinfo.
var DefaultIgnoredProperties = []string{
	"id", "username", "email", "password", "status", "roles",
	"created_at", "updated_at", "init", "login", "access",
}

// Load lee path, aplica defaults, luego overrides de entorno y valida.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse es Load sin IO; útil en tests.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.HTTP.Timeout == "" {
		c.HTTP.Timeout = "10s"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "cilogon_sid"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "12h"
	}
	if c.Session.FlowTTL == "" {
		c.Session.FlowTTL = "15m"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "12h"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "cilogon"
	}
	if c.RateLimit.Max == 0 {
		c.RateLimit.Max = 30
	}
	if c.RateLimit.Window == "" {
		c.RateLimit.Window = "1m"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Registration.Mode == "" {
		c.Registration.Mode = RegisterVisitorsWithApproval
	}
	if c.Username.Scheme == "" {
		c.Username.Scheme = UsernameDefault
	}
	if c.Claims.IgnoredProperties == nil {
		c.Claims.IgnoredProperties = append([]string(nil), DefaultIgnoredProperties...)
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Type == "" {
			p.Type = "cilogon"
		}
		if p.Label == "" {
			p.Label = p.ID
		}
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// applyEnvOverrides: pisa el YAML con variables CILOGON_*. Los secretos de
// proveedor se leen de CILOGON_PROVIDER_<ID>_CLIENT_ID / _CLIENT_SECRET.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("CILOGON_APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("CILOGON_LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("CILOGON_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("CILOGON_PUBLIC_URL"); ok {
		c.Server.PublicURL = v
	}
	if v, ok := getEnvStr("CILOGON_HTTP_TIMEOUT"); ok {
		c.HTTP.Timeout = v
	}

	if v, ok := getEnvStr("CILOGON_SESSION_SECRET"); ok {
		c.Session.Secret = v
	}
	if v, ok := getEnvBool("CILOGON_SESSION_SECURE"); ok {
		c.Session.Secure = v
	}

	if v, ok := getEnvStr("CILOGON_CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("CILOGON_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("CILOGON_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("CILOGON_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	if v, ok := getEnvStr("CILOGON_STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("CILOGON_STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}

	if v, ok := getEnvBool("CILOGON_RATE_LIMIT_ENABLED"); ok {
		c.RateLimit.Enabled = v
	}

	if v, ok := getEnvStr("CILOGON_REGISTRATION_MODE"); ok {
		c.Registration.Mode = v
	}

	if v, ok := getEnvStr("CILOGON_SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("CILOGON_SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("CILOGON_SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("CILOGON_SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvCSV("CILOGON_SMTP_ADMINS"); ok {
		c.SMTP.Admins = v
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		key := "CILOGON_PROVIDER_" + strings.ToUpper(p.ID)
		if v, ok := getEnvStr(key + "_CLIENT_ID"); ok {
			p.ClientID = v
		}
		if v, ok := getEnvStr(key + "_CLIENT_SECRET"); ok {
			p.ClientSecret = v
		}
		if v, ok := getEnvBool(key + "_ENABLED"); ok {
			p.Enabled = v
		}
	}
}

// Validate valida tags de struct y reglas cruzadas que los tags no expresan.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, d := range []struct{ name, v string }{
		{"http.timeout", c.HTTP.Timeout},
		{"session.ttl", c.Session.TTL},
		{"session.flow_ttl", c.Session.FlowTTL},
		{"cache.memory.default_ttl", c.Cache.Memory.DefaultTTL},
		{"rate_limit.window", c.RateLimit.Window},
	} {
		if _, err := time.ParseDuration(d.v); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Type == "generic" && p.Enabled {
			e := p.Endpoints
			if e.Authorization == "" || e.Token == "" || e.UserInfo == "" {
				return fmt.Errorf("config: provider %q: generic providers need authorization, token and userinfo endpoints", p.ID)
			}
		}
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: cache.redis.addr is required when cache.kind=redis")
	}
	return nil
}

// Dur parsea una duración ya validada; cae a def si está vacía.
func Dur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
		return d
	}
	return def
}

// Provider devuelve la configuración de id, si existe.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
