package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		// memory | redis | postgres
		Driver string `yaml:"driver"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	JWT struct {
		// Secret viene SOLO por env (JWT_SECRET); acá solo los metadatos.
		Issuer     string `yaml:"issuer"`
		Audience   string `yaml:"audience"`
		AccessTTL  string `yaml:"access_ttl"`
		RefreshTTL string `yaml:"refresh_ttl"`
	} `yaml:"jwt"`

	Providers struct {
		Google    ProviderConfig `yaml:"google"`
		Microsoft ProviderConfig `yaml:"microsoft"`
	} `yaml:"providers"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		// memory | redis
		Driver string `yaml:"driver"`

		Start      RouteLimit `yaml:"start"`
		Callback   RouteLimit `yaml:"callback"`
		Exchange   RouteLimit `yaml:"exchange"`
		Refresh    RouteLimit `yaml:"refresh"`
		Logout     RouteLimit `yaml:"logout"`
		MFASetup   RouteLimit `yaml:"mfa_setup"`
		MFAVerify  RouteLimit `yaml:"mfa_verify"`
		MFADisable RouteLimit `yaml:"mfa_disable"`
		Roles      RouteLimit `yaml:"roles"`
	} `yaml:"rate"`

	// Secretos: nunca en YAML, siempre por env.
	Secrets struct {
		JWTSecret    []byte `yaml:"-"` // JWT_SECRET
		StateSecret  []byte `yaml:"-"` // STATE_SECRET
		MFAMasterKey []byte `yaml:"-"` // MFA_ENC_MASTER_KEY, base64(32 bytes)
	} `yaml:"-"`
}

type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

type RouteLimit struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// WindowDuration parsea la ventana; Load ya validó el string.
func (r RouteLimit) WindowDuration() time.Duration {
	d, err := time.ParseDuration(r.Window)
	if err != nil {
		return time.Minute
	}
	return d
}

func defaultLimit(r *RouteLimit, limit int) {
	if r.Limit == 0 {
		r.Limit = limit
	}
	if r.Window == "" {
		r.Window = "1m"
	}
}

// Load lee el YAML, aplica defaults, pisa con env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "gatekeeper"
	}
	if c.JWT.Audience == "" {
		c.JWT.Audience = "app"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "15m"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "720h" // 30d
	}
	if c.Rate.Driver == "" {
		c.Rate.Driver = "memory"
	}
	defaultLimit(&c.Rate.Start, 20)
	defaultLimit(&c.Rate.Callback, 60)
	defaultLimit(&c.Rate.Exchange, 60)
	defaultLimit(&c.Rate.Refresh, 120)
	defaultLimit(&c.Rate.Logout, 120)
	defaultLimit(&c.Rate.MFASetup, 20)
	defaultLimit(&c.Rate.MFAVerify, 30)
	defaultLimit(&c.Rate.MFADisable, 20)
	defaultLimit(&c.Rate.Roles, 60)

	// validate string durations
	for _, d := range []string{c.JWT.AccessTTL, c.JWT.RefreshTTL} {
		if _, err := time.ParseDuration(d); err != nil {
			return nil, fmt.Errorf("config: duración inválida %q: %w", d, err)
		}
	}
	for _, rl := range []RouteLimit{
		c.Rate.Start, c.Rate.Callback, c.Rate.Exchange, c.Rate.Refresh,
		c.Rate.Logout, c.Rate.MFASetup, c.Rate.MFAVerify, c.Rate.MFADisable,
		c.Rate.Roles,
	} {
		if _, err := time.ParseDuration(rl.Window); err != nil {
			return nil, fmt.Errorf("config: ventana de rate inválida %q: %w", rl.Window, err)
		}
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// AccessTTLDuration ya validado en Load.
func (c *Config) AccessTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.JWT.AccessTTL)
	return d
}

// RefreshTTLDuration ya validado en Load.
func (c *Config) RefreshTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.JWT.RefreshTTL)
	return d
}

// Validate revisa lo que no puede faltar para arrancar.
func (c *Config) Validate() error {
	if len(c.Secrets.JWTSecret) == 0 {
		return errors.New("config: JWT_SECRET es requerido")
	}
	if len(c.Secrets.StateSecret) == 0 {
		return errors.New("config: STATE_SECRET es requerido")
	}
	// La clave MFA es opcional en dev (secretos TOTP quedan en claro);
	// en prod es obligatoria.
	if strings.EqualFold(c.App.Env, "prod") && len(c.Secrets.MFAMasterKey) == 0 {
		return errors.New("config: MFA_ENC_MASTER_KEY es requerido en prod")
	}
	if len(c.Secrets.MFAMasterKey) != 0 && len(c.Secrets.MFAMasterKey) != 32 {
		return errors.New("config: MFA_ENC_MASTER_KEY debe ser base64(32 bytes)")
	}
	switch c.Storage.Driver {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("config: storage driver desconocido %q", c.Storage.Driver)
	}
	return nil
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

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides pisa el YAML con variables de entorno. Los secretos
// SOLO entran por acá.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Storage.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Storage.Postgres.DSN = v
	}

	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_ACCESS_TTL"); ok {
		if _, err := time.ParseDuration(v); err == nil {
			c.JWT.AccessTTL = v
		}
	}
	if v, ok := getEnvStr("JWT_REFRESH_TTL"); ok {
		if _, err := time.ParseDuration(v); err == nil {
			c.JWT.RefreshTTL = v
		}
	}

	// Providers
	if v, ok := getEnvStr("GOOGLE_CLIENT_ID"); ok {
		c.Providers.Google.ClientID = v
	}
	if v, ok := getEnvStr("GOOGLE_CLIENT_SECRET"); ok {
		c.Providers.Google.ClientSecret = v
	}
	if v, ok := getEnvStr("GOOGLE_REDIRECT_URI"); ok {
		c.Providers.Google.RedirectURI = v
	}
	if v, ok := getEnvStr("MICROSOFT_CLIENT_ID"); ok {
		c.Providers.Microsoft.ClientID = v
	}
	if v, ok := getEnvStr("MICROSOFT_CLIENT_SECRET"); ok {
		c.Providers.Microsoft.ClientSecret = v
	}
	if v, ok := getEnvStr("MICROSOFT_REDIRECT_URI"); ok {
		c.Providers.Microsoft.RedirectURI = v
	}

	// Secretos
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.Secrets.JWTSecret = []byte(v)
	}
	if v, ok := getEnvStr("STATE_SECRET"); ok {
		c.Secrets.StateSecret = []byte(v)
	}
	if v, ok := getEnvStr("MFA_ENC_MASTER_KEY"); ok {
		if raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v)); err == nil {
			c.Secrets.MFAMasterKey = raw
		}
	}
}
