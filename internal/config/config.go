package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations probed in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/soc-portal/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "SOC_CONFIG_PATH"

// envPrefix namespaces environment overrides, e.g. SOC_AUTH_SECRET maps to
// auth.secret.
const envPrefix = "SOC_"

// Config is the full runtime configuration of the portal API.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	CSRF      CSRFConfig      `koanf:"csrf"`
	Keycloak  KeycloakConfig  `koanf:"keycloak"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	MigrationsDir   string        `koanf:"migrations_dir"`
}

type AuthConfig struct {
	// Secret signs locally issued session tokens (HS256).
	Secret string `koanf:"secret"`
	// TokenTTL bounds cookie session lifetime. Not sliding.
	TokenTTL       time.Duration `koanf:"token_ttl"`
	CookieSecure   bool          `koanf:"cookie_secure"`
	CookieSameSite string        `koanf:"cookie_samesite"`
}

type CSRFConfig struct {
	Secret      string        `koanf:"secret"`
	TokenTTL    time.Duration `koanf:"token_ttl"`
	ExemptPaths []string      `koanf:"exempt_paths"`
}

type KeycloakConfig struct {
	BaseURL  string `koanf:"base_url"`
	Realm    string `koanf:"realm"`
	ClientID string `koanf:"client_id"`
	// Audience is optional: when empty, audience verification is skipped.
	Audience  string        `koanf:"audience"`
	AdminUser string        `koanf:"admin_user"`
	AdminPass string        `koanf:"admin_pass"`
	JWKSTTL   time.Duration `koanf:"jwks_ttl"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RateLimitConfig struct {
	PerSecond int `koanf:"per_second"`
	Burst     int `koanf:"burst"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			MigrationsDir:   "migrations",
		},
		Auth: AuthConfig{
			TokenTTL:       24 * time.Hour,
			CookieSecure:   false,
			CookieSameSite: "lax",
		},
		CSRF: CSRFConfig{
			TokenTTL:    24 * time.Hour,
			ExemptPaths: []string{"/auth/login", "/auth/register"},
		},
		Keycloak: KeycloakConfig{
			BaseURL:  "http://keycloak:8080",
			Realm:    "soc",
			ClientID: "soc-portal",
			JWKSTTL:  15 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			PerSecond: 50,
			Burst:     100,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// SOC_-prefixed environment variables, in increasing priority.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("config: auth.secret is required")
	}
	if strings.TrimSpace(c.CSRF.Secret) == "" {
		return errors.New("config: csrf.secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	if c.CSRF.TokenTTL <= 0 {
		return errors.New("config: csrf.token_ttl must be positive")
	}
	if _, err := ParseSameSite(c.Auth.CookieSameSite); err != nil {
		return err
	}
	return nil
}

// ParseSameSite maps a config string to the http.SameSite constant.
func ParseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("config: unknown samesite value %q", v)
	}
}

func findConfigFile() string {
	if path := strings.TrimSpace(os.Getenv(ConfigPathEnvVar)); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envToKey turns SOC_KEYCLOAK_BASE_URL into keycloak.base_url. Section and
// key are split on the first underscore after the prefix is stripped.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}
