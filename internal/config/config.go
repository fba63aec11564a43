package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingAPIURL is fatal: the gateway has nothing to proxy to.
var ErrMissingAPIURL = errors.New("Missing API_URL (set in .env)")

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Upstash   UpstashConfig   `mapstructure:"upstash"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Usage     UsageConfig     `mapstructure:"usage"`
	SSO       SSOConfig       `mapstructure:"sso"`
	TwoFactor TwoFactorConfig `mapstructure:"two_factor"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

type UpstreamConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Points         int    `mapstructure:"points"`
	WindowMs       int64  `mapstructure:"window_ms"`
	TrustedProxies string `mapstructure:"trusted_proxies"`
}

type UpstashConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SecurityConfig struct {
	AllowedOrigins string        `mapstructure:"allowed_origins"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTExpiry      time.Duration `mapstructure:"jwt_expiry"`
	AdminEmails    string        `mapstructure:"admin_emails"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type UsageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type SSOConfig struct {
	AppURL             string     `mapstructure:"app_url"`
	GoogleClientID     string     `mapstructure:"google_client_id"`
	GoogleClientSecret string     `mapstructure:"google_client_secret"`
	Okta               SAMLConfig `mapstructure:"okta"`
	Azure              SAMLConfig `mapstructure:"azure"`
}

type SAMLConfig struct {
	EntityID    string `mapstructure:"entity_id"`
	SSOURL      string `mapstructure:"sso_url"`
	Certificate string `mapstructure:"certificate"`
}

type TwoFactorConfig struct {
	Issuer string `mapstructure:"issuer"`
}

// Environment variable bound to each config key
var envBindings = map[string]string{
	"server.port":                "PORT",
	"server.environment":         "ENVIRONMENT",
	"server.log_level":           "LOG_LEVEL",
	"upstream.api_url":           "API_URL",
	"upstream.timeout":           "UPSTREAM_TIMEOUT",
	"rate_limit.points":          "RATE_LIMIT_POINTS",
	"rate_limit.window_ms":       "RATE_LIMIT_WINDOW_MS",
	"rate_limit.trusted_proxies": "TRUSTED_PROXIES",
	"upstash.url":                "UPSTASH_REDIS_REST_URL",
	"upstash.token":              "UPSTASH_REDIS_REST_TOKEN",
	"redis.addr":                 "REDIS_ADDR",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"security.allowed_origins":   "ALLOWED_ORIGINS",
	"security.jwt_secret":        "JWT_SECRET",
	"security.jwt_expiry":        "JWT_EXPIRY",
	"security.admin_emails":      "ADMIN_EMAILS",
	"database.url":               "DATABASE_URL",
	"usage.db_path":              "USAGE_DB_PATH",
	"sso.app_url":                "APP_URL",
	"sso.google_client_id":       "GOOGLE_CLIENT_ID",
	"sso.google_client_secret":   "GOOGLE_CLIENT_SECRET",
	"sso.okta.entity_id":         "OKTA_ENTITY_ID",
	"sso.okta.sso_url":           "OKTA_SSO_URL",
	"sso.okta.certificate":       "OKTA_CERTIFICATE",
	"sso.azure.entity_id":        "AZURE_ENTITY_ID",
	"sso.azure.sso_url":          "AZURE_SSO_URL",
	"sso.azure.certificate":      "AZURE_CERTIFICATE",
	"two_factor.issuer":          "TOTP_ISSUER",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("rate_limit.points", 60)
	v.SetDefault("rate_limit.window_ms", 60_000)
	v.SetDefault("security.allowed_origins", "http://localhost:3001,http://127.0.0.1:3001")
	v.SetDefault("security.jwt_expiry", 24*time.Hour)
	v.SetDefault("sso.app_url", "http://localhost:3001")
	v.SetDefault("two_factor.issuer", "Rightly")
}

// Load reads the configuration from the process environment.
// It does not validate; callers that need an upstream call Validate.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Upstream.APIURL = strings.TrimSpace(cfg.Upstream.APIURL)
	if cfg.RateLimit.Points <= 0 {
		cfg.RateLimit.Points = 60
	}
	if cfg.RateLimit.WindowMs <= 0 {
		cfg.RateLimit.WindowMs = 60_000
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = 10 * time.Second
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Upstream.APIURL == "" {
		return ErrMissingAPIURL
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// Returns the allow-list entries, trimmed and lowercased
func (s SecurityConfig) AllowedOriginList() []string {
	return splitList(s.AllowedOrigins, true)
}

// Emails granted the admin role at SSO sign-in, lowercased
func (s SecurityConfig) AdminEmailList() []string {
	return splitList(s.AdminEmails, true)
}

func (r RateLimitConfig) TrustedProxyList() []string {
	return splitList(r.TrustedProxies, false)
}

func (u UpstashConfig) Enabled() bool {
	return u.URL != "" && u.Token != ""
}

func splitList(raw string, lower bool) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return out
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Upstash.Token = mask(c.Upstash.Token)
	c.Redis.Password = mask(c.Redis.Password)
	c.Security.JWTSecret = mask(c.Security.JWTSecret)
	c.Database.URL = mask(c.Database.URL)
	c.SSO.GoogleClientSecret = mask(c.SSO.GoogleClientSecret)
	c.SSO.Okta.Certificate = mask(c.SSO.Okta.Certificate)
	c.SSO.Azure.Certificate = mask(c.SSO.Azure.Certificate)
	return c
}
