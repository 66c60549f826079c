// Package config loads tabula settings from defaults, an optional YAML file
// and TABULA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/telhawk-systems/tabula/common/database"
	"github.com/telhawk-systems/tabula/internal/ratelimit"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	AuthModeJWT    = "jwt"
	AuthModeRemote = "remote"

	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Environment string          `mapstructure:"environment" yaml:"environment"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Database    DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Auth        AuthConfig      `mapstructure:"auth" yaml:"auth"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Upload      UploadConfig    `mapstructure:"upload" yaml:"upload"`
	History     HistoryConfig   `mapstructure:"history" yaml:"history"`
	KeepAlive   KeepAliveConfig `mapstructure:"keepalive" yaml:"keepalive"`
	Redis       RedisConfig     `mapstructure:"redis" yaml:"redis"`
	NATS        NATSConfig      `mapstructure:"nats" yaml:"nats"`
	CORS        CORSConfig      `mapstructure:"cors" yaml:"cors"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type DatabaseConfig struct {
	// URL wins over the discrete Postgres fields when set.
	URL         string            `mapstructure:"url" yaml:"url"`
	Postgres    PostgresConfig    `mapstructure:"postgres" yaml:"postgres"`
	AutoMigrate bool              `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	Timeouts    database.Timeouts `mapstructure:"timeouts" yaml:"timeouts"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Database        string        `mapstructure:"database" yaml:"database"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"-"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
}

type AuthConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`

	JWTSecret string `mapstructure:"jwt_secret" yaml:"-"`
	Audience  string `mapstructure:"audience" yaml:"audience"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`

	ProviderURL       string        `mapstructure:"provider_url" yaml:"provider_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

type RateLimitConfig struct {
	Enabled       bool                        `mapstructure:"enabled" yaml:"enabled"`
	Backend       string                      `mapstructure:"backend" yaml:"backend"`
	SweepInterval time.Duration               `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Policies      map[string]ratelimit.Policy `mapstructure:"policies" yaml:"policies"`
}

type UploadConfig struct {
	// MaxSize is a human size such as "10MB".
	MaxSize string `mapstructure:"max_size" yaml:"max_size"`
}

type HistoryConfig struct {
	Store          string `mapstructure:"store" yaml:"store"`
	EnsureIdentity bool   `mapstructure:"ensure_identity" yaml:"ensure_identity"`
	ListLimit      int    `mapstructure:"list_limit" yaml:"list_limit"`
}

type KeepAliveConfig struct {
	Secret string `mapstructure:"secret" yaml:"-"`
}

type RedisConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvProduction)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.url", "")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "tabula")
	v.SetDefault("database.postgres.user", "tabula")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "require")
	v.SetDefault("database.postgres.max_conns", 25)
	v.SetDefault("database.postgres.min_conns", 5)
	v.SetDefault("database.postgres.max_conn_lifetime", "5m")
	v.SetDefault("database.postgres.max_conn_idle_time", "1m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.timeouts.query", database.DefaultQueryTimeout)
	v.SetDefault("database.timeouts.write", database.DefaultWriteTimeout)
	v.SetDefault("database.timeouts.bulk", database.DefaultBulkTimeout)
	v.SetDefault("database.timeouts.probe", database.DefaultProbeTimeout)

	v.SetDefault("auth.mode", AuthModeJWT)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.audience", "authenticated")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.provider_url", "")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.timeout", "5s")
	v.SetDefault("auth.cache_ttl", "0s")
	v.SetDefault("auth.requests_per_second", 50)
	v.SetDefault("auth.burst", 100)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", BackendMemory)
	v.SetDefault("ratelimit.sweep_interval", "5m")
	for _, p := range ratelimit.DefaultPolicies() {
		v.SetDefault("ratelimit.policies."+p.Name+".max_requests", p.MaxRequests)
		v.SetDefault("ratelimit.policies."+p.Name+".window", p.Window.String())
	}

	v.SetDefault("upload.max_size", "10MB")

	v.SetDefault("history.store", BackendPostgres)
	v.SetDefault("history.ensure_identity", false)
	v.SetDefault("history.list_limit", 50)

	v.SetDefault("keepalive.secret", "")

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// newViper builds the viper instance shared by Load and Watcher.
func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tabula")
	}

	// Environment variables override (TABULA_SERVER_PORT, etc.)
	v.SetEnvPrefix("TABULA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scheduler platforms inject the keep-alive secret as CRON_SECRET.
	_ = v.BindEnv("keepalive.secret", "TABULA_KEEPALIVE_SECRET", "CRON_SECRET")
	return v
}

func read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for name, p := range cfg.RateLimit.Policies {
		p.Name = name
		cfg.RateLimit.Policies[name] = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from configPath (or the default search path).
func Load(configPath string) (*Config, error) {
	return read(newViper(configPath))
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Auth.Mode {
	case AuthModeJWT:
	case AuthModeRemote:
		if _, err := url.ParseRequestURI(c.Auth.ProviderURL); err != nil {
			errs = append(errs, fmt.Errorf("auth.provider_url: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q must be %q or %q", c.Auth.Mode, AuthModeJWT, AuthModeRemote))
	}
	switch c.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend %q must be %q or %q", c.RateLimit.Backend, BackendMemory, BackendRedis))
	}
	switch c.History.Store {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("history.store %q must be %q or %q", c.History.Store, BackendMemory, BackendPostgres))
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		errs = append(errs, err)
	}
	t := c.Database.Timeouts
	for name, d := range map[string]time.Duration{"query": t.Query, "write": t.Write, "bulk": t.Bulk, "probe": t.Probe} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("database.timeouts.%s must not be negative", name))
		}
	}
	if _, err := c.Policies(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether error details may be exposed.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

// MaxUploadBytes parses upload.max_size.
func (c *Config) MaxUploadBytes() (int64, error) {
	size, err := units.FromHumanSize(c.Upload.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("upload.max_size: %w", err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("upload.max_size must be positive, got %q", c.Upload.MaxSize)
	}
	return size, nil
}

// Policies returns the configured rate limit policies sorted by name. The
// built-in convert, history and auth policies must be present.
func (c *Config) Policies() ([]ratelimit.Policy, error) {
	policies := make([]ratelimit.Policy, 0, len(c.RateLimit.Policies))
	for _, p := range c.RateLimit.Policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	for _, name := range []string{ratelimit.PolicyConvert, ratelimit.PolicyHistory, ratelimit.PolicyAuth} {
		if _, ok := c.RateLimit.Policies[name]; !ok {
			return nil, fmt.Errorf("%w: %q is not configured", ratelimit.ErrInvalidPolicy, name)
		}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies, nil
}

// PostgresDSN returns database.url or a DSN built from database.postgres.
func (c *Config) PostgresDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	pg := c.Database.Postgres
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pg.User, pg.Password),
		Host:     fmt.Sprintf("%s:%d", pg.Host, pg.Port),
		Path:     "/" + pg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(pg.SSLMode),
	}
	return u.String()
}
