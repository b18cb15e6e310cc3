// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment ("development", "production"). Controls log encoding.
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the gin HTTP server listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR" validate:"required"`
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR" validate:"required"`
	// DatabaseURL is the Postgres DSN for the tenant directory, users, sessions and violations.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the redis:// URL used when SESSION_STORE=redis.
	RedisURL string `mapstructure:"REDIS_URL"`
	// SessionStore selects the session backend.
	SessionStore string `mapstructure:"SESSION_STORE" validate:"oneof=redis postgres memory"`

	// SuperAdminDomains is a comma-separated allow-list of hosts that resolve to the super-admin context.
	// Listing "localhost" allows localhost on any port.
	SuperAdminDomains string `mapstructure:"SUPER_ADMIN_DOMAINS"`
	// APIDomain is the neutral API host; requests to it carry no tenant until a session refines them.
	APIDomain string `mapstructure:"API_DOMAIN"`
	// BaseDomain is the platform domain tenants hang under (e.g. example.com).
	BaseDomain string `mapstructure:"BASE_DOMAIN"`
	// SubdomainPattern is the hierarchical fallback template; must contain {tenant} and {base}.
	SubdomainPattern string `mapstructure:"SUBDOMAIN_PATTERN"`
	// DirectoryTimeout bounds the exact-domain directory lookup (e.g. "3.5s").
	DirectoryTimeout string `mapstructure:"DIRECTORY_TIMEOUT"`
	// FallbackTimeout bounds the single subdomain fallback lookup.
	FallbackTimeout string `mapstructure:"FALLBACK_TIMEOUT"`
	// DirectoryCacheSize is the number of resolved domains kept in the directory cache; 0 disables it.
	DirectoryCacheSize int `mapstructure:"DIRECTORY_CACHE_SIZE" validate:"gte=0"`
	// DirectoryCacheTTL is how long a cached directory entry stays valid.
	DirectoryCacheTTL string `mapstructure:"DIRECTORY_CACHE_TTL"`

	// SessionStoreTimeout bounds each session store call.
	SessionStoreTimeout string `mapstructure:"SESSION_STORE_TIMEOUT"`
	// MaxConcurrentSessions is the per-user active session cap; the oldest is evicted beyond it. 0 disables the cap.
	MaxConcurrentSessions int `mapstructure:"MAX_CONCURRENT_SESSIONS" validate:"gte=0"`
	// IPMismatchSeverity is the severity recorded when a session is used from a different IP.
	IPMismatchSeverity string `mapstructure:"IP_MISMATCH_SEVERITY" validate:"oneof=low medium high critical"`
	// UserAgentMismatchSeverity is the severity recorded when the user-agent changes mid-session.
	UserAgentMismatchSeverity string `mapstructure:"USER_AGENT_MISMATCH_SEVERITY" validate:"oneof=low medium high critical"`
	// MismatchFatalSeverity is the lowest mismatch severity that terminates the session.
	MismatchFatalSeverity string `mapstructure:"MISMATCH_FATAL_SEVERITY" validate:"oneof=low medium high critical"`
	// SeverityPolicyFile optionally replaces the built-in Rego mismatch policy.
	SeverityPolicyFile string `mapstructure:"SEVERITY_POLICY_FILE"`

	// ViolationRetention is how long violations are kept in memory.
	ViolationRetention string `mapstructure:"VIOLATION_RETENTION"`
	// ViolationCapacity caps the in-memory violation log.
	ViolationCapacity int `mapstructure:"VIOLATION_CAPACITY" validate:"gt=0"`
	// ViolationSweepInterval is the period of the background retention sweep.
	ViolationSweepInterval string `mapstructure:"VIOLATION_SWEEP_INTERVAL"`
	// ViolationSinkTimeout bounds the durable violation write.
	ViolationSinkTimeout string `mapstructure:"VIOLATION_SINK_TIMEOUT"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim on session tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on session tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. When set, violations are streamed to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// ViolationKafkaTopic is the Kafka topic for violation events.
	ViolationKafkaTopic string `mapstructure:"VIOLATION_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the violation worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes violation events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	// LogFile, when set, adds a rotating file sink.
	LogFile string `mapstructure:"LOG_FILE"`
	// CORSAllowedOrigins is a comma-separated list of origins allowed by the HTTP server.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var validate = validator.New()

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("SUPER_ADMIN_DOMAINS", "localhost")
	v.SetDefault("API_DOMAIN", "")
	v.SetDefault("BASE_DOMAIN", "")
	v.SetDefault("SUBDOMAIN_PATTERN", "{prefix}.{tenant}.{base}")
	v.SetDefault("DIRECTORY_TIMEOUT", "3500ms")
	v.SetDefault("FALLBACK_TIMEOUT", "1500ms")
	v.SetDefault("DIRECTORY_CACHE_SIZE", 1024)
	v.SetDefault("DIRECTORY_CACHE_TTL", "30s")
	v.SetDefault("SESSION_STORE_TIMEOUT", "2s")
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 5)
	v.SetDefault("IP_MISMATCH_SEVERITY", "high")
	v.SetDefault("USER_AGENT_MISMATCH_SEVERITY", "medium")
	v.SetDefault("MISMATCH_FATAL_SEVERITY", "critical")
	v.SetDefault("SEVERITY_POLICY_FILE", "")
	v.SetDefault("VIOLATION_RETENTION", "24h")
	v.SetDefault("VIOLATION_CAPACITY", 10000)
	v.SetDefault("VIOLATION_SWEEP_INTERVAL", "1m")
	v.SetDefault("VIOLATION_SINK_TIMEOUT", "2s")
	v.SetDefault("JWT_ISSUER", "tenantguard")
	v.SetDefault("JWT_AUDIENCE", "tenantguard-api")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("VIOLATION_KAFKA_TOPIC", "tenantguard-violations")
	v.SetDefault("KAFKA_GROUP_ID", "tenantguard-violation-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.New("config: " + err.Error())
	}

	if cfg.SessionStore == "redis" && cfg.RedisURL == "" {
		return nil, errors.New("config: REDIS_URL must be set when SESSION_STORE=redis")
	}
	if cfg.SessionStore == "postgres" && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set when SESSION_STORE=postgres")
	}
	if !strings.Contains(cfg.SubdomainPattern, "{tenant}") || !strings.Contains(cfg.SubdomainPattern, "{base}") {
		return nil, errors.New("config: SUBDOMAIN_PATTERN must contain {tenant} and {base}")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// DirectoryDeadline parses DirectoryTimeout. Returns 3.5s if unset or invalid.
func (c *Config) DirectoryDeadline() time.Duration {
	return parseDuration(c.DirectoryTimeout, 3500*time.Millisecond)
}

// FallbackDeadline parses FallbackTimeout. Returns 1.5s if unset or invalid.
func (c *Config) FallbackDeadline() time.Duration {
	return parseDuration(c.FallbackTimeout, 1500*time.Millisecond)
}

// CacheTTL parses DirectoryCacheTTL. Returns 30s if unset or invalid.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.DirectoryCacheTTL, 30*time.Second)
}

// StoreDeadline parses SessionStoreTimeout. Returns 2s if unset or invalid.
func (c *Config) StoreDeadline() time.Duration {
	return parseDuration(c.SessionStoreTimeout, 2*time.Second)
}

// Retention parses ViolationRetention. Returns 24h if unset or invalid.
func (c *Config) Retention() time.Duration {
	return parseDuration(c.ViolationRetention, 24*time.Hour)
}

// SweepInterval parses ViolationSweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.ViolationSweepInterval, time.Minute)
}

// SinkDeadline parses ViolationSinkTimeout. Returns 2s if unset or invalid.
func (c *Config) SinkDeadline() time.Duration {
	return parseDuration(c.ViolationSinkTimeout, 2*time.Second)
}

// SuperAdminDomainList returns the lowercased super-admin allow-list.
func (c *Config) SuperAdminDomainList() []string {
	if c == nil {
		return nil
	}
	return lo.Map(splitCSV(c.SuperAdminDomains), func(s string, _ int) string { return strings.ToLower(s) })
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if violation streaming is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitCSV(c.KafkaBrokers)
}

// CORSOrigins returns the allowed CORS origins.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitCSV(c.CORSAllowedOrigins)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitCSV(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Uniq(lo.Compact(parts))
}
