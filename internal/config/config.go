package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment
// variables. Every field below corresponds to an enumerated environment
// variable of the access-control core.
type Config struct {
	// Mode selects the runtime mode: "api" or "worker".
	Mode string `env:"SAFEGUARD_MODE" envDefault:"api"`

	// Server
	Host string `env:"SAFEGUARD_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"4500"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME" envDefault:"safeguard"`
	DBUser     string `env:"DB_USER" envDefault:"safeguard"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"safeguard"`
	DBPoolMax  int    `env:"DB_POOL_MAX" envDefault:"20"`

	// Redis (rate limiting, cross-instance event bridge)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// CORS
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// Identity
	JWTSecret                 string `env:"JWT_SECRET"`
	AccessTTLSeconds          int    `env:"ACCESS_TTL_SECONDS" envDefault:"3600"`
	RefreshTTLSeconds         int    `env:"REFRESH_TTL_SECONDS" envDefault:"604800"`
	PasswordHashCost          int    `env:"PASSWORD_HASH_COST" envDefault:"12"`
	LoginLockoutThreshold     int    `env:"LOGIN_LOCKOUT_THRESHOLD" envDefault:"5"`
	LoginLockoutWindowSeconds int    `env:"LOGIN_LOCKOUT_WINDOW_SECONDS" envDefault:"900"`
	LoginLockoutDuration      int    `env:"LOGIN_LOCKOUT_DURATION_SECONDS" envDefault:"900"`

	// VisitEngine
	VisitExpiryGraceSeconds    int `env:"VISIT_EXPIRY_GRACE_SECONDS" envDefault:"7200"`
	ExpirySweepIntervalSeconds int `env:"EXPIRY_SWEEP_INTERVAL_SECONDS" envDefault:"300"`

	// Notifications
	NotificationRetentionDays int `env:"NOTIFICATION_RETENTION_DAYS" envDefault:"30"`

	// General API rate limiting (distinct from login lockout)
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"900"`
	RateLimitMaxRequests   int `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseURL assembles the pgx connection string from the discrete DB_*
// fields.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
