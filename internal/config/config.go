package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Progression ProgressionConfig `yaml:"progression"`
	Identity    IdentityConfig    `yaml:"identity"`
	Auth        AuthConfig        `yaml:"auth"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration for the archive
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration for sync ingestion
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ArchiveConfig holds season archive worker configuration
type ArchiveConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// ProgressionConfig holds anti-cheat and season rollover tuning
type ProgressionConfig struct {
	// PerSyncXPCeiling is the XP gain always accepted on a single sync
	PerSyncXPCeiling int64 `yaml:"per_sync_xp_ceiling"`
	// HourlyXPCeiling scales the accepted gain by elapsed hours, capped at
	// MaxElapsedHours
	HourlyXPCeiling int64 `yaml:"hourly_xp_ceiling"`
	MaxElapsedHours int64 `yaml:"max_elapsed_hours"`

	// ResetAckLevelSlack and ResetAckXPDivisor define when a client is
	// considered to have adopted a season reset: submitted level must be
	// within the slack of the floor and submitted xp below the pre-reset
	// value divided by the divisor.
	ResetAckLevelSlack int64 `yaml:"reset_ack_level_slack"`
	ResetAckXPDivisor  int64 `yaml:"reset_ack_xp_divisor"`

	// InsuranceMaxDebit bounds a single insurance XP deduction
	InsuranceMaxDebit int64 `yaml:"insurance_max_debit"`
}

// IdentityConfig holds identity resolver configuration
type IdentityConfig struct {
	// ScanBudget bounds the wall-clock time of fallback index-repair scans
	ScanBudget time.Duration `yaml:"scan_budget"`
	// LegacyCacheTTL bounds the process-local cache fronting legacy scans
	LegacyCacheTTL time.Duration `yaml:"legacy_cache_ttl"`
	// AllowList grants a subscription tier floor to specific identities and
	// lets them reclaim a previously owned display name
	AllowList []AllowListEntry `yaml:"allow_list"`
	// ProviderBaseURLs maps provider kind to its API base URL
	ProviderBaseURLs map[string]string `yaml:"provider_base_urls"`
}

// AllowListEntry grants a tier floor to one identity
type AllowListEntry struct {
	Email     string `yaml:"email"`
	Name      string `yaml:"name"`
	TierFloor int    `yaml:"tier_floor"`
}

// AuthConfig holds admin token and sync signature configuration
type AuthConfig struct {
	AdminJWTSecret string `yaml:"admin_jwt_secret"`
	// SyncHMACKey enables the signed-request check when non-empty
	SyncHMACKey string `yaml:"sync_hmac_key"`
	// SyncHMACMode is "off", "soft" (log only) or "enforce"
	SyncHMACMode string `yaml:"sync_hmac_mode"`
	// SyncHMACWindow is the accepted signature freshness window
	SyncHMACWindow time.Duration `yaml:"sync_hmac_window"`
}

// LeaderboardConfig holds rank query configuration
type LeaderboardConfig struct {
	DefaultLimit    int           `yaml:"default_limit"`
	MaxLimit        int           `yaml:"max_limit"`
	PresenceWindow  time.Duration `yaml:"presence_window"`
	BroadcastTopN   int           `yaml:"broadcast_top_n"`
	BroadcastOnSync bool          `yaml:"broadcast_on_sync"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "profile-sync"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "profile-ledger"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Archive defaults
	if c.Archive.Interval == 0 {
		c.Archive.Interval = 30 * time.Minute
	}
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = 1000
	}

	// Progression defaults
	if c.Progression.PerSyncXPCeiling == 0 {
		c.Progression.PerSyncXPCeiling = 5000
	}
	if c.Progression.HourlyXPCeiling == 0 {
		c.Progression.HourlyXPCeiling = 2000
	}
	if c.Progression.MaxElapsedHours == 0 {
		c.Progression.MaxElapsedHours = 24
	}
	if c.Progression.ResetAckLevelSlack == 0 {
		c.Progression.ResetAckLevelSlack = 2
	}
	if c.Progression.ResetAckXPDivisor == 0 {
		c.Progression.ResetAckXPDivisor = 2
	}
	if c.Progression.InsuranceMaxDebit == 0 {
		c.Progression.InsuranceMaxDebit = 1000
	}

	// Identity defaults
	if c.Identity.ScanBudget == 0 {
		c.Identity.ScanBudget = 2 * time.Second
	}
	if c.Identity.LegacyCacheTTL == 0 {
		c.Identity.LegacyCacheTTL = 5 * time.Minute
	}

	// Auth defaults
	if c.Auth.SyncHMACMode == "" {
		c.Auth.SyncHMACMode = "soft"
	}
	if c.Auth.SyncHMACWindow == 0 {
		c.Auth.SyncHMACWindow = 5 * time.Minute
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 100
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 1000
	}
	if c.Leaderboard.PresenceWindow == 0 {
		c.Leaderboard.PresenceWindow = 60 * time.Second
	}
	if c.Leaderboard.BroadcastTopN == 0 {
		c.Leaderboard.BroadcastTopN = 10
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Archive.Enabled = true
	return cfg
}
