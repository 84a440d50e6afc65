package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"hackreg/internal/common/cache"
	"hackreg/internal/common/db"
	"hackreg/internal/common/mq"
	"hackreg/internal/theme/syncclient"
	"hackreg/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultThemeCapacity        = 10
	defaultMaxRetries           = 5
	defaultRetryInitialInterval = 20 * time.Millisecond
	defaultRetryMaxInterval     = 500 * time.Millisecond
	defaultSelectTimeout        = 5 * time.Second
	defaultSyncCacheTTL         = 2 * time.Second
	defaultSyncBaseTTL          = 10 * time.Minute
	defaultAssignmentTopic      = "theme.assignment"
	defaultKafkaWriteTimeout    = 10 * time.Second
	defaultLocalCacheSize       = 1024

	memoryDriver = "memory"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AppConfig holds the theme-service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	Logger logger.Config `yaml:"logger"`

	Database   db.Config          `yaml:"database"`
	Redis      *cache.RedisConfig `yaml:"redis"`
	Kafka      KafkaConfig        `yaml:"kafka"`
	Assignment AssignmentConfig   `yaml:"assignment"`
	Sync       SyncConfig         `yaml:"sync"`
	Seed       SeedConfig         `yaml:"seed"`
}

// KafkaConfig holds the assignment event producer settings.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// AssignmentConfig holds theme selection settings.
type AssignmentConfig struct {
	// ThemeCapacity applies to themes created without an explicit capacity.
	ThemeCapacity        int           `yaml:"themeCapacity"`
	MaxRetries           int           `yaml:"maxRetries"`
	RetryInitialInterval time.Duration `yaml:"retryInitialInterval"`
	RetryMaxInterval     time.Duration `yaml:"retryMaxInterval"`
	SelectTimeout        time.Duration `yaml:"selectTimeout"`
	Topic                string        `yaml:"topic"`
}

// SyncConfig holds snapshot cache settings.
type SyncConfig struct {
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	BaseTTL        time.Duration `yaml:"baseTTL"`
	LocalCacheSize int           `yaml:"localCacheSize"`
}

// SeedConfig lists themes created at startup when missing.
type SeedConfig struct {
	Themes []SeedTheme `yaml:"themes"`
}

// SeedTheme is one seeded theme with its problem statements.
type SeedTheme struct {
	Name              string   `yaml:"name"`
	ShortDescription  string   `yaml:"shortDescription"`
	LongDescription   string   `yaml:"longDescription"`
	Capacity          int      `yaml:"capacity"`
	ProblemStatements []string `yaml:"problemStatements"`
}

func (c *AppConfig) usesMemoryStore() bool {
	return strings.EqualFold(string(c.Database.Dialect), memoryDriver)
}

func (k KafkaConfig) toProducerConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: k.BatchTimeout,
		WriteTimeout: k.WriteTimeout,
	}
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Dialect == "" {
		cfg.Database.Dialect = db.DialectMySQL
	}
	if !cfg.usesMemoryStore() {
		dialect, err := db.ParseDialect(string(cfg.Database.Dialect))
		if err != nil {
			return nil, err
		}
		cfg.Database.Dialect = dialect
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
	}
	if cfg.Redis != nil {
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr is required")
		}
		applyRedisDefaults(cfg.Redis)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if cfg.Kafka.WriteTimeout == 0 {
		cfg.Kafka.WriteTimeout = defaultKafkaWriteTimeout
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	// Assignment defaults.
	if cfg.Assignment.ThemeCapacity <= 0 {
		cfg.Assignment.ThemeCapacity = defaultThemeCapacity
	}
	if cfg.Assignment.MaxRetries <= 0 {
		cfg.Assignment.MaxRetries = defaultMaxRetries
	}
	if cfg.Assignment.RetryInitialInterval == 0 {
		cfg.Assignment.RetryInitialInterval = defaultRetryInitialInterval
	}
	if cfg.Assignment.RetryMaxInterval == 0 {
		cfg.Assignment.RetryMaxInterval = defaultRetryMaxInterval
	}
	if cfg.Assignment.SelectTimeout == 0 {
		cfg.Assignment.SelectTimeout = defaultSelectTimeout
	}
	if cfg.Assignment.Topic == "" {
		cfg.Assignment.Topic = defaultAssignmentTopic
	}

	if cfg.Sync.CacheTTL == 0 {
		cfg.Sync.CacheTTL = defaultSyncCacheTTL
	}
	// A rebuild racing an invalidation may cache a stale snapshot for one TTL;
	// it must expire before the next client poll.
	if cfg.Sync.CacheTTL >= syncclient.MinPollInterval {
		return nil, fmt.Errorf("sync cacheTTL %s must be below the poll interval %s", cfg.Sync.CacheTTL, syncclient.MinPollInterval)
	}
	if cfg.Sync.BaseTTL == 0 {
		cfg.Sync.BaseTTL = defaultSyncBaseTTL
	}
	if cfg.Sync.LocalCacheSize <= 0 {
		cfg.Sync.LocalCacheSize = defaultLocalCacheSize
	}

	for i, theme := range cfg.Seed.Themes {
		if strings.TrimSpace(theme.Name) == "" {
			return nil, fmt.Errorf("seed theme %d has no name", i)
		}
	}

	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}
