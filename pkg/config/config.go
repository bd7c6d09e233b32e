// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Indexer, Search, Postings, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Postings PostingsConfig `yaml:"postings"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the sustained requests per second allowed per client on
	// write routes; zero disables limiting.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// StorageConfig points at the directory holding document streams, tree
// files and posting files.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// IndexerConfig controls the index build pipeline.
type IndexerConfig struct {
	BuildWorkers   int           `yaml:"buildWorkers"`
	QueueSize      int           `yaml:"queueSize"`
	ReloadInterval time.Duration `yaml:"reloadInterval"`
	// WatchDataDir reloads trees as soon as tree files change on disk,
	// in addition to the periodic reload.
	WatchDataDir bool `yaml:"watchDataDir"`
}

// SearchConfig controls query parsing defaults and result limits.
type SearchConfig struct {
	DefaultFields  []string `yaml:"defaultFields"`
	DefaultTake    int      `yaml:"defaultTake"`
	MaxTake        int      `yaml:"maxTake"`
	FuzzyThreshold float64  `yaml:"fuzzyThreshold"`
}

// PostingsConfig selects between the local posting repository and the
// remote postings service. An empty Endpoint means local.
type PostingsConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Port       int           `yaml:"port"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// PostgresConfig holds PostgreSQL connection parameters. When Enabled is
// false, batch versions are counted in files under the data directory.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
	// StartOffset is "first" or "last" and applies to groups with no
	// committed offset.
	StartOffset     string `yaml:"startOffset"`
	HandlerAttempts int    `yaml:"handlerAttempts"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	LocalEntries int           `yaml:"localEntries"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// TracingConfig controls OpenTelemetry span export. Output is a file path
// or "stderr".
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Output      string  `yaml:"output"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       200,
			RateBurst:       50,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Indexer: IndexerConfig{
			BuildWorkers:   1,
			QueueSize:      1000,
			ReloadInterval: 30 * time.Second,
			WatchDataDir:   true,
		},
		Search: SearchConfig{
			DefaultFields: []string{"title", "body"},
			DefaultTake:   10,
			MaxTake:       1000,
		},
		Postings: PostingsConfig{
			Port:       8083,
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "treeindex",
			User:            "treeindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "treeindex-group",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexComplete:  "index.complete",
			},
			StartOffset:     "last",
			HandlerAttempts: 3,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			CacheTTL:     60 * time.Second,
			LocalEntries: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Tracing: TracingConfig{
			Output:      "stderr",
			SampleRatio: 1,
		},
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.dataDir must not be empty")
	}
	if c.Indexer.BuildWorkers < 1 {
		return fmt.Errorf("indexer.buildWorkers must be at least 1, got %d", c.Indexer.BuildWorkers)
	}
	if c.Indexer.QueueSize < 1 {
		return fmt.Errorf("indexer.queueSize must be at least 1, got %d", c.Indexer.QueueSize)
	}
	if c.Search.FuzzyThreshold < 0 || c.Search.FuzzyThreshold > 1 {
		return fmt.Errorf("search.fuzzyThreshold must be within [0,1], got %g", c.Search.FuzzyThreshold)
	}
	if len(c.Search.DefaultFields) == 0 {
		return fmt.Errorf("search.defaultFields must name at least one field")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative, got %g", c.Server.RateLimit)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sampleRatio must be within [0,1], got %g", c.Tracing.SampleRatio)
	}
	switch c.Kafka.StartOffset {
	case "", "first", "last":
	default:
		return fmt.Errorf("kafka.startOffset must be \"first\" or \"last\", got %q", c.Kafka.StartOffset)
	}
	return nil
}

// applyEnvOverrides reads TI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TI_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TI_INDEXER_BUILD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.BuildWorkers = n
		}
	}
	if v := os.Getenv("TI_INDEXER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.QueueSize = n
		}
	}
	if v := os.Getenv("TI_SEARCH_FIELDS"); v != "" {
		cfg.Search.DefaultFields = strings.Split(v, ",")
	}
	if v := os.Getenv("TI_SEARCH_FUZZY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.FuzzyThreshold = f
		}
	}
	if v := os.Getenv("TI_POSTINGS_ENDPOINT"); v != "" {
		cfg.Postings.Endpoint = v
	}
	if v := os.Getenv("TI_POSTINGS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postings.Port = port
		}
	}
	if v := os.Getenv("TI_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TI_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TI_KAFKA_START_OFFSET"); v != "" {
		cfg.Kafka.StartOffset = v
	}
	if v := os.Getenv("TI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TI_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
}
