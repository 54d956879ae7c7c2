// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Corpus sources understood by the index builder.
const (
	CorpusSourceCSV      = "csv"
	CorpusSourcePostgres = "postgres"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the book catalog.
type PostgresConfig struct {
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

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables index-published notifications.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexPublished string `yaml:"indexPublished"`
}

// RedisConfig holds Redis connection and result-caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls where the corpus comes from, how text is segmented
// and where the built index file lives.
type IndexConfig struct {
	Path           string `yaml:"path"`
	CorpusSource   string `yaml:"corpusSource"`
	CSVPath        string `yaml:"csvPath"`
	DictionaryPath string `yaml:"dictionaryPath"`
	StopWordsPath  string `yaml:"stopWordsPath"`
	MaxFeatures    int    `yaml:"maxFeatures"`
	MinTokenRunes  int    `yaml:"minTokenRunes"`
	Workers        int    `yaml:"workers"`
}

// SearchConfig controls recommendation limits.
type SearchConfig struct {
	DefaultK int `yaml:"defaultK"`
	MaxK     int `yaml:"maxK"`
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

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "novelnest",
			User:            "novelnest",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "bookmatch-searcher",
			Topics: KafkaTopics{
				IndexPublished: "index.published",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Index: IndexConfig{
			Path:           "models/books.bmix",
			CorpusSource:   CorpusSourceCSV,
			CSVPath:        "data/books_sample.csv",
			DictionaryPath: "data/dictionary.txt",
			StopWordsPath:  "data/stopwords.txt",
			MaxFeatures:    20000,
			MinTokenRunes:  2,
			Workers:        4,
		},
		Search: SearchConfig{
			DefaultK: 5,
			MaxK:     50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	switch c.Index.CorpusSource {
	case CorpusSourceCSV, CorpusSourcePostgres:
	default:
		return fmt.Errorf("index.corpusSource must be %q or %q, got %q",
			CorpusSourceCSV, CorpusSourcePostgres, c.Index.CorpusSource)
	}
	if c.Index.Path == "" {
		return fmt.Errorf("index.path is required")
	}
	if c.Index.MaxFeatures < 0 {
		return fmt.Errorf("index.maxFeatures must not be negative")
	}
	if c.Index.MinTokenRunes < 1 {
		return fmt.Errorf("index.minTokenRunes must be at least 1")
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("index.workers must be at least 1")
	}
	if c.Search.DefaultK < 1 || c.Search.MaxK < c.Search.DefaultK {
		return fmt.Errorf("search limits invalid: defaultK=%d maxK=%d", c.Search.DefaultK, c.Search.MaxK)
	}
	return nil
}

// applyEnvOverrides reads BM_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BM_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BM_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BM_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BM_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BM_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BM_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("BM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BM_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("BM_INDEX_CORPUS_SOURCE"); v != "" {
		cfg.Index.CorpusSource = v
	}
	if v := os.Getenv("BM_INDEX_CSV_PATH"); v != "" {
		cfg.Index.CSVPath = v
	}
	if v := os.Getenv("BM_INDEX_DICTIONARY_PATH"); v != "" {
		cfg.Index.DictionaryPath = v
	}
	if v := os.Getenv("BM_INDEX_MAX_FEATURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.MaxFeatures = n
		}
	}
	if v := os.Getenv("BM_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BM_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
