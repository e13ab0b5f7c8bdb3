// Package config loads roomcast settings from a YAML file and the
// environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables. A missing file is not an error; defaults apply.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for roomcast.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Room     RoomConfig     `yaml:"room"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the WebSocket transport settings.
type ServerConfig struct {
	Port            string          `yaml:"port"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	SendBuffer      int             `yaml:"send_buffer"` // per-connection outbound queue
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// RateLimitConfig defines per-connection inbound message limits.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text, console
}

// StorageConfig selects and configures the retained-state backend.
type StorageConfig struct {
	Type        string        `yaml:"type"` // file, badger, s3, mongo, memory
	Path        string        `yaml:"path"` // snapshot file for type file
	Name        string        `yaml:"name"` // artifact name for badger, s3, mongo
	Codec       string        `yaml:"codec"`
	Compression string        `yaml:"compression"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTopics   int           `yaml:"max_topics"`
	Breaker     BreakerConfig `yaml:"breaker"`
	S3          S3Config      `yaml:"s3"`
	Badger      BadgerConfig  `yaml:"badger"`
	Mongo       MongoConfig   `yaml:"mongo"`
}

// BreakerConfig configures the storage circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"` // 0 disables
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// S3Config holds S3 or S3-compatible object store settings.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// BadgerConfig holds BadgerDB settings.
type BadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DispatchConfig tunes broadcast fan-out.
type DispatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RoomConfig bounds client-supplied identifiers.
type RoomConfig struct {
	MaxTopicLength int `yaml:"max_topic_length"`
	MaxUserLength  int `yaml:"max_user_length"`
}

// MetricsConfig holds OpenTelemetry metrics export settings.
type MetricsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"` // OTLP gRPC collector
	ServiceName string        `yaml:"service_name"`
	Interval    time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: 4096,
			RateLimit: RateLimitConfig{
				Burst:          5,
				RefillInterval: time.Second,
			},
			SendBuffer:      256,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Type:        "file",
			Path:        "data/retained.json",
			Name:        "retained",
			Codec:       "json",
			Compression: "none",
			Timeout:     5 * time.Second,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "roomcast",
			},
			Badger: BadgerConfig{
				Dir: "data/badger",
			},
			Mongo: MongoConfig{
				Database:   "roomcast",
				Collection: "retained",
			},
		},
		Dispatch: DispatchConfig{
			Concurrency: 16,
		},
		Room: RoomConfig{
			MaxTopicLength: 128,
			MaxUserLength:  64,
		},
		Metrics: MetricsConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "roomcast",
			Interval:    10 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides. If filename is empty or does not exist, defaults are used.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from environment variables. Unparseable or
// non-positive numeric values are ignored.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.Server.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.Server.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.Server.RateLimit.Burst = parseIntValue(burst, cfg.Server.RateLimit.Burst)
	}

	// Whole seconds, as the variable has always been read.
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.Server.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.Server.RateLimit.RefillInterval)
	}

	if typ := os.Getenv("ROOMCAST_STORAGE_TYPE"); typ != "" {
		cfg.Storage.Type = strings.ToLower(typ)
	}

	if path := os.Getenv("ROOMCAST_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}

	if level := os.Getenv("ROOMCAST_LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port cannot be empty")
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.RateLimit.Burst < 1 {
		return fmt.Errorf("server.rate_limit.burst must be at least 1")
	}
	if c.Server.RateLimit.RefillInterval <= 0 {
		return fmt.Errorf("server.rate_limit.refill_interval must be positive")
	}
	if c.Server.SendBuffer < 1 {
		return fmt.Errorf("server.send_buffer must be at least 1")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true, "console": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json, console")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be at least 1")
	}
	if c.Room.MaxTopicLength < 1 {
		return fmt.Errorf("room.max_topic_length must be at least 1")
	}
	if c.Room.MaxUserLength < 1 {
		return fmt.Errorf("room.max_user_length must be at least 1")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.endpoint required when metrics are enabled")
		}
		if c.Metrics.ServiceName == "" {
			return fmt.Errorf("metrics.service_name cannot be empty when metrics are enabled")
		}
		if c.Metrics.Interval <= 0 {
			return fmt.Errorf("metrics.interval must be positive")
		}
	}

	return nil
}

func (s StorageConfig) validate() error {
	switch s.Type {
	case "file":
		if s.Path == "" {
			return fmt.Errorf("storage.path required when type is file")
		}
	case "badger":
		if !s.Badger.InMemory && s.Badger.Dir == "" {
			return fmt.Errorf("storage.badger.dir required when type is badger")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket required when type is s3")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("storage.s3.region required when type is s3")
		}
	case "mongo":
		if s.Mongo.URI == "" || s.Mongo.Database == "" || s.Mongo.Collection == "" {
			return fmt.Errorf("storage.mongo.uri, database and collection required when type is mongo")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.type must be one of: file, badger, s3, mongo, memory")
	}

	if s.Type != "file" && s.Type != "memory" && s.Name == "" {
		return fmt.Errorf("storage.name required when type is %s", s.Type)
	}

	validCodecs := map[string]bool{"json": true, "msgpack": true}
	if !validCodecs[s.Codec] {
		return fmt.Errorf("storage.codec must be one of: json, msgpack")
	}
	validCompression := map[string]bool{"none": true, "zstd": true}
	if !validCompression[s.Compression] {
		return fmt.Errorf("storage.compression must be one of: none, zstd")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("storage.timeout cannot be negative")
	}
	if s.MaxTopics < 0 {
		return fmt.Errorf("storage.max_topics cannot be negative")
	}
	if s.Breaker.FailureThreshold > 0 && s.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("storage.breaker.reset_timeout must be positive when the breaker is enabled")
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
