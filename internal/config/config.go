package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/richardliu001/video-service/internal/model"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Storage   StorageConfig   `yaml:"storage"`
	Upload    UploadConfig    `yaml:"upload"`
	Stream    StreamConfig    `yaml:"stream"`
	Relay     RelayConfig     `yaml:"relay"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// PostgresConfig holds the metadata store connection string. A DSN that is not
// a postgres URL or keyword string is opened with sqlite.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type StorageConfig struct {
	VideosPath      string `yaml:"videos_path"`
	PreviewPath     string `yaml:"preview_path"`
	CopyBufferBytes int    `yaml:"copy_buffer_bytes"`
}

type UploadConfig struct {
	MaxTitleLength int           `yaml:"max_title_length"`
	MaxBytes       int64         `yaml:"max_bytes"`
	CommitTimeout  time.Duration `yaml:"commit_timeout"`
}

type StreamConfig struct {
	ChunkSize      int64  `yaml:"chunk_size"`
	DefaultVideoID string `yaml:"default_video_id"`
}

type RelayConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	OrphanGrace time.Duration `yaml:"orphan_grace"`
	SweepEvery  time.Duration `yaml:"sweep_every"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "video.events"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.Storage.VideosPath == "" {
		c.Storage.VideosPath = "videos"
	}
	if c.Storage.PreviewPath == "" {
		c.Storage.PreviewPath = "previews"
	}
	if c.Storage.CopyBufferBytes == 0 {
		c.Storage.CopyBufferBytes = 64 << 10
	}
	if c.Upload.MaxTitleLength == 0 {
		c.Upload.MaxTitleLength = 200
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = 2 << 30
	}
	if c.Upload.CommitTimeout == 0 {
		c.Upload.CommitTimeout = 10 * time.Second
	}
	if c.Stream.ChunkSize == 0 {
		c.Stream.ChunkSize = 1_000_000
	}
	if c.Relay.Interval == 0 {
		c.Relay.Interval = time.Second
	}
	if c.Relay.BatchSize == 0 {
		c.Relay.BatchSize = 100
	}
	if c.Relay.OrphanGrace == 0 {
		c.Relay.OrphanGrace = time.Hour
	}
	if c.Relay.SweepEvery == 0 {
		c.Relay.SweepEvery = 10 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Stream.ChunkSize < 1 {
		errs = append(errs, errors.New("stream.chunk_size must be positive"))
	}
	if c.Storage.CopyBufferBytes < 4<<10 || c.Storage.CopyBufferBytes > 1<<20 {
		errs = append(errs, errors.New("storage.copy_buffer_bytes must be between 4KiB and 1MiB"))
	}
	if c.Upload.MaxTitleLength < 1 || c.Upload.MaxTitleLength > model.MaxTitleLength {
		errs = append(errs, fmt.Errorf("upload.max_title_length must be between 1 and %d", model.MaxTitleLength))
	}
	if c.Upload.MaxBytes < 1 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	if c.Upload.CommitTimeout < 0 {
		errs = append(errs, errors.New("upload.commit_timeout must not be negative"))
	}
	if c.Relay.BatchSize < 1 {
		errs = append(errs, errors.New("relay.batch_size must be positive"))
	}
	if c.Relay.Interval <= 0 {
		errs = append(errs, errors.New("relay.interval must be positive"))
	}
	if c.Relay.SweepEvery <= 0 {
		errs = append(errs, errors.New("relay.sweep_every must be positive"))
	}
	if c.Relay.OrphanGrace <= 0 {
		errs = append(errs, errors.New("relay.orphan_grace must be positive"))
	}
	return errors.Join(errs...)
}
