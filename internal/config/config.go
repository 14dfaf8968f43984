package config

import (
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Redis     Redis     `mapstructure:"redis"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Storage   Storage   `mapstructure:"storage"`
	Worker    Worker    `mapstructure:"worker"`
	Retry     Retry     `mapstructure:"retry"`
	Retention Retention `mapstructure:"retention"`
	Engines   Engines   `mapstructure:"engines"`
	Billing   Billing   `mapstructure:"billing"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
}

// Redis holds configuration for the key-value store backing the task
// queue, task records and credit balances.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Kafka holds configuration for the task lifecycle event topic.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Storage holds configuration for the file storage backend.
type Storage struct {
	Backend   string `mapstructure:"backend"` // "local" or "minio"
	UploadDir string `mapstructure:"upload_dir"`
	ResultDir string `mapstructure:"result_dir"`
	Minio     Minio  `mapstructure:"minio"`
}

// Minio holds S3-compatible storage settings used when backend is "minio".
type Minio struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	ScratchDir string `mapstructure:"scratch_dir"` // local staging area for engine I/O
}

// Worker holds the task consumer loop settings.
type Worker struct {
	PopTimeout   time.Duration `mapstructure:"pop_timeout"`   // blocking pop timeout per iteration
	ErrorBackoff time.Duration `mapstructure:"error_backoff"` // pause after a loop-level failure
}

// Retry defines the retry policy for Kafka sends and other external calls.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Retention bounds how long finished task records stay readable.
type Retention struct {
	TaskTTL time.Duration `mapstructure:"task_ttl"`
}

// Engines configures the processing backends per edit mode.
type Engines struct {
	Comfy    ComfyEngine  `mapstructure:"comfy"`
	HeadSwap RemoteEngine `mapstructure:"head_swap"`
}

// ComfyEngine configures the local graph-workflow engine.
type ComfyEngine struct {
	URL          string        `mapstructure:"url"`
	WorkflowPath string        `mapstructure:"workflow_path"`
	Timeout      time.Duration `mapstructure:"timeout"`       // overall wall-clock budget
	PollInterval time.Duration `mapstructure:"poll_interval"` // status poll spacing
}

// RemoteEngine configures a stateless external HTTP API engine.
type RemoteEngine struct {
	URL              string            `mapstructure:"url"`
	APIKey           string            `mapstructure:"api_key"`
	AuthType         string            `mapstructure:"auth_type"`   // "bearer", "api_key" or "custom"
	AuthHeader       string            `mapstructure:"auth_header"` // header name for "custom"
	Method           string            `mapstructure:"method"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	RetryTimes       int               `mapstructure:"retry_times"`
	RetryDelay       time.Duration     `mapstructure:"retry_delay"`
	EncodeImages     bool              `mapstructure:"encode_images"`
	DecodeResult     bool              `mapstructure:"decode_result"`
	ResultKey        string            `mapstructure:"result_key"`
	ExtraParams      map[string]string `mapstructure:"extra_params"`
	HealthURL        string            `mapstructure:"health_url"`
	SkipClientErrors bool              `mapstructure:"skip_client_errors"` // stop retrying on 4xx
}

// Billing holds the credit gate settings and the plan catalog.
type Billing struct {
	Enabled bool           `mapstructure:"enabled"`
	Costs   map[string]int `mapstructure:"costs"` // edit mode -> credits per task
	Plans   []Plan         `mapstructure:"plans"`
}

// Plan is a read-only catalog entry used by the billing collaborator.
type Plan struct {
	Name    string `mapstructure:"name"`
	Credits int    `mapstructure:"credits"`
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	c := config.New()

	if err := c.Load(path); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	var cfg Config
	if err := c.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to unmarshal config")
	}

	return &cfg
}
