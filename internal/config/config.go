package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the entire application configuration
type Config struct {
	Env       string          `json:"env"`
	Port      int             `json:"port"`
	AppName   string          `json:"app_name"`
	Services  ServicesConfig  `json:"services"`
	Storage   StorageConfig   `json:"storage"`
	Jobs      JobsConfig      `json:"jobs"`
	Redis     RedisConfig     `json:"redis"`
	RabbitMQ  RabbitMQConfig  `json:"rabbitmq"`
	AWS       AWSConfig       `json:"aws"`
	WebSocket WebSocketConfig `json:"websocket"`
	Logging   LoggingConfig   `json:"logging"`
	CORS      CORSConfig      `json:"cors"`
}

// ServicesConfig contains the endpoints of the external validation services
// consumed by the operation handlers
type ServicesConfig struct {
	QualityGateURL string `json:"quality_gate_url"`
	RequestTimeout int    `json:"request_timeout"` // seconds, per HTTP call
	PollInterval   int    `json:"poll_interval"`   // seconds between run-status polls
	MaxPollWait    int    `json:"max_poll_wait"`   // seconds before a run is declared timed out
}

// StorageConfig contains the on-disk layout for persisted artifacts
type StorageConfig struct {
	JobsDir      string `json:"jobs_dir"`
	ResultsDir   string `json:"results_dir"`
	ReportsDir   string `json:"reports_dir"`
	PipelinesDir string `json:"pipelines_dir"`
	ProjectsDir  string `json:"projects_dir"`
}

// JobsConfig contains execution defaults applied when a submission omits them
type JobsConfig struct {
	DefaultMaxParallel int `json:"default_max_parallel"`
	MaxListLimit       int `json:"max_list_limit"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
	TTL      int    `json:"ttl"` // seconds
}

// RabbitMQConfig contains connection details for the job-event relay
type RabbitMQConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	VHost        string `json:"vhost"`
	ExchangeName string `json:"exchange_name"`
}

// AWSConfig contains S3 settings for report archiving
type AWSConfig struct {
	Enabled   bool   `json:"enabled"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// WebSocketConfig tunes the update broadcaster
type WebSocketConfig struct {
	QueueSize      int `json:"queue_size"`      // bounded publish queue length
	PublishTimeout int `json:"publish_timeout"` // milliseconds before a publish is dropped
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	Directory string `json:"directory"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Services.RequestTimeout <= 0 {
		c.Services.RequestTimeout = 30
	}
	if c.Services.PollInterval <= 0 {
		c.Services.PollInterval = 5
	}
	if c.Services.MaxPollWait <= 0 {
		c.Services.MaxPollWait = 300
	}
	if c.Jobs.DefaultMaxParallel <= 0 {
		c.Jobs.DefaultMaxParallel = 4
	}
	if c.Jobs.MaxListLimit <= 0 {
		c.Jobs.MaxListLimit = 100
	}
	if c.WebSocket.QueueSize <= 0 {
		c.WebSocket.QueueSize = 256
	}
	if c.WebSocket.PublishTimeout <= 0 {
		c.WebSocket.PublishTimeout = 250
	}
}
