package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "PDFQA"
	configPathEnv  = "PDFQA_CONFIG"
	DefaultProject = "QA-pdf-project"
)

// Config represents runtime configuration for the service.
// It is built once at startup and treated as read-only afterwards.
type Config struct {
	BasicConfig BasicConfig    `mapstructure:"basic_config"`
	Provider    ProviderConfig `mapstructure:"provider"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Log         LogConfig      `mapstructure:"log"`
}

type BasicConfig struct {
	ServerAddress     string        `mapstructure:"server_address"`
	UploadDir         string        `mapstructure:"upload_dir"`
	MaxUploadMB       int64         `mapstructure:"max_upload_mb"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	CleanInterval     time.Duration `mapstructure:"clean_interval"`
	MinWorkers        int           `mapstructure:"min_workers"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	WorkerIdleTimeout time.Duration `mapstructure:"worker_idle_timeout"`
	SecureCookies     bool          `mapstructure:"secure_cookies"`
}

// ProviderConfig selects the model-serving backend used for answers.
type ProviderConfig struct {
	Name    string        `mapstructure:"name"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Project  string `mapstructure:"project"`
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MaxUploadBytes returns the upload limit in bytes.
func (c BasicConfig) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.upload_dir", filepath.Join(os.TempDir(), "pdfqa"))
	v.SetDefault("basic_config.max_upload_mb", 10)
	v.SetDefault("basic_config.session_ttl", time.Hour)
	v.SetDefault("basic_config.clean_interval", 5*time.Minute)
	v.SetDefault("basic_config.min_workers", 2)
	v.SetDefault("basic_config.max_workers", 8)
	v.SetDefault("basic_config.queue_size", 64)
	v.SetDefault("basic_config.worker_idle_timeout", 30*time.Second)
	v.SetDefault("basic_config.secure_cookies", false)

	v.SetDefault("provider.name", "ollama")
	v.SetDefault("provider.base_url", "http://localhost:11434/v1")
	v.SetDefault("provider.model", "gemma:2b")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", 2*time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project", DefaultProject)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load builds the configuration from defaults, an optional config file and the
// environment. path may be empty, in which case PDFQA_CONFIG is consulted; a
// missing file is not an error. A .env file in the working directory is loaded
// first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("tracing.project", envPrefix+"_TRACING_PROJECT", "LANGCHAIN_PROJECT"); err != nil {
		return nil, fmt.Errorf("bind tracing project: %w", err)
	}
	if err := v.BindEnv("provider.api_key", envPrefix+"_PROVIDER_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind provider api key: %w", err)
	}

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", absPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BasicConfig.MaxUploadMB <= 0 {
		return errors.New("basic_config.max_upload_mb must be positive")
	}
	if c.BasicConfig.UploadDir == "" {
		return errors.New("basic_config.upload_dir must be configured")
	}
	if c.Provider.Model == "" {
		return errors.New("provider.model must be configured")
	}
	if strings.TrimSpace(c.Tracing.Project) == "" {
		c.Tracing.Project = DefaultProject
	}
	return nil
}
