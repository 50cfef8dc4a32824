package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the recovery engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	Diagnose DiagnoseConfig `yaml:"diagnose"`
	Executor ExecutorConfig `yaml:"executor"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP API and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// MonitorConfig controls the periodic condition-evaluation cycle.
type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is one of "badger", "redis", "memory".
	Backend      string        `yaml:"backend"`
	Path         string        `yaml:"path"`
	SyncWrites   bool          `yaml:"syncWrites"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// NotifyConfig controls the escalation/notification channel.
type NotifyConfig struct {
	// Sink is one of "log", "webhook", "redis".
	Sink       string        `yaml:"sink"`
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DiagnoseConfig controls rule-pack loading for the diagnoser.
type DiagnoseConfig struct {
	RulesPath string `yaml:"rulesPath"`
}

// ExecutorConfig sets fallback-step defaults.
type ExecutorConfig struct {
	DefaultTimeout    time.Duration `yaml:"defaultTimeout"`
	BackoffBase       time.Duration `yaml:"backoffBase"`
	ResolutionPoll    time.Duration `yaml:"resolutionPoll"`
	ValidationTimeout time.Duration `yaml:"validationTimeout"`
}

// BreakerConfig sets circuit-breaker defaults for unstable dependencies.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	Timeout          time.Duration `yaml:"timeout"`
	Persist          bool          `yaml:"persist"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REMEDY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8086",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:      "badger",
			Path:         "data/remedy",
			SyncWrites:   true,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Notify: NotifyConfig{
			Sink:    "log",
			Timeout: 10 * time.Second,
		},
		Diagnose: DiagnoseConfig{RulesPath: "configs/diagnosis/default.yaml"},
		Executor: ExecutorConfig{
			DefaultTimeout:    30 * time.Second,
			BackoffBase:       500 * time.Millisecond,
			ResolutionPoll:    2 * time.Second,
			ValidationTimeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			Persist:          true,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "badger", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Notify.Sink {
	case "log", "webhook", "redis":
	default:
		return fmt.Errorf("unknown notify sink %q", c.Notify.Sink)
	}
	if c.Notify.Sink == "webhook" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify sink webhook requires webhookURL")
	}
	if c.Notify.Sink == "redis" && c.Storage.Backend != "redis" {
		return fmt.Errorf("notify sink redis requires the redis storage backend")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker thresholds must be >= 1")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REMEDY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("REMEDY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("REMEDY_MONITOR_ENABLED"); v != "" {
		cfg.Monitor.Enabled = isTrue(v)
	}
	if v := os.Getenv("REMEDY_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("REMEDY_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("REMEDY_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("REMEDY_STORAGE_ADDR"); v != "" {
		cfg.Storage.Addr = v
	}
	if v := os.Getenv("REMEDY_STORAGE_USERNAME"); v != "" {
		cfg.Storage.Username = v
	}
	if v := os.Getenv("REMEDY_STORAGE_PASSWORD"); v != "" {
		cfg.Storage.Password = v
	}
	if v := os.Getenv("REMEDY_STORAGE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Storage.DB = db
		}
	}
	if v := os.Getenv("REMEDY_NOTIFY_SINK"); v != "" {
		cfg.Notify.Sink = v
	}
	if v := os.Getenv("REMEDY_NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("REMEDY_RULES_PATH"); v != "" {
		cfg.Diagnose.RulesPath = v
	}
	if v := os.Getenv("REMEDY_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("REMEDY_BREAKER_SUCCESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.SuccessThreshold = n
		}
	}
	if v := os.Getenv("REMEDY_BREAKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Breaker.Timeout = d
		}
	}
	if v := os.Getenv("REMEDY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REMEDY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
