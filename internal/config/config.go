// Package config loads and validates exporter configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EXPORTER_SERVER_PORT.
const EnvPrefix = "EXPORTER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Renderer   RendererConfig   `mapstructure:"renderer"`
	Components []any            `mapstructure:"components"`
	Convert    ConvertConfig    `mapstructure:"convert"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
}

// ServerConfig controls the export server.
type ServerConfig struct {
	Port                  int   `mapstructure:"port"`
	MaxWindows            int   `mapstructure:"max_windows"`
	RequestTimeoutSeconds int   `mapstructure:"request_timeout_seconds"`
	BodyLimitBytes        int64 `mapstructure:"body_limit_bytes"`
	CORS                  bool  `mapstructure:"cors"`
	KeepAlive             bool  `mapstructure:"keep_alive"`
	// RequestLimit shuts the server down after that many exports; 0 is
	// unlimited.
	RequestLimit int  `mapstructure:"request_limit"`
	Debug        bool `mapstructure:"debug"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BatchConfig controls the graph command.
type BatchConfig struct {
	ParallelLimit int     `mapstructure:"parallel_limit"`
	OutputDir     string  `mapstructure:"output_dir"`
	Output        string  `mapstructure:"output"`
	Format        string  `mapstructure:"format"`
	Scale         float64 `mapstructure:"scale"`
	Width         float64 `mapstructure:"width"`
	Height        float64 `mapstructure:"height"`
	Debug         bool    `mapstructure:"debug"`
}

// RendererConfig configures the headless browser and the scripts loaded
// into every window.
type RendererConfig struct {
	ChromePath        string `mapstructure:"chrome_path"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	PlotlyJS          string `mapstructure:"plotly_js"`
	MathJax           string `mapstructure:"mathjax"`
	Topojson          string `mapstructure:"topojson"`
	MapboxAccessToken string `mapstructure:"mapbox_access_token"`
	MinPlotlyVersion  string `mapstructure:"min_plotly_version"`
}

// ConvertConfig locates external converters.
type ConvertConfig struct {
	PdftopsPath string `mapstructure:"pdftops_path"`
}

// FetchConfig governs remote figure downloads.
type FetchConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// StorageConfig selects the artifact store. An empty bucket means the
// local batch output directory.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the export audit log.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SupervisorConfig bounds keep-alive relaunches. MaxRestarts of 0 means
// unlimited.
type SupervisorConfig struct {
	MaxRestarts int `mapstructure:"max_restarts"`
	BackoffMs   int `mapstructure:"backoff_ms"`
}

// Option customizes the Viper instance before unmarshaling.
type Option func(v *viper.Viper) error

// WithFlag binds a command-line flag to key. An unchanged flag never
// overrides a default, file or environment value.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
		return nil
	}
}

// WithValue sets key unconditionally.
func WithValue(key string, value any) Option {
	return func(v *viper.Viper) error {
		v.Set(key, value)
		return nil
	}
}

// Load builds a Config from defaults, an optional file, the environment
// and bound flags.
func Load(path string, opts ...Option) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9091)
	v.SetDefault("server.max_windows", 50)
	v.SetDefault("server.request_timeout_seconds", 50)
	v.SetDefault("server.body_limit_bytes", int64(1e9))
	v.SetDefault("server.cors", false)
	v.SetDefault("server.keep_alive", false)
	v.SetDefault("server.request_limit", 0)
	v.SetDefault("batch.parallel_limit", 1)
	v.SetDefault("batch.format", "png")
	v.SetDefault("batch.scale", 1.0)
	v.SetDefault("batch.width", 700.0)
	v.SetDefault("batch.height", 500.0)
	v.SetDefault("renderer.nav_timeout_seconds", 30)
	v.SetDefault("components", []any{"plotly-graph"})
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.user_agent", "figure-exporter/0.1")
	v.SetDefault("fetch.rps", 0.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.table", "export_log")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("supervisor.max_restarts", 0)
	v.SetDefault("supervisor.backoff_ms", 250)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be between 0 and 65535"))
	}
	if c.Server.MaxWindows < 0 {
		errs = append(errs, errors.New("server.max_windows must be >= 0"))
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server.request_timeout_seconds must be > 0"))
	}
	if c.Server.BodyLimitBytes <= 0 {
		errs = append(errs, errors.New("server.body_limit_bytes must be > 0"))
	}
	if c.Server.RequestLimit < 0 {
		errs = append(errs, errors.New("server.request_limit must be >= 0"))
	}
	if c.Batch.ParallelLimit <= 0 {
		errs = append(errs, errors.New("batch.parallel_limit must be > 0"))
	}
	if c.Batch.Scale <= 0 {
		errs = append(errs, errors.New("batch.scale must be > 0"))
	}
	if c.Renderer.NavTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("renderer.nav_timeout_seconds must be > 0"))
	}
	if len(c.Components) == 0 {
		errs = append(errs, errors.New("components must list at least one component"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set with pubsub.topic_name"))
	}
	if c.Supervisor.MaxRestarts < 0 {
		errs = append(errs, errors.New("supervisor.max_restarts must be >= 0"))
	}
	return errors.Join(errs...)
}

// RequestTimeout returns the per-request export budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// NavTimeout returns the window load budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Renderer.NavTimeoutSeconds) * time.Second
}

// FetchTimeout returns the remote figure download budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
