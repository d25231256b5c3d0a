// Package config loads CLI configuration from defaults, an optional YAML
// file, .env and ITEMSENSE_* environment variables (lowest to highest).
package config

import (
	"strings"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/client"
	"github.com/Sternrassler/itemsense-client/pkg/logging"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/Sternrassler/itemsense-client/pkg/ratelimit"
	"github.com/Sternrassler/itemsense-client/pkg/report"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ITEMSENSE_API_BASE_URL.
const EnvPrefix = "ITEMSENSE"

// Config is the full CLI configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Job     JobConfig     `mapstructure:"job"`
	Filter  string        `mapstructure:"filter"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig locates and authenticates against the ItemSense instance.
type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
}

// JobConfig describes the job a coordinator run starts.
type JobConfig struct {
	Recipe               string        `mapstructure:"recipe"`
	Facility             string        `mapstructure:"facility"`
	Duration             time.Duration `mapstructure:"duration"`
	Interval             time.Duration `mapstructure:"interval"`
	StartDelay           time.Duration `mapstructure:"start_delay"`
	ReportToDatabase     bool          `mapstructure:"report_to_database"`
	ReportToMessageQueue bool          `mapstructure:"report_to_message_queue"`
}

// OutputConfig selects report encoding and sinks.
type OutputConfig struct {
	Format     string        `mapstructure:"format"`
	RedisAddr  string        `mapstructure:"redis_addr"`
	RedisTTL   time.Duration `mapstructure:"redis_ttl"`
	SQLitePath string        `mapstructure:"sqlite_path"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the health/metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.username", "")
	v.SetDefault("api.password", "")
	v.SetDefault("api.user_agent", "itemsense-client/1.0")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.requests_per_second", ratelimit.DefaultConfig().RequestsPerSecond)
	v.SetDefault("api.burst", ratelimit.DefaultConfig().Burst)
	v.SetDefault("api.max_attempts", client.DefaultRetryConfig().MaxAttempts)

	// Job defaults (the reference location run)
	v.SetDefault("job.recipe", "IMPINJ_BasicLocation")
	v.SetDefault("job.facility", "")
	v.SetDefault("job.duration", 60*time.Second)
	v.SetDefault("job.interval", 20*time.Second)
	v.SetDefault("job.start_delay", time.Duration(0))
	v.SetDefault("job.report_to_database", true)
	v.SetDefault("job.report_to_message_queue", true)

	v.SetDefault("filter", "")

	// Output defaults
	v.SetDefault("output.format", string(report.FormatCSV))
	v.SetDefault("output.redis_addr", "")
	v.SetDefault("output.redis_ttl", report.DefaultRedisTTL)
	v.SetDefault("output.sqlite_path", "")

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.addr", "")
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers may bind flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration into a validated Config. path names a YAML file;
// when empty, itemsense.yaml is searched in the working directory and
// $HOME/.itemsense and skipped if absent.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := EnsureDotEnv(); err != nil {
		return nil, errors.Wrap(err, "load .env")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	} else {
		v.SetConfigName("itemsense")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.itemsense")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

// ValidateAPI checks the settings every subcommand needs.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required (flag --base-url or ITEMSENSE_API_BASE_URL)")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ValidateRun checks the settings of a coordinator run.
func (c *Config) ValidateRun() error {
	if err := c.ValidateAPI(); err != nil {
		return err
	}
	if c.Job.Recipe == "" {
		return errors.New("job.recipe is required")
	}
	if c.Job.Duration <= 0 {
		return errors.Errorf("job.duration must be positive (got %s)", c.Job.Duration)
	}
	if c.Job.Interval <= 0 {
		return errors.Errorf("job.interval must be positive (got %s)", c.Job.Interval)
	}
	if _, err := report.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	return nil
}

// ClientConfig converts the API section for client.New.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.API.BaseURL, c.API.Username, c.API.Password)
	if c.API.UserAgent != "" {
		cfg.UserAgent = c.API.UserAgent
	}
	if c.API.Timeout > 0 {
		cfg.Timeout = c.API.Timeout
	}
	cfg.RateLimit = ratelimit.Config{
		RequestsPerSecond: c.API.RequestsPerSecond,
		Burst:             c.API.Burst,
	}
	if c.API.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = c.API.MaxAttempts
	}
	return cfg
}

// JobDescriptor converts the job section to the submitted job.
func (c *Config) JobDescriptor() model.Job {
	return model.Job{
		RecipeName:                  c.Job.Recipe,
		Facility:                    c.Job.Facility,
		Duration:                    c.Job.Duration,
		StartDelay:                  c.Job.StartDelay,
		ReportToDatabaseEnabled:     c.Job.ReportToDatabase,
		ReportToMessageQueueEnabled: c.Job.ReportToMessageQueue,
	}
}
