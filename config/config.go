package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron"
	"gopkg.in/yaml.v3"

	"github.com/cristianemoyano/cloudnap/types"
)

// Config is the full on-disk configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider" validate:"required"`
	App       AppConfig       `yaml:"app"`
	Cache     CacheConfig     `yaml:"cache"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	History   HistoryConfig   `yaml:"history"`
	Clusters  []ClusterConfig `yaml:"clusters" validate:"required,min=1,dive"`
}

// ProviderConfig holds cloud credentials. AccessKey and SecretKey may be
// literal values, "${ENV_VAR}" references, or names of files under the
// secrets directory.
type ProviderConfig struct {
	Region         string `yaml:"region" validate:"required"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"omitempty,min=1"`
}

type AppConfig struct {
	Host     string `yaml:"host"`
	Port     uint   `yaml:"port" validate:"omitempty,min=1,max=65535"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
}

type CacheConfig struct {
	TTLSeconds        int  `yaml:"ttl_seconds" validate:"omitempty,min=1"`
	ServeStaleOnError bool `yaml:"serve_stale_on_error"`
}

type MonitorConfig struct {
	PollIntervalSeconds int  `yaml:"poll_interval_seconds" validate:"omitempty,min=1"`
	MaxRetries          uint `yaml:"max_retries" validate:"omitempty,min=1"`
}

type SchedulerConfig struct {
	Timezone   string `yaml:"timezone" validate:"omitempty,timezone_name"`
	MaxWorkers int    `yaml:"max_workers" validate:"omitempty,min=1"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Table   string `yaml:"table"`
}

// ClusterConfig describes one managed cluster.
type ClusterConfig struct {
	Name        string         `yaml:"name" validate:"required"`
	Description string         `yaml:"description"`
	InstanceIDs []string       `yaml:"instance_ids" validate:"required,min=1,dive,required"`
	Region      string         `yaml:"region"`
	Tags        []string       `yaml:"tags"`
	Schedule    ScheduleConfig `yaml:"schedule" validate:"required"`
	Timezone    string         `yaml:"timezone" validate:"omitempty,timezone_name"`
	Enabled     *bool          `yaml:"enabled"`
}

type ScheduleConfig struct {
	WakeUp   string `yaml:"wake_up" validate:"required,cron_expr"`
	Shutdown string `yaml:"shutdown" validate:"required,cron_expr"`
}

const (
	defaultPort            = 5000
	defaultLogLevel        = "info"
	defaultCacheTTL        = 30
	defaultPollInterval    = 15
	defaultMaxRetries      = 40
	defaultProviderTimeout = 30
	defaultTimezone        = "UTC"
	defaultMaxWorkers      = 4
)

func newValidator() *validator.Validate {
	v := validator.New()
	// Five-field cron expression.
	_ = v.RegisterValidation("cron_expr", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	// IANA zone resolvable on this host.
	_ = v.RegisterValidation("timezone_name", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads, resolves and validates the configuration file.
func Load(path string) (*Config, error) {
	return load(path, DefaultSecretsDir)
}

func load(path, secretsDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.Provider.AccessKey = resolveSecret(secretsDir, cfg.Provider.AccessKey)
	cfg.Provider.SecretKey = resolveSecret(secretsDir, cfg.Provider.SecretKey)

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Clusters))
	for _, c := range cfg.Clusters {
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("validate config: duplicate cluster name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Host == "" {
		c.App.Host = "0.0.0.0"
	}
	if c.App.Port == 0 {
		c.App.Port = defaultPort
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultLogLevel
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = defaultCacheTTL
	}
	if c.Monitor.PollIntervalSeconds == 0 {
		c.Monitor.PollIntervalSeconds = defaultPollInterval
	}
	if c.Monitor.MaxRetries == 0 {
		c.Monitor.MaxRetries = defaultMaxRetries
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = defaultProviderTimeout
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = defaultTimezone
	}
	if c.Scheduler.MaxWorkers == 0 {
		c.Scheduler.MaxWorkers = defaultMaxWorkers
	}
}

// CacheTTL returns the status cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ProviderTimeout returns the per-call provider timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// PollInterval returns the monitor poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

// ClusterList converts the cluster entries to their runtime form, filling
// region and timezone from the global defaults where a cluster omits them.
func (c *Config) ClusterList() []types.Cluster {
	out := make([]types.Cluster, 0, len(c.Clusters))
	for _, cc := range c.Clusters {
		region := cc.Region
		if region == "" {
			region = c.Provider.Region
		}
		tz := cc.Timezone
		if tz == "" {
			tz = c.Scheduler.Timezone
		}
		enabled := true
		if cc.Enabled != nil {
			enabled = *cc.Enabled
		}
		out = append(out, types.Cluster{
			Name:         cc.Name,
			Description:  cc.Description,
			InstanceIDs:  cc.InstanceIDs,
			Region:       region,
			Tags:         cc.Tags,
			WakeUpCron:   cc.Schedule.WakeUp,
			ShutdownCron: cc.Schedule.Shutdown,
			Timezone:     tz,
			Enabled:      enabled,
		})
	}
	return out
}
