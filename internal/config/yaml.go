package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure. Pointer and
// wrapper fields distinguish "absent" from zero values so the file only
// overrides what it actually sets.
type YAMLConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
	Token  string `yaml:"token"`

	BatchLines  *int    `yaml:"batch_lines"`
	Batches     *uint64 `yaml:"batches"`
	Concurrency *int    `yaml:"concurrency"`
	Compression string  `yaml:"compression"`

	RequestTimeout Duration        `yaml:"request_timeout"`
	Retry          RetryYAMLConfig `yaml:"retry"`
	HTTP           HTTPYAMLConfig  `yaml:"http"`
	Stats          StatsYAMLConfig `yaml:"stats"`

	LogLevel string `yaml:"log_level"`
}

// RetryYAMLConfig holds retry/backoff configuration.
type RetryYAMLConfig struct {
	MaxAttempts *int     `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// HTTPYAMLConfig holds HTTP connection pool configuration.
type HTTPYAMLConfig struct {
	MaxIdleConns      *int     `yaml:"max_idle_conns"`
	IdleConnTimeout   Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives *bool    `yaml:"disable_keepalives"`
}

// StatsYAMLConfig holds the stats endpoint configuration.
type StatsYAMLConfig struct {
	Listen      *string  `yaml:"listen"`
	LogInterval Duration `yaml:"log_interval"`
}

// Duration wraps time.Duration for YAML parsing of values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// applyYAMLFile merges values from a YAML file into cfg. Flags listed in
// setFlags were given explicitly on the command line and are not overridden.
func applyYAMLFile(cfg *Config, path string, setFlags map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var yc YAMLConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if yc.URL != "" && !setFlags["url"] {
		cfg.URL = yc.URL
	}
	if yc.Org != "" && !setFlags["org"] {
		cfg.Org = yc.Org
	}
	if yc.Bucket != "" && !setFlags["bucket"] {
		cfg.Bucket = yc.Bucket
	}
	if yc.Token != "" && !setFlags["token"] {
		cfg.Token = yc.Token
	}

	if yc.BatchLines != nil && !setFlags["batch-lines"] {
		cfg.BatchLines = *yc.BatchLines
	}
	if yc.Batches != nil && !setFlags["batches"] {
		cfg.Batches = *yc.Batches
	}
	if yc.Concurrency != nil && !setFlags["concurrency"] {
		cfg.Concurrency = *yc.Concurrency
	}
	if yc.Compression != "" && !setFlags["compression"] {
		cfg.Compression = yc.Compression
	}

	if yc.RequestTimeout != 0 && !setFlags["request-timeout"] {
		cfg.RequestTimeout = time.Duration(yc.RequestTimeout)
	}
	if yc.Retry.MaxAttempts != nil && !setFlags["retry-max-attempts"] {
		cfg.RetryMaxAttempts = *yc.Retry.MaxAttempts
	}
	if yc.Retry.BaseDelay != 0 && !setFlags["retry-base-delay"] {
		cfg.RetryBaseDelay = time.Duration(yc.Retry.BaseDelay)
	}
	if yc.Retry.MaxDelay != 0 && !setFlags["retry-max-delay"] {
		cfg.RetryMaxDelay = time.Duration(yc.Retry.MaxDelay)
	}

	if yc.HTTP.MaxIdleConns != nil && !setFlags["http-max-idle-conns"] {
		cfg.HTTPMaxIdleConns = *yc.HTTP.MaxIdleConns
	}
	if yc.HTTP.IdleConnTimeout != 0 && !setFlags["http-idle-conn-timeout"] {
		cfg.HTTPIdleConnTimeout = time.Duration(yc.HTTP.IdleConnTimeout)
	}
	if yc.HTTP.DisableKeepAlives != nil && !setFlags["http-disable-keepalives"] {
		cfg.HTTPDisableKeepAlives = *yc.HTTP.DisableKeepAlives
	}

	if yc.Stats.Listen != nil && !setFlags["stats-listen"] {
		cfg.StatsAddr = *yc.Stats.Listen
	}
	if yc.Stats.LogInterval != 0 && !setFlags["stats-log-interval"] {
		cfg.StatsLogInterval = time.Duration(yc.Stats.LogInterval)
	}

	if yc.LogLevel != "" && !setFlags["log-level"] {
		cfg.LogLevel = yc.LogLevel
	}

	return nil
}
