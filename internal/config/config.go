// Package config holds the load generator configuration, populated from
// command-line flags and an optional YAML file.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/szibis/influx-loadgen/internal/compression"
	"github.com/szibis/influx-loadgen/internal/logging"
)

// version is set at build time via ldflags
var version = "dev"

// Defaults.
const (
	DefaultBatchLines     = 10000
	DefaultConcurrency    = 4
	DefaultRequestTimeout = 30 * time.Second
	DefaultStatsAddr      = ":9090"
	DefaultStatsInterval  = 30 * time.Second
	DefaultRetryAttempts  = 8
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 30 * time.Second
)

// Config holds the application configuration.
type Config struct {
	// Target settings
	URL    string
	Org    string
	Bucket string
	Token  string

	// Workload settings
	BatchLines  int
	Batches     uint64 // 0 = unbounded
	Concurrency int
	Compression string

	// Request settings
	RequestTimeout   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// HTTP client pool settings
	HTTPMaxIdleConns      int
	HTTPIdleConnTimeout   time.Duration
	HTTPDisableKeepAlives bool

	// Stats settings
	StatsAddr        string
	StatsLogInterval time.Duration

	// Logging settings
	LogLevel string

	ShowHelp    bool
	ShowVersion bool
}

// ParseFlags parses the process arguments.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		logging.Fatal("failed to parse flags", logging.F("error", err.Error()))
	}
	return cfg
}

// Parse parses the given argument list. A YAML file named by -config is
// loaded first; flags given explicitly on the command line win over file
// values.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	var configFile string
	fs := newFlagSet(cfg, &configFile)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configFile != "" {
		set := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := applyYAMLFile(cfg, configFile, set); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configFile, err)
		}
	}

	return cfg, nil
}

// newFlagSet registers every flag against cfg.
func newFlagSet(cfg *Config, configFile *string) *flag.FlagSet {
	fs := flag.NewFlagSet("influx-loadgen", flag.ContinueOnError)

	fs.StringVar(configFile, "config", "", "Path to YAML configuration file")

	fs.StringVar(&cfg.URL, "url", "", "InfluxDB location (scheme + hostname, optionally port)")
	fs.StringVar(&cfg.Org, "org", "", "InfluxDB org")
	fs.StringVar(&cfg.Bucket, "bucket", "", "InfluxDB bucket")
	fs.StringVar(&cfg.Token, "token", "", "Auth token")

	fs.IntVar(&cfg.BatchLines, "batch-lines", DefaultBatchLines, "Number of lines per submission batch")
	fs.Uint64Var(&cfg.Batches, "batches", 0, "Number of batches (0 = unbounded)")
	fs.IntVar(&cfg.Concurrency, "concurrency", DefaultConcurrency, "Maximum number of batches in flight")
	fs.StringVar(&cfg.Compression, "compression", "none", "GZip compression level: none, fastest, best, default")

	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", DefaultRequestTimeout, "Per-attempt HTTP request timeout")
	fs.IntVar(&cfg.RetryMaxAttempts, "retry-max-attempts", DefaultRetryAttempts, "Maximum write attempts per batch (first try included)")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-base-delay", DefaultRetryBaseDelay, "Delay before the first retry")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", DefaultRetryMaxDelay, "Backoff delay cap")

	fs.IntVar(&cfg.HTTPMaxIdleConns, "http-max-idle-conns", 0, "Maximum idle connections in the shared pool (0 = default)")
	fs.DurationVar(&cfg.HTTPIdleConnTimeout, "http-idle-conn-timeout", 0, "Idle connection timeout (0 = default)")
	fs.BoolVar(&cfg.HTTPDisableKeepAlives, "http-disable-keepalives", false, "Disable HTTP keep-alives")

	fs.StringVar(&cfg.StatsAddr, "stats-listen", DefaultStatsAddr, "Stats/metrics endpoint listen address (empty = disabled)")
	fs.DurationVar(&cfg.StatsLogInterval, "stats-log-interval", DefaultStatsInterval, "Interval for periodic progress logging")

	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version")

	return fs
}

// Validate checks the configuration for errors a run cannot recover from.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.Org == "" {
		return fmt.Errorf("org is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.BatchLines < 0 {
		return fmt.Errorf("batch-lines must be >= 0, got %d", c.BatchLines)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if _, err := compression.ParseLevel(c.Compression); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry-max-attempts must be >= 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry-base-delay must be positive, got %s", c.RetryBaseDelay)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry-max-delay %s is below retry-base-delay %s", c.RetryMaxDelay, c.RetryBaseDelay)
	}
	return nil
}

// PrintUsage prints flag usage to stdout.
func PrintUsage() {
	fmt.Printf("influx-loadgen %s - synthetic line-protocol load generator for InfluxDB v2\n\n", version)
	fmt.Println("Usage: influx-loadgen -url URL -org ORG -bucket BUCKET -token TOKEN [flags]")
	fmt.Println()
	var configFile string
	fs := newFlagSet(&Config{}, &configFile)
	fs.SetOutput(os.Stdout)
	fs.PrintDefaults()
}

// PrintVersion prints the build version.
func PrintVersion() {
	fmt.Printf("influx-loadgen %s\n", version)
}
