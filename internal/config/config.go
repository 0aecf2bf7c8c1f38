package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level railscope configuration, loaded from the user
// config file with defaults applied. Project-local process definitions live
// in the project file (see project.go), not here.
type Config struct {
	Policy             Policy   `mapstructure:"policy"`
	Output             Output   `mapstructure:"output"`
	CriticalExceptions []string `mapstructure:"critical_exceptions"`
	LowExceptions      []string `mapstructure:"low_exceptions"`
	DatabaseURL        string   `mapstructure:"database_url"`
}

// Policy is the tunable table of thresholds, capacities, and score weights.
// Every capacity and threshold the analyzers use comes from here.
type Policy struct {
	SlowQueryMs     float64 `mapstructure:"slow_query_ms"`
	VerySlowQueryMs float64 `mapstructure:"very_slow_query_ms"`
	CriticalQueryMs float64 `mapstructure:"critical_query_ms"`
	MissingIndexMs  float64 `mapstructure:"missing_index_ms"`

	NPlusOneThreshold int `mapstructure:"n_plus_one_threshold"`

	FingerprintCap     int `mapstructure:"fingerprint_cap"`
	EndpointCap        int `mapstructure:"endpoint_cap"`
	ContextRetention   int `mapstructure:"context_retention"`
	MetricRingCapacity int `mapstructure:"metric_ring_capacity"`
	ExceptionGroupCap  int `mapstructure:"exception_group_cap"`

	SampleInterval time.Duration `mapstructure:"sample_interval"`
	StopGrace      time.Duration `mapstructure:"stop_grace"`

	Weights Weights `mapstructure:"weights"`
}

// Weights are the per-severity health score deductions.
type Weights struct {
	Low      int `mapstructure:"low"`
	Medium   int `mapstructure:"medium"`
	High     int `mapstructure:"high"`
	Critical int `mapstructure:"critical"`
}

// Output defines output preferences.
type Output struct {
	Color bool `mapstructure:"color"`
	Width int  `mapstructure:"width"`
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads configuration from the given path (or the default location)
// and returns a Config with all defaults applied. A missing file is not an
// error; the defaults are the shipped policy.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("policy.slow_query_ms", DefaultPolicy.SlowQueryMs)
	v.SetDefault("policy.very_slow_query_ms", DefaultPolicy.VerySlowQueryMs)
	v.SetDefault("policy.critical_query_ms", DefaultPolicy.CriticalQueryMs)
	v.SetDefault("policy.missing_index_ms", DefaultPolicy.MissingIndexMs)
	v.SetDefault("policy.n_plus_one_threshold", DefaultPolicy.NPlusOneThreshold)
	v.SetDefault("policy.fingerprint_cap", DefaultPolicy.FingerprintCap)
	v.SetDefault("policy.endpoint_cap", DefaultPolicy.EndpointCap)
	v.SetDefault("policy.context_retention", DefaultPolicy.ContextRetention)
	v.SetDefault("policy.metric_ring_capacity", DefaultPolicy.MetricRingCapacity)
	v.SetDefault("policy.exception_group_cap", DefaultPolicy.ExceptionGroupCap)
	v.SetDefault("policy.sample_interval", DefaultPolicy.SampleInterval)
	v.SetDefault("policy.stop_grace", DefaultPolicy.StopGrace)
	v.SetDefault("policy.weights.low", DefaultPolicy.Weights.Low)
	v.SetDefault("policy.weights.medium", DefaultPolicy.Weights.Medium)
	v.SetDefault("policy.weights.high", DefaultPolicy.Weights.High)
	v.SetDefault("policy.weights.critical", DefaultPolicy.Weights.Critical)
	v.SetDefault("output.color", DefaultOutput.Color)
	v.SetDefault("output.width", DefaultOutput.Width)

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		configDir := expandPath(DefaultConfigDir)
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Read config file if it exists; missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if len(cfg.CriticalExceptions) == 0 {
		cfg.CriticalExceptions = DefaultCriticalExceptions
	}
	if len(cfg.LowExceptions) == 0 {
		cfg.LowExceptions = DefaultLowExceptions
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	return &cfg, nil
}

// DBPath returns the full path to the SQLite session database.
func DBPath() string {
	return filepath.Join(expandPath(DefaultConfigDir), DefaultDBName)
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}
