// Package config loads node settings from defaults, an optional YAML file and
// the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	NodeID     string `yaml:"node_id"`
	ListenAddr string `yaml:"listen_addr"`
	HTTPAddr   string `yaml:"http_addr"`
	LogLevel   string `yaml:"log_level"`

	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	EtcdPrefix    string        `yaml:"etcd_prefix"`
	LeaseTTL      int64         `yaml:"lease_ttl"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`

	MaxHops               uint32        `yaml:"max_hops"`
	QueueCapacity         int           `yaml:"queue_capacity"`
	EntryExpireTime       time.Duration `yaml:"entry_expire_time"`
	HostRecentPeriod      time.Duration `yaml:"host_recent_period"`
	BeaconInterval        time.Duration `yaml:"beacon_interval"`
	BeaconJitterMs        uint32        `yaml:"beacon_jitter_ms"`
	ExchangeTimeout       time.Duration `yaml:"exchange_timeout"`
	EnergyThresholdLow    float64       `yaml:"energy_threshold_low"`
	EnergyThresholdCrit   float64       `yaml:"energy_threshold_critical"`
	FloodingFactor        float64       `yaml:"flooding_factor"`
	HighPriorityThreshold uint32        `yaml:"high_priority_class_threshold"`
	CompressionRatio      float64       `yaml:"compression_ratio"`
	CostPerByte           float64       `yaml:"cost_per_byte"`
	PurgeOnCritical       bool          `yaml:"purge_on_critical"`

	InitialEnergy float64 `yaml:"initial_energy"`
	HarvestRate   float64 `yaml:"harvest_rate"`
}

func Default() Config {
	return Config{
		ListenAddr:  ":4269",
		HTTPAddr:    ":8080",
		LogLevel:    "info",
		EtcdPrefix:  "/zephyrdtn/nodes/",
		LeaseTTL:    10,
		DialTimeout: 5 * time.Second,

		MaxHops:               64,
		QueueCapacity:         64,
		EntryExpireTime:       100 * time.Second,
		HostRecentPeriod:      10 * time.Second,
		BeaconInterval:        time.Second,
		BeaconJitterMs:        100,
		ExchangeTimeout:       5 * time.Second,
		EnergyThresholdLow:    0.2,
		EnergyThresholdCrit:   0.1,
		FloodingFactor:        0.5,
		HighPriorityThreshold: 10,
		CompressionRatio:      0.8,
		CostPerByte:           0.001,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	var errs error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	u32 := func(key string, dst *uint32) {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint32(n)
		}
	}
	f64 := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("SELF_ID", &c.NodeID)
	str("SELF_ADDR", &c.ListenAddr)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("LOG_LEVEL", &c.LogLevel)
	if v := getenv("ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = strings.Split(v, ",")
	}
	u32("MAX_HOPS", &c.MaxHops)
	if v := getenv("QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("QUEUE_CAPACITY: %w", err))
		} else {
			c.QueueCapacity = n
		}
	}
	f64("INITIAL_ENERGY", &c.InitialEnergy)
	f64("HARVEST_RATE", &c.HarvestRate)
	return errs
}

// Validate reports every out-of-range option at once.
func (c Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.MaxHops >= 1, "max_hops must be at least 1, got %d", c.MaxHops)
	check(c.QueueCapacity >= 1, "queue_capacity must be at least 1, got %d", c.QueueCapacity)
	check(c.EntryExpireTime > 0, "entry_expire_time must be positive, got %s", c.EntryExpireTime)
	check(c.HostRecentPeriod >= 0, "host_recent_period must not be negative, got %s", c.HostRecentPeriod)
	check(c.BeaconInterval > 0, "beacon_interval must be positive, got %s", c.BeaconInterval)
	check(c.ExchangeTimeout >= 0, "exchange_timeout must not be negative, got %s", c.ExchangeTimeout)
	check(c.EnergyThresholdLow >= 0 && c.EnergyThresholdLow <= 1,
		"energy_threshold_low must be in [0,1], got %v", c.EnergyThresholdLow)
	check(c.EnergyThresholdCrit >= 0 && c.EnergyThresholdCrit <= 1,
		"energy_threshold_critical must be in [0,1], got %v", c.EnergyThresholdCrit)
	check(c.EnergyThresholdCrit < c.EnergyThresholdLow,
		"energy_threshold_critical (%v) must be below energy_threshold_low (%v)", c.EnergyThresholdCrit, c.EnergyThresholdLow)
	check(c.FloodingFactor >= 0.1 && c.FloodingFactor <= 1,
		"flooding_factor must be in [0.1,1], got %v", c.FloodingFactor)
	check(c.CompressionRatio >= 0.1 && c.CompressionRatio <= 1,
		"compression_ratio must be in [0.1,1], got %v", c.CompressionRatio)
	check(c.CostPerByte > 0, "cost_per_byte must be positive, got %v", c.CostPerByte)
	check(c.InitialEnergy >= 0, "initial_energy must not be negative, got %v", c.InitialEnergy)
	check(c.HarvestRate >= 0, "harvest_rate must not be negative, got %v", c.HarvestRate)
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return nil
}

var ErrInvalid = errors.New("config: invalid")
