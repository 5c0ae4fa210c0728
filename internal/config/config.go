// Package config loads the enumerated configuration set of spec.md §6 with
// viper, the way pincex_unified's internal/config loads YAML/env config:
// a typed struct populated via viper.Unmarshal, defaults set up front, and
// unknown keys rejected at decode time.
package config

import (
	"fmt"
	"os"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full, typed configuration surface for the core. Every field
// corresponds to an option enumerated in spec.md §6.
type Config struct {
	Engine struct {
		Default string `mapstructure:"default"` // "order-book" | "amm"
	} `mapstructure:"engine"`

	Book struct {
		PriceTicks        int    `mapstructure:"price-ticks"`
		MarketOrderPolicy string `mapstructure:"market-order-policy"` // "partial-ok" | "all-or-none"
	} `mapstructure:"book"`

	AMM struct {
		FeeBps int64 `mapstructure:"fee-bps"`
	} `mapstructure:"amm"`

	Risk struct {
		SelfTrade string `mapstructure:"self-trade"` // "prevent" | "allow"
	} `mapstructure:"risk"`

	Breaker struct {
		WindowSize       int           `mapstructure:"window-size"`
		FailureThreshold float64       `mapstructure:"failure-threshold"`
		SlowThresholdMs  int           `mapstructure:"slow-threshold-ms"`
		CooldownMs       int           `mapstructure:"cooldown-ms"`
		HalfOpenProbes   int           `mapstructure:"half-open-probes"`
		MaxCooldownMs    int           `mapstructure:"max-cooldown-ms"`
		MinSamples       int           `mapstructure:"min-samples"`
	} `mapstructure:"breaker"`

	SLO struct {
		Window     time.Duration      `mapstructure:"window"`
		BucketSize time.Duration      `mapstructure:"bucket-size"`
		Targets    map[string]float64 `mapstructure:"targets"`
	} `mapstructure:"slo"`

	Cache struct {
		L1Capacity int           `mapstructure:"l1-capacity"`
		L1TTL      time.Duration `mapstructure:"l1-ttl"`
		L2TTL      time.Duration `mapstructure:"l2-ttl"`
	} `mapstructure:"cache"`

	TaskQueue struct {
		Workers     int `mapstructure:"workers"`
		MaxAttempts int `mapstructure:"max-attempts"`
		Backoff     struct {
			Base   time.Duration `mapstructure:"base"`
			Factor float64       `mapstructure:"factor"`
			Cap    time.Duration `mapstructure:"cap"`
			Jitter float64       `mapstructure:"jitter"`
		} `mapstructure:"backoff"`
	} `mapstructure:"taskq"`
}

// Default returns the configuration used when no file/env override is
// present, mirroring the conservative defaults pincex_unified ships.
func Default() *Config {
	c := &Config{}
	c.Engine.Default = "order-book"
	c.Book.PriceTicks = 9999
	c.Book.MarketOrderPolicy = "partial-ok"
	c.AMM.FeeBps = 30
	c.Risk.SelfTrade = "prevent"
	c.Breaker.WindowSize = 100
	c.Breaker.FailureThreshold = 0.5
	c.Breaker.SlowThresholdMs = 250
	c.Breaker.CooldownMs = 1000
	c.Breaker.HalfOpenProbes = 1
	c.Breaker.MaxCooldownMs = 60000
	c.Breaker.MinSamples = 5
	c.SLO.Window = 30 * 24 * time.Hour
	c.SLO.BucketSize = time.Hour
	c.SLO.Targets = map[string]float64{"order-submit": 99.9}
	c.Cache.L1Capacity = 10000
	c.Cache.L1TTL = 30 * time.Second
	c.Cache.L2TTL = 5 * time.Minute
	c.TaskQueue.Workers = 4
	c.TaskQueue.MaxAttempts = 5
	c.TaskQueue.Backoff.Base = 200 * time.Millisecond
	c.TaskQueue.Backoff.Factor = 2.0
	c.TaskQueue.Backoff.Cap = 30 * time.Second
	c.TaskQueue.Backoff.Jitter = 0.2
	return c
}

// Load reads configuration from path (if non-empty and it exists), overlays
// environment variables, and decodes into a Config seeded with Default().
// Unknown keys in the file are rejected (ErrorUnused) per SPEC_FULL.md.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("PREDICTMARKET")
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	return cfg, nil
}
