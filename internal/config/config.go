package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Hazard holds the per-hazard processing settings.
type Hazard struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold float64       `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// Config holds all service settings, populated from environment variables
// and an optional hazards file.
type Config struct {
	AppID           string
	SiteCollections []string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Store configuration.
	Store         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	TxMaxAttempts int

	// Processing.
	ProcessInterval time.Duration
	ProcessWorkers  int
	FeedTimeout     time.Duration
	Hazards         map[string]Hazard

	// Hazard feeds.
	USGSBaseURL      string
	USGSMinMagnitude float64
	SPCBaseURL       string

	// Change notification delivery.
	DispatchMaxAttempts int
	DispatchWorkers     int
	ChangeTrimInterval  time.Duration
	KafkaEnabled        bool
	KafkaBrokers        []string
	KafkaChangesTopic   string
	KafkaGroupID        string

	// Manifest snapshots.
	ManifestBucket   string
	ManifestInterval time.Duration
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3UseSSL         bool
}

// hazardsFile is the layout of HAZARDS_FILE. Unset fields keep the values
// from the environment.
type hazardsFile struct {
	Hazards map[string]struct {
		Enabled   *bool          `yaml:"enabled"`
		Threshold *float64       `yaml:"threshold"`
		Window    *time.Duration `yaml:"window"`
	} `yaml:"hazards"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		AppID:           sharedcfg.EnvOrDefault("APP_ID", "wreck-hazard-monitor"),
		SiteCollections: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("SITE_COLLECTIONS", "wrecks")),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Store:         sharedcfg.EnvOrDefault("STORE", StoreRedis),
		RedisAddr:     sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.nonNegativeInt("REDIS_DB", 0),
		RedisPrefix:   sharedcfg.EnvOrDefault("REDIS_PREFIX", "hazard:"),
		TxMaxAttempts: p.positiveInt("TX_MAX_ATTEMPTS", 10),

		ProcessInterval: p.duration("PROCESS_INTERVAL", "1h"),
		ProcessWorkers:  p.positiveInt("PROCESS_WORKERS", 8),
		FeedTimeout:     p.duration("FEED_TIMEOUT", "15s"),
		Hazards: map[string]Hazard{
			domain.HazardEarthquakes: {
				Enabled:   p.boolean("SEISMIC_ENABLED", true),
				Threshold: p.positiveFloat("SEISMIC_THRESHOLD_G", domain.DefaultSeismicThresholdG),
				Window:    p.duration("SEISMIC_WINDOW", "6h"),
			},
			domain.HazardStorms: {
				Enabled:   p.boolean("STORM_ENABLED", true),
				Threshold: p.positiveFloat("STORM_THRESHOLD", domain.DefaultStormThreshold),
				Window:    p.duration("STORM_WINDOW", "3h"),
			},
		},

		USGSBaseURL:      sharedcfg.EnvOrDefault("USGS_BASE_URL", "https://earthquake.usgs.gov"),
		USGSMinMagnitude: p.nonNegativeFloat("USGS_MIN_MAGNITUDE", 2.5),
		SPCBaseURL:       sharedcfg.EnvOrDefault("SPC_BASE_URL", "https://www.spc.noaa.gov/climo/reports"),

		DispatchMaxAttempts: p.positiveInt("DISPATCH_MAX_ATTEMPTS", 5),
		DispatchWorkers:     p.positiveInt("DISPATCH_WORKERS", 4),
		ChangeTrimInterval:  p.duration("CHANGE_TRIM_INTERVAL", "5m"),
		KafkaEnabled:        p.boolean("KAFKA_ENABLED", false),
		KafkaBrokers:        sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaChangesTopic:   sharedcfg.EnvOrDefault("KAFKA_CHANGES_TOPIC", "hazard-store-changes"),
		KafkaGroupID:        sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "hazard-aggregator"),

		ManifestBucket:   os.Getenv("MANIFEST_BUCKET"),
		ManifestInterval: p.duration("MANIFEST_INTERVAL", "1h"),
		S3Endpoint:       sharedcfg.EnvOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Region:         sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:         p.boolean("S3_USE_SSL", false),
	}
	if p.err != nil {
		return nil, p.err
	}

	if path := os.Getenv("HAZARDS_FILE"); path != "" {
		if err := applyHazardsFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.SiteCollections) == 0 {
		return errors.New("SITE_COLLECTIONS is required")
	}
	if c.Store != StoreRedis && c.Store != StoreMemory {
		return fmt.Errorf("invalid STORE %q: must be %s or %s", c.Store, StoreRedis, StoreMemory)
	}
	if c.Store == StoreRedis && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if c.KafkaChangesTopic == "" {
			return errors.New("KAFKA_CHANGES_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if c.ManifestBucket != "" && c.S3Endpoint == "" {
		return errors.New("S3_ENDPOINT is required when MANIFEST_BUCKET is set")
	}
	for name, h := range c.Hazards {
		if h.Enabled && (h.Window <= 0 || h.Threshold <= 0) {
			return fmt.Errorf("hazard %s: window and threshold must be positive", name)
		}
	}
	return nil
}

// EnabledHazards returns the enabled hazard types in a stable order.
func (c *Config) EnabledHazards() []string {
	var out []string
	for _, name := range []string{domain.HazardEarthquakes, domain.HazardStorms} {
		if h, ok := c.Hazards[name]; ok && h.Enabled {
			out = append(out, name)
		}
	}
	return out
}

func applyHazardsFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read HAZARDS_FILE: %w", err)
	}
	var f hazardsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse HAZARDS_FILE: %w", err)
	}
	for name, o := range f.Hazards {
		h, ok := cfg.Hazards[name]
		if !ok {
			return fmt.Errorf("HAZARDS_FILE: unknown hazard type %q", name)
		}
		if o.Enabled != nil {
			h.Enabled = *o.Enabled
		}
		if o.Threshold != nil {
			h.Threshold = *o.Threshold
		}
		if o.Window != nil {
			h.Window = *o.Window
		}
		cfg.Hazards[name] = h
	}
	return nil
}

// parser collects the first invalid variable while reading the environment.
type parser struct {
	err error
}

func (p *parser) fail(key string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s", key)
	}
}

func (p *parser) duration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		p.fail(key)
		return 0
	}
	return d
}

func (p *parser) positiveInt(key string, fallback int) int {
	n := p.nonNegativeInt(key, fallback)
	if n == 0 {
		p.fail(key)
	}
	return n
}

func (p *parser) nonNegativeInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		p.fail(key)
		return 0
	}
	return n
}

func (p *parser) positiveFloat(key string, fallback float64) float64 {
	v := p.nonNegativeFloat(key, fallback)
	if v == 0 {
		p.fail(key)
	}
	return v
}

func (p *parser) nonNegativeFloat(key string, fallback float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		p.fail(key)
		return 0
	}
	return v
}

func (p *parser) boolean(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key)
		return false
	}
	return v
}
