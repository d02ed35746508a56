// Package config loads the engine configuration from an optional YAML
// file pointed at by WAKEGUARD_CONFIG, with environment variables
// filling anything the file leaves unset.
package config

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"wakeguard/internal/audio"
	"wakeguard/internal/chain"
)

// ChainConfig carries the notification-chain tuning knobs.
type ChainConfig struct {
	MaxChainCount          int `yaml:"max_chain_count"`
	RingWindowSeconds      int `yaml:"ring_window_seconds"`
	FallbackSpacingSeconds int `yaml:"fallback_spacing_seconds"`
	MinLeadTimeSeconds     int `yaml:"min_lead_time_seconds"`
	CleanupGraceSeconds    int `yaml:"cleanup_grace_seconds"`
}

// Duration is a time.Duration that unmarshals from YAML strings such
// as "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NotifyConfig carries the outbound webhook settings.
type NotifyConfig struct {
	WebhookURL   string   `yaml:"webhook_url"`
	Template     string   `yaml:"template"`
	Cooldown     Duration `yaml:"cooldown"`
	DedupeWindow Duration `yaml:"dedupe_window"`
}

// Config defines the engine configuration.
type Config struct {
	HTTPAddr           string       `yaml:"http_addr"`
	DataDir            string       `yaml:"data_dir"`
	DatabaseURL        string       `yaml:"database_url"`
	Timezone           string       `yaml:"timezone"`
	JWTSecret          string       `yaml:"jwt_secret"`
	ReliabilityMode    string       `yaml:"reliability_mode"`
	SuppressForeground bool         `yaml:"suppress_foreground_sound"`
	Chain              ChainConfig  `yaml:"chain"`
	Notify             NotifyConfig `yaml:"notify"`
}

// Load reads configuration from yaml and env.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		DataDir:         getenvDefault("WAKEGUARD_DATA_DIR", filepath.FromSlash("var/wakeguard")),
		DatabaseURL:     getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")),
		Timezone:        getenvDefault("WAKEGUARD_TZ", ""),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", os.Getenv("JWT_SECRET")),
		ReliabilityMode: getenvDefault("WAKEGUARD_RELIABILITY_MODE", string(audio.ModeNotificationsPlusAudio)),
		Chain: ChainConfig{
			MaxChainCount:          getenvIntDefault("CHAIN_MAX_COUNT", chain.DefaultMaxChainCount),
			RingWindowSeconds:      getenvIntDefault("CHAIN_RING_WINDOW_SECONDS", chain.DefaultRingWindowSeconds),
			FallbackSpacingSeconds: getenvIntDefault("CHAIN_FALLBACK_SPACING_SECONDS", chain.DefaultFallbackSpacingSeconds),
			MinLeadTimeSeconds:     getenvIntDefault("CHAIN_MIN_LEAD_TIME_SECONDS", chain.DefaultMinLeadTimeSeconds),
			CleanupGraceSeconds:    getenvIntDefault("CHAIN_CLEANUP_GRACE_SECONDS", chain.DefaultCleanupGraceSeconds),
		},
		Notify: NotifyConfig{
			WebhookURL:   os.Getenv("ALARM_WEBHOOK_URL"),
			Template:     os.Getenv("ALARM_NOTIFY_TEMPLATE"),
			Cooldown:     Duration(getenvDuration("ALARM_NOTIFY_COOLDOWN", 0)),
			DedupeWindow: Duration(getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", 0)),
		},
	}

	if path := os.Getenv("WAKEGUARD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DataDir == "" {
		return cfg, errors.New("config: data dir required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("config: AUTH_JWT_SECRET required")
	}
	return cfg, nil
}

// ChainSettings resolves the chain knobs into clamped settings.
// Zero-valued knobs fall back to the shipped defaults.
func (c Config) ChainSettings(logger *log.Logger) chain.Settings {
	knobs := c.Chain
	defaults := chain.DefaultSettings()
	if knobs.MaxChainCount == 0 {
		knobs.MaxChainCount = defaults.MaxChainCount
	}
	if knobs.RingWindowSeconds == 0 {
		knobs.RingWindowSeconds = defaults.RingWindowSeconds
	}
	if knobs.FallbackSpacingSeconds == 0 {
		knobs.FallbackSpacingSeconds = defaults.FallbackSpacingSeconds
	}
	if knobs.MinLeadTimeSeconds == 0 {
		knobs.MinLeadTimeSeconds = defaults.MinLeadTimeSeconds
	}
	if knobs.CleanupGraceSeconds == 0 {
		knobs.CleanupGraceSeconds = defaults.CleanupGraceSeconds
	}
	return chain.NewSettings(knobs.MaxChainCount, knobs.RingWindowSeconds, knobs.FallbackSpacingSeconds, knobs.MinLeadTimeSeconds, knobs.CleanupGraceSeconds, logger)
}

// Location resolves the configured timezone, defaulting to local time.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Reliability builds the audio reliability settings.
func (c Config) Reliability() *audio.Settings {
	return audio.NewSettings(audio.ReliabilityMode(c.ReliabilityMode), c.SuppressForeground)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
