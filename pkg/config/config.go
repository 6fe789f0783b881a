// Package config loads gateway configuration: built-in defaults, then an
// optional YAML file named by COMPANION_CONFIG, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" | "text"
	// TimeZone is the IANA zone the offline resolver reports time in.
	TimeZone string `yaml:"time_zone"`
	// DevToken unlocks elevated access. Empty disables the feature.
	DevToken string `yaml:"dev_token"`

	Limits    LimitsConfig    `yaml:"limits"`
	Breakers  BreakersConfig  `yaml:"breakers"`
	Budgets   BudgetsConfig   `yaml:"budgets"`
	Cache     CacheConfig     `yaml:"cache"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Weather   WeatherConfig   `yaml:"weather"`
	LLM       LLMConfig       `yaml:"llm"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Client    ClientConfig    `yaml:"client"`
}

// LimitsConfig holds the sliding-window quotas.
type LimitsConfig struct {
	SessionMax    int           `yaml:"session_max"`
	SessionWindow time.Duration `yaml:"session_window"`
	ModelMax      int           `yaml:"model_max"`
	ModelWindow   time.Duration `yaml:"model_window"`
	// Capacity bounds the number of keys each limiter tracks.
	Capacity int `yaml:"capacity"`
}

type BreakersConfig struct {
	ExternalThreshold int           `yaml:"external_threshold"`
	ExternalReset     time.Duration `yaml:"external_reset"`
	ModelThreshold    int           `yaml:"model_threshold"`
	ModelReset        time.Duration `yaml:"model_reset"`
}

type BudgetsConfig struct {
	Offline         time.Duration `yaml:"offline"`
	Cache           time.Duration `yaml:"cache"`
	External        time.Duration `yaml:"external"`
	ExternalTimeout time.Duration `yaml:"external_timeout"`
}

type CacheConfig struct {
	Capacity   int           `yaml:"capacity"`
	WeatherTTL time.Duration `yaml:"weather_ttl"`
}

type SessionsConfig struct {
	Capacity int `yaml:"capacity"`
}

type WeatherConfig struct {
	BaseURL         string  `yaml:"base_url"`
	DefaultLocation string  `yaml:"default_location"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
}

// LLMConfig configures the model backend. The backend is disabled unless
// an API key or a base URL is set.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// ClientConfig is the per-IP flood throttle in front of the API.
type ClientConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	Capacity      int     `yaml:"capacity"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "INFO",
		LogFormat: "json",
		TimeZone:  "Local",
		Limits: LimitsConfig{
			SessionMax:    60,
			SessionWindow: time.Minute,
			ModelMax:      10,
			ModelWindow:   time.Minute,
			Capacity:      10000,
		},
		Breakers: BreakersConfig{
			ExternalThreshold: 5,
			ExternalReset:     30 * time.Second,
			ModelThreshold:    5,
			ModelReset:        30 * time.Second,
		},
		Budgets: BudgetsConfig{
			Offline:         80 * time.Millisecond,
			Cache:           80 * time.Millisecond,
			External:        350 * time.Millisecond,
			ExternalTimeout: 250 * time.Millisecond,
		},
		Cache: CacheConfig{
			Capacity:   1024,
			WeatherTTL: 10 * time.Minute,
		},
		Sessions: SessionsConfig{Capacity: 10000},
		Weather: WeatherConfig{
			BaseURL:         "https://wttr.in",
			DefaultLocation: "Stockton-on-Tees",
			RatePerSecond:   2,
			Burst:           4,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRate:  1.0,
			Environment: "development",
		},
		Client: ClientConfig{
			RatePerSecond: 20,
			Burst:         100,
			Capacity:      10000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("COMPANION_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	envString("PORT", &c.Port)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("COMPANION_TIME_ZONE", &c.TimeZone)
	envString("COMPANION_DEV_TOKEN", &c.DevToken)

	collect(envInt("COMPANION_SESSION_LIMIT", &c.Limits.SessionMax))
	collect(envDuration("COMPANION_SESSION_WINDOW", &c.Limits.SessionWindow))
	collect(envInt("COMPANION_MODEL_LIMIT", &c.Limits.ModelMax))
	collect(envDuration("COMPANION_MODEL_WINDOW", &c.Limits.ModelWindow))
	collect(envInt("COMPANION_LIMITER_CAPACITY", &c.Limits.Capacity))

	collect(envInt("COMPANION_EXTERNAL_BREAKER_THRESHOLD", &c.Breakers.ExternalThreshold))
	collect(envDuration("COMPANION_EXTERNAL_BREAKER_RESET", &c.Breakers.ExternalReset))
	collect(envInt("COMPANION_MODEL_BREAKER_THRESHOLD", &c.Breakers.ModelThreshold))
	collect(envDuration("COMPANION_MODEL_BREAKER_RESET", &c.Breakers.ModelReset))

	collect(envDuration("COMPANION_OFFLINE_BUDGET", &c.Budgets.Offline))
	collect(envDuration("COMPANION_CACHE_BUDGET", &c.Budgets.Cache))
	collect(envDuration("COMPANION_EXTERNAL_BUDGET", &c.Budgets.External))
	collect(envDuration("COMPANION_EXTERNAL_TIMEOUT", &c.Budgets.ExternalTimeout))

	collect(envInt("COMPANION_CACHE_CAPACITY", &c.Cache.Capacity))
	collect(envDuration("COMPANION_WEATHER_TTL", &c.Cache.WeatherTTL))
	collect(envInt("COMPANION_SESSION_CAPACITY", &c.Sessions.Capacity))

	envString("COMPANION_WEATHER_URL", &c.Weather.BaseURL)
	envString("COMPANION_DEFAULT_LOCATION", &c.Weather.DefaultLocation)
	collect(envFloat("COMPANION_WEATHER_RPS", &c.Weather.RatePerSecond))

	envString("OPENAI_API_KEY", &c.LLM.APIKey)
	envString("LLM_SERVICE_URL", &c.LLM.BaseURL)
	envString("LLM_MODEL", &c.LLM.Model)
	collect(envInt("LLM_MAX_TOKENS", &c.LLM.MaxTokens))
	collect(envFloat("LLM_TEMPERATURE", &c.LLM.Temperature))

	collect(envBool("OTEL_ENABLED", &c.Telemetry.Enabled))
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	collect(envBool("OTEL_EXPORTER_OTLP_INSECURE", &c.Telemetry.Insecure))
	collect(envFloat("OTEL_TRACES_SAMPLER_ARG", &c.Telemetry.SampleRate))
	envString("COMPANION_ENV", &c.Telemetry.Environment)

	collect(envFloat("COMPANION_CLIENT_RPS", &c.Client.RatePerSecond))
	collect(envInt("COMPANION_CLIENT_BURST", &c.Client.Burst))

	return errors.Join(errs...)
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positiveDur := func(name string, v time.Duration) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, v))
		}
	}

	positive("limits.session_max", c.Limits.SessionMax)
	positiveDur("limits.session_window", c.Limits.SessionWindow)
	positive("limits.model_max", c.Limits.ModelMax)
	positiveDur("limits.model_window", c.Limits.ModelWindow)
	positive("breakers.external_threshold", c.Breakers.ExternalThreshold)
	positiveDur("breakers.external_reset", c.Breakers.ExternalReset)
	positive("breakers.model_threshold", c.Breakers.ModelThreshold)
	positiveDur("breakers.model_reset", c.Breakers.ModelReset)
	positive("llm.max_tokens", c.LLM.MaxTokens)

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ModelEnabled reports whether a model backend is configured.
func (c *Config) ModelEnabled() bool {
	return c.LLM.APIKey != "" || c.LLM.BaseURL != ""
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
