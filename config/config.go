package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Provider   ProviderConfig
	Extraction ExtractionConfig
	Matching   MatchingConfig
	Learning   LearningConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ProviderConfig holds generative extraction provider configuration.
// The provider speaks an OpenAI-compatible chat completions API.
type ProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ExtractionConfig holds the orchestrator and detector tunables
type ExtractionConfig struct {
	DetectionThreshold   float64 `mapstructure:"detection_threshold"`   // StoreDetector minimum score
	HeaderWindow         int     `mapstructure:"header_window"`         // chars of header inspected by the detector
	TemplateConfidence   float64 `mapstructure:"template_confidence"`   // above this, template-only
	HybridConfidence     float64 `mapstructure:"hybrid_confidence"`     // at or above this, hybrid verify
	HybridTolerance      float64 `mapstructure:"hybrid_tolerance"`      // item-count disagreement ratio
	LowYieldThreshold    float64 `mapstructure:"low_yield_threshold"`   // below this line-yield, warn
}

// MatchingConfig holds product matcher configuration
type MatchingConfig struct {
	MinScore           float64 `mapstructure:"min_score"` // floor below which tier is none
	EnableDebugLogging bool    `mapstructure:"enable_debug_logging"`
}

// LearningConfig holds template learner and confidence tracker configuration
type LearningConfig struct {
	MinConfirmedItems  int           `mapstructure:"min_confirmed_items"` // items required before learning
	AcceptanceRatio    float64       `mapstructure:"acceptance_ratio"`    // re-parse match fraction to accept
	EMAAlpha           float64       `mapstructure:"ema_alpha"`           // confidence smoothing factor
	DemotionConfidence float64       `mapstructure:"demotion_confidence"` // below this, demote to hybrid
	DemotionSamples    int           `mapstructure:"demotion_samples"`    // samples required before demotion
	RelearnConfidence  float64       `mapstructure:"relearn_confidence"`  // below this, schedule re-learning
	StalenessWindow    time.Duration `mapstructure:"staleness_window"`    // unused profiles re-learn after this
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP    int `mapstructure:"per_ip"`
	Provider int `mapstructure:"provider"` // generative provider requests per minute
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pantrylens/")

	// Environment variable settings
	v.SetEnvPrefix("PANTRYLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Provider defaults
	v.SetDefault("provider.base_url", "http://localhost:8000/v1")
	v.SetDefault("provider.model", "qwen2.5-7b-instruct")
	v.SetDefault("provider.temperature", 0.1)
	v.SetDefault("provider.timeout", "60s")

	// Extraction defaults
	v.SetDefault("extraction.detection_threshold", 0.3)
	v.SetDefault("extraction.header_window", 256)
	v.SetDefault("extraction.template_confidence", 0.7)
	v.SetDefault("extraction.hybrid_confidence", 0.3)
	v.SetDefault("extraction.hybrid_tolerance", 0.2)
	v.SetDefault("extraction.low_yield_threshold", 0.1)

	// Matching defaults
	v.SetDefault("matching.min_score", 50.0)
	v.SetDefault("matching.enable_debug_logging", false)

	// Learning defaults
	v.SetDefault("learning.min_confirmed_items", 3)
	v.SetDefault("learning.acceptance_ratio", 0.8)
	v.SetDefault("learning.ema_alpha", 0.2)
	v.SetDefault("learning.demotion_confidence", 0.3)
	v.SetDefault("learning.demotion_samples", 5)
	v.SetDefault("learning.relearn_confidence", 0.4)
	v.SetDefault("learning.staleness_window", "4320h") // 180 days

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip", 100)
	v.SetDefault("ratelimit.provider", 60)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required (set PANTRYLENS_PROVIDER_BASE_URL)")
	}

	if config.Extraction.HybridConfidence > config.Extraction.TemplateConfidence {
		return fmt.Errorf("hybrid confidence bound (%.2f) must not exceed template bound (%.2f)",
			config.Extraction.HybridConfidence, config.Extraction.TemplateConfidence)
	}

	if config.Extraction.HybridTolerance < 0 || config.Extraction.HybridTolerance > 1 {
		return fmt.Errorf("hybrid tolerance must be in [0,1], got: %.2f", config.Extraction.HybridTolerance)
	}

	if config.Learning.EMAAlpha <= 0 || config.Learning.EMAAlpha > 1 {
		return fmt.Errorf("EMA alpha must be in (0,1], got: %.2f", config.Learning.EMAAlpha)
	}

	if config.Learning.AcceptanceRatio <= 0 || config.Learning.AcceptanceRatio > 1 {
		return fmt.Errorf("acceptance ratio must be in (0,1], got: %.2f", config.Learning.AcceptanceRatio)
	}

	if config.Learning.MinConfirmedItems < 1 {
		return fmt.Errorf("min confirmed items must be >= 1, got: %d", config.Learning.MinConfirmedItems)
	}

	if config.Log.Format != "json" && config.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got: %s", config.Log.Format)
	}

	return nil
}
