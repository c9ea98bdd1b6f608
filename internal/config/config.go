package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all equimatch settings.
type Config struct {
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Grouper  GrouperConfig  `mapstructure:"grouper"`
	Classify ClassifyConfig `mapstructure:"classify"`
	Service  ServiceConfig  `mapstructure:"service"`
	Suggest  SuggestConfig  `mapstructure:"suggest"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EmbedderConfig holds local embedding model settings.
type EmbedderConfig struct {
	ModelPath string `mapstructure:"model_path"`
	VocabPath string `mapstructure:"vocab_path"`
	CacheDir  string `mapstructure:"cache_dir"` // "" disables the disk cache
}

// GrouperConfig holds near-duplicate grouping settings.
type GrouperConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// ClassifyConfig holds heading classification settings.
type ClassifyConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// ServiceConfig holds external classification service settings.
type ServiceConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"` // minimum delay between calls
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// SuggestConfig holds suggestion engine thresholds.
type SuggestConfig struct {
	FrequencyThreshold   float64 `mapstructure:"frequency_threshold"`   // percent
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"` // [0,1]
	TiePriority          string  `mapstructure:"tie_priority"`          // "correlation" or "frequency"
}

// StoreConfig holds artifact store settings.
type StoreConfig struct {
	Path string `mapstructure:"path"` // sqlite database file
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration from an optional YAML file plus EQUIMATCH_*
// environment overrides. Defaults match the reference pipeline's thresholds.
// Passing an empty path skips the file and uses defaults + env only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EQUIMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedder.model_path", "models/model.onnx")
	v.SetDefault("embedder.vocab_path", "models/vocab.txt")
	v.SetDefault("embedder.cache_dir", "")
	v.SetDefault("grouper.threshold", 0.97)
	v.SetDefault("classify.threshold", 0.9)
	v.SetDefault("service.timeout", 30*time.Second)
	v.SetDefault("service.min_interval", 2*time.Second)
	v.SetDefault("service.max_attempts", 3)
	v.SetDefault("suggest.frequency_threshold", 80.0)
	v.SetDefault("suggest.correlation_threshold", 0.7)
	v.SetDefault("suggest.tie_priority", "correlation")
	v.SetDefault("store.path", "equimatch.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

func (c Config) validate() error {
	if c.Grouper.Threshold <= 0 || c.Grouper.Threshold > 1 {
		return fmt.Errorf("config: grouper.threshold %v outside (0,1]", c.Grouper.Threshold)
	}
	if c.Classify.Threshold <= 0 || c.Classify.Threshold > 1 {
		return fmt.Errorf("config: classify.threshold %v outside (0,1]", c.Classify.Threshold)
	}
	if c.Suggest.CorrelationThreshold < 0 || c.Suggest.CorrelationThreshold > 1 {
		return fmt.Errorf("config: suggest.correlation_threshold %v outside [0,1]", c.Suggest.CorrelationThreshold)
	}
	if c.Suggest.FrequencyThreshold < 0 || c.Suggest.FrequencyThreshold > 100 {
		return fmt.Errorf("config: suggest.frequency_threshold %v outside [0,100]", c.Suggest.FrequencyThreshold)
	}
	switch c.Suggest.TiePriority {
	case "correlation", "frequency":
	default:
		return fmt.Errorf("config: suggest.tie_priority %q must be \"correlation\" or \"frequency\"", c.Suggest.TiePriority)
	}
	if c.Service.MaxAttempts < 1 {
		return fmt.Errorf("config: service.max_attempts must be >= 1, got %d", c.Service.MaxAttempts)
	}
	return nil
}
