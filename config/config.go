// Package config loads and validates the pipeline configuration from an
// optional YAML file with environment variable overrides. Everything is
// checked at load time; an invalid combination never reaches a component
// constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/framegate/curate/codec"
	"github.com/framegate/curate/curation"
	"github.com/framegate/curate/dedup"
	"github.com/framegate/curate/quality"
	"github.com/framegate/curate/video"
)

// CodecConfig selects and sizes the tokenizer.
type CodecConfig struct {
	Variant          string `yaml:"variant"`
	CompressionRatio int    `yaml:"compression_ratio"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	BatchSize        int    `yaml:"batch_size"`
}

// Config is the full pipeline configuration surface.
type Config struct {
	Env               string `yaml:"env"`
	StoragePath       string `yaml:"storage_path"`
	DeviceMemoryBytes uint64 `yaml:"device_memory_bytes"`

	Codec   CodecConfig        `yaml:"codec"`
	Quality quality.Thresholds `yaml:"quality"`
	Dedup   dedup.Config       `yaml:"dedup"`

	MaxConcurrent int           `yaml:"max_concurrent"`
	StageTimeout  time.Duration `yaml:"stage_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBase     time.Duration `yaml:"retry_base"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Env:               "development",
		StoragePath:       "./data",
		DeviceMemoryBytes: 8 << 30, // 8 GiB
		Codec: CodecConfig{
			Variant:          string(codec.VariantDiscrete),
			CompressionRatio: 512,
			Width:            1280,
			Height:           720,
			BatchSize:        codec.DefaultBatchSize,
		},
		Quality: quality.Thresholds{
			MinPSNR: 25.0,
			MinSSIM: 0.7,
			MaxFID:  50.0,
			MaxFVD:  100.0,
		},
		Dedup:         dedup.DefaultConfig(),
		MaxConcurrent: 4,
		StageTimeout:  600 * time.Second,
		RetryAttempts: 3,
		RetryBase:     time.Second,
	}
}

// Load reads the optional YAML file at path, applies env overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	// env files are optional; absence is not an error
	_ = godotenv.Load(".env", ".env.local")

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &curation.ConfigurationError{Reason: fmt.Sprintf("read config file: %v", err)}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &curation.ConfigurationError{Reason: fmt.Sprintf("parse config file: %v", err)}
		}
	}

	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.StoragePath = getenv("STORAGE_PATH", cfg.StoragePath)
	if v := os.Getenv("DEVICE_MEMORY_BYTES"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, &curation.ConfigurationError{Reason: fmt.Sprintf("DEVICE_MEMORY_BYTES %q is not a number", v)}
		}
		cfg.DeviceMemoryBytes = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate aggregates the component-level validations.
func (c *Config) Validate() error {
	if c.DeviceMemoryBytes == 0 {
		return &curation.ConfigurationError{Reason: "device memory budget must be positive"}
	}
	res := video.Resolution{Width: c.Codec.Width, Height: c.Codec.Height}
	if _, err := codec.NewConfig(codec.Variant(c.Codec.Variant), c.Codec.CompressionRatio, res, c.Codec.BatchSize, c.DeviceMemoryBytes); err != nil {
		return err
	}
	if err := c.Quality.Validate(); err != nil {
		return err
	}
	return c.Orchestrator().Validate()
}

// CodecSpec builds the validated tokenizer configuration.
func (c *Config) CodecSpec() (*codec.Config, error) {
	res := video.Resolution{Width: c.Codec.Width, Height: c.Codec.Height}
	return codec.NewConfig(codec.Variant(c.Codec.Variant), c.Codec.CompressionRatio, res, c.Codec.BatchSize, c.DeviceMemoryBytes)
}

// Orchestrator derives the orchestrator configuration.
func (c *Config) Orchestrator() curation.Config {
	policy := curation.RetryPolicy{
		MaxAttempts: c.RetryAttempts,
		BaseDelay:   c.RetryBase,
		Backoff:     curation.BackoffExponential,
	}
	return curation.Config{
		BatchSize:     c.Codec.BatchSize,
		MaxConcurrent: c.MaxConcurrent,
		StageTimeout:  c.StageTimeout,
		RetryPolicies: curation.RetryPolicies{
			curation.ErrKindCodec:             policy,
			curation.ErrKindTimeout:           policy,
			curation.ErrKindExtraction:        policy,
			curation.ErrKindResourceExhausted: policy,
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
