package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for the service and CLI.
type Config struct {
	Port            string        `yaml:"port"`
	ModelPath       string        `yaml:"model_path"`
	MetadataPath    string        `yaml:"metadata_path"`
	LabelsPath      string        `yaml:"labels_path"`
	ORTLibrary      string        `yaml:"ort_library"`
	LogLevel        string        `yaml:"log_level"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	Workers         int           `yaml:"workers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Overrides captures CLI supplied values. Zero values are ignored.
type Overrides struct {
	Port       string
	ModelPath  string
	LabelsPath string
	LogLevel   string
	Workers    int
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port:            "8080",
		ModelPath:       "models/traffic_sign_ai.onnx",
		MetadataPath:    "models/model_metadata.json",
		LogLevel:        "info",
		MaxUploadBytes:  10 << 20,
		Workers:         runtime.NumCPU(),
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads a YAML config on top of the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("TSR_MODEL_PATH"); v != "" {
		c.ModelPath = v
	}
	if v := getenv("TSR_METADATA_PATH"); v != "" {
		c.MetadataPath = v
	}
	if v := getenv("TSR_LABELS_PATH"); v != "" {
		c.LabelsPath = v
	}
	if v := getenv("TSR_ORT_LIB"); v != "" {
		c.ORTLibrary = v
	}
	if v := getenv("TSR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("TSR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TSR_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Port != "" {
		c.Port = o.Port
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.LabelsPath != "" {
		c.LabelsPath = o.LabelsPath
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.ModelPath == "" {
		return errors.New("model_path must be set")
	}
	if c.Port == "" {
		return errors.New("port must be set")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("port must be 1-65535 (got %q)", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be > 0 (got %d)", c.MaxUploadBytes)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0 (got %d)", c.Workers)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
