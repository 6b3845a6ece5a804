package liveness

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvModelPath   = "LIVENESS_MODEL_PATH"
	EnvCascadePath = "LIVENESS_CASCADE_PATH"
	EnvWorkers     = "LIVENESS_WORKERS"
	EnvParallel    = "LIVENESS_PARALLEL"
	EnvAddr        = "LIVENESS_ADDR"
	EnvLogLevel    = "LIVENESS_LOG_LEVEL"
)

// Config holds the engine settings and the optional collaborators used by the binaries.
type Config struct {
	// ModelPath points to the safetensors artifact with the classifier parameters.
	ModelPath string `validate:"required"`
	// CascadePath points to a pigo face cascade. Only needed when full images are analyzed.
	CascadePath string
	// Workers bounds the goroutines of every convolution. Zero means one per CPU.
	Workers int `validate:"gte=0,lte=256"`
	// Parallel runs the classifier and the three analyzers concurrently.
	Parallel bool
	Addr     string `validate:"omitempty,hostname_port"`
	LogLevel string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
}

var validate = validator.New()

// Validate checks the configuration fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// ConfigFromEnv builds a configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set win.
func ConfigFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env file: %w", err)
	}

	cfg := Config{
		ModelPath:   os.Getenv(EnvModelPath),
		CascadePath: os.Getenv(EnvCascadePath),
		Addr:        os.Getenv(EnvAddr),
		LogLevel:    os.Getenv(EnvLogLevel),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv(EnvParallel); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvParallel, err)
		}
		cfg.Parallel = b
	}
	return cfg, nil
}
