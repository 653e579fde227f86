package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds everything the collector needs at construction.
type Config struct {
	// Directory receiving <pid>_<tid> artifacts
	BaseDir string `validate:"required"`
	// Cumulative footprint that triggers a flush
	Threshold int64 `validate:"gt=0"`
	// "retain" keeps the triggering record buffered, "flush" writes it too
	RetentionPolicy string `validate:"oneof=retain flush"`
	Codec           string `validate:"oneof=text zstd"`
	KeepOpen        bool
	MaxOpenFiles    int    `validate:"gte=1,lte=65536"`
	LogLevel        string `validate:"oneof=debug info warn error"`
	LogFormat       string `validate:"oneof=json console"`
}

const (
	DefaultBaseDir   = "/tmp/iotrace"
	DefaultThreshold = 100000
)

var validate = validator.New()

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BaseDir:         DefaultBaseDir,
		Threshold:       DefaultThreshold,
		RetentionPolicy: "retain",
		Codec:           "text",
		MaxOpenFiles:    64,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load reads a .env file if one exists, then IOTRACE_* environment
// variables, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	d := Default()
	cfg := Config{
		BaseDir:         getEnv("IOTRACE_DIR", d.BaseDir),
		Threshold:       getEnvAsInt64("IOTRACE_THRESHOLD", d.Threshold),
		RetentionPolicy: strings.ToLower(getEnv("IOTRACE_RETENTION_POLICY", d.RetentionPolicy)),
		Codec:           strings.ToLower(getEnv("IOTRACE_CODEC", d.Codec)),
		KeepOpen:        getEnvAsBool("IOTRACE_KEEP_OPEN", d.KeepOpen),
		MaxOpenFiles:    int(getEnvAsInt64("IOTRACE_MAX_OPEN_FILES", int64(d.MaxOpenFiles))),
		LogLevel:        strings.ToLower(getEnv("IOTRACE_LOG_LEVEL", d.LogLevel)),
		LogFormat:       strings.ToLower(getEnv("IOTRACE_LOG_FORMAT", d.LogFormat)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
