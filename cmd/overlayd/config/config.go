// Package config loads overlayd's daemon configuration from the
// environment, in the same .env-plus-getenv style as the teacher's
// cmd/api/config/config.go.
package config

import (
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

// Config holds overlayd's runtime configuration.
type Config struct {
	DataDir          string // root of main.img, mountpoint, mirror, dummy, cache, staging, logs, run
	ProcMountsPath   string // normally "/proc/mounts"
	MainImageSizeMiB int    // parsed from MAIN_IMAGE_SIZE, in MiB; not passed to the orchestrator, which creates main.img at a fixed 64 MiB

	LogLevel string

	OtelEnabled           bool
	OtelEndpoint          string
	OtelServiceName       string
	OtelServiceInstanceID string
	OtelInsecure          bool
	Version               string
	Env                   string
}

func getHostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// Load loads configuration from environment variables, loading a .env
// file first if one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DataDir:          getEnv("DATA_DIR", "/data/adb/overlayd"),
		ProcMountsPath:   getEnv("PROC_MOUNTS_PATH", "/proc/mounts"),
		MainImageSizeMiB: getEnvSizeMiB("MAIN_IMAGE_SIZE", 64),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_ENDPOINT", "127.0.0.1:4317"),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "overlayd"),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", getHostname()),
		OtelInsecure:          getEnvBool("OTEL_INSECURE", true),
		Version:               getEnv("VERSION", "unknown"),
		Env:                   getEnv("ENV", "unset"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvSizeMiB parses a human size string (e.g. "64MB") and returns it in
// MiB, the unit imagestore.Sizer works in.
func getEnvSizeMiB(key string, defaultMiB int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultMiB
	}
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(value)); err != nil {
		return defaultMiB
	}
	return int(v.MBytes())
}
