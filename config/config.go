// Package config loads service configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "listing-autofill"
	EnvFileName = "config.env"
)

// Config holds everything the service reads from the environment.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string
	// DBPath is the SQLite database file.
	DBPath string

	// VisionAPIURL is the base URL of the remote vision provider. Empty
	// disables the remote provider entirely; every analysis then uses the
	// local fallback.
	VisionAPIURL string
	// VisionAPIKey authenticates against the remote provider.
	VisionAPIKey string
	// VisionTimeout bounds one remote annotation call.
	VisionTimeout time.Duration

	// WorkerBatchSize bounds one background processing cycle.
	WorkerBatchSize int
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// FromEnv builds a Config from environment variables with defaults.
func FromEnv() Config {
	cfg := Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		DBPath:          envOr("AUTOFILL_DB_PATH", "autofill.db"),
		VisionAPIURL:    os.Getenv("VISION_API_URL"),
		VisionAPIKey:    os.Getenv("VISION_API_KEY"),
		VisionTimeout:   15 * time.Second,
		WorkerBatchSize: 10,
	}

	if v := os.Getenv("VISION_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			cfg.VisionTimeout = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WorkerBatchSize = n
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
