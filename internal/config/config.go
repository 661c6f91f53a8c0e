package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	defaultDevAPIURL  = "http://localhost:3001"
	defaultProdAPIURL = "https://tarot-tg-backend.onrender.com"

	// Default request timeout tolerates a cold-starting backend.
	defaultHTTPTimeout = 30 * time.Second
)

// StorageBackend selects how the durable local cache is persisted.
type StorageBackend string

const (
	StorageFile   StorageBackend = "file"
	StorageSQLite StorageBackend = "sqlite"
	StorageMemory StorageBackend = "memory"
)

// Config holds the client runtime configuration.
type Config struct {
	// APIBaseURL is the tarot backend base URL, without trailing slash.
	APIBaseURL string

	// DataDir holds the durable local cache (tokens, entitlement snapshot).
	DataDir string

	// Storage selects the local cache backend.
	Storage StorageBackend

	// HTTPTimeout bounds every backend request.
	HTTPTimeout time.Duration

	// InitData is the Telegram launch payload handed over by the host, if any.
	InitData string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, with optional .env overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		APIBaseURL:  defaultDevAPIURL,
		Storage:     StorageFile,
		HTTPTimeout: defaultHTTPTimeout,
		LogLevel:    "info",
		LogFormat:   "auto",
	}

	if strings.EqualFold(os.Getenv("TAROT_ENV"), "production") {
		cfg.APIBaseURL = defaultProdAPIURL
	}
	if url := strings.TrimSpace(os.Getenv("TAROT_API_URL")); url != "" {
		cfg.APIBaseURL = url
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")

	if dir := strings.TrimSpace(os.Getenv("TAROT_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = filepath.Join(home, ".tarot-client")
	}

	if backend := strings.TrimSpace(os.Getenv("TAROT_STORAGE")); backend != "" {
		switch StorageBackend(strings.ToLower(backend)) {
		case StorageFile, StorageSQLite, StorageMemory:
			cfg.Storage = StorageBackend(strings.ToLower(backend))
		default:
			log.Warn().Str("backend", backend).Msg("Unknown TAROT_STORAGE value; using file store")
		}
	}

	if raw := strings.TrimSpace(os.Getenv("TAROT_HTTP_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.HTTPTimeout = d
		} else if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.HTTPTimeout = time.Duration(secs) * time.Second
		} else {
			log.Warn().Str("value", raw).Msg("Invalid TAROT_HTTP_TIMEOUT; using default")
		}
	}

	cfg.InitData = os.Getenv("TELEGRAM_INIT_DATA")

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		cfg.LogFormat = format
	}

	return cfg, nil
}
