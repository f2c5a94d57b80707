package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/raphaelgruber/esisync/internal/db"
	"github.com/raphaelgruber/esisync/internal/fetcher"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Game API
	ESIBaseURL    string
	ESIUserAgent  string
	ESIRateLimit  float64
	ESIBurst      int
	ESIMaxRetries int
	ESITimeout    time.Duration
	Concurrency   int

	// EVE SSO refresh-token exchange
	SSOClientID     string
	SSOClientSecret string
	SSOTokenURL     string
	TokenDB         string

	// Caches
	CacheDir      string
	ContractCache string // "file" or "surrealdb"

	// SurrealDB connection, used when ContractCache is "surrealdb"
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Destination store
	WPBaseURL     string
	WPUser        string
	WPAppPassword string
	WPPostStatus  string

	// Logging
	LogFile  string
	LogLevel slog.Level

	TrackingFile string
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load() // a missing .env is fine; real env vars win

	return Config{
		ESIBaseURL:    getEnv("ESI_BASE_URL", "https://esi.evetech.net/latest"),
		ESIUserAgent:  getEnv("ESI_USER_AGENT", "esisync"),
		ESIRateLimit:  getFloat("ESI_RATE_LIMIT", 20),
		ESIBurst:      getInt("ESI_BURST", 10),
		ESIMaxRetries: getInt("ESI_MAX_RETRIES", 3),
		ESITimeout:    getDuration("ESI_TIMEOUT", 30*time.Second),
		Concurrency:   getInt("ESISYNC_CONCURRENCY", 4),

		SSOClientID:     getEnv("EVE_SSO_CLIENT_ID", ""),
		SSOClientSecret: getEnv("EVE_SSO_CLIENT_SECRET", ""),
		SSOTokenURL:     getEnv("EVE_SSO_TOKEN_URL", "https://login.eveonline.com/v2/oauth/token"),
		TokenDB:         getEnv("ESISYNC_TOKEN_DB", "./tokens.db"),

		CacheDir:      getEnv("ESISYNC_CACHE_DIR", "./cache"),
		ContractCache: getEnv("ESISYNC_CONTRACT_CACHE", "file"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "esisync"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "contracts"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		WPBaseURL:     getEnv("WP_BASE_URL", ""),
		WPUser:        getEnv("WP_USER", ""),
		WPAppPassword: getEnv("WP_APP_PASSWORD", ""),
		WPPostStatus:  getEnv("WP_POST_STATUS", "publish"),

		LogFile:  getEnv("ESISYNC_LOG_FILE", "/tmp/esisync.log"),
		LogLevel: parseLogLevel(getEnv("ESISYNC_LOG_LEVEL", "INFO")),

		TrackingFile: getEnv("ESISYNC_TRACKING_FILE", "./tracking.yaml"),
	}
}

// Tracking lists the regions and corporations a run fetches.
type Tracking struct {
	Regions      []int64               `yaml:"regions"`
	Corporations []fetcher.Corporation `yaml:"corporations"`
}

// LoadTracking reads the tracking file. A missing file yields an empty
// Tracking; a malformed one is an error.
func LoadTracking(path string) (Tracking, error) {
	var t Tracking
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("read tracking file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tracking file %s: %w", path, err)
	}
	for i, c := range t.Corporations {
		if c.ID == 0 || c.CharacterID == 0 {
			return t, fmt.Errorf("tracking file %s: corporation %d needs id and character_id", path, i)
		}
	}
	return t, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DB returns the SurrealDB connection settings.
func (c Config) DB() db.Config {
	return db.Config{
		URL:       c.SurrealDBURL,
		Namespace: c.SurrealDBNamespace,
		Database:  c.SurrealDBDatabase,
		Username:  c.SurrealDBUser,
		Password:  c.SurrealDBPass,
		AuthLevel: c.SurrealDBAuthLevel,
	}
}
