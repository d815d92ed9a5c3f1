// Package config resolves runtime settings from ORION_* environment
// variables. Command-line flags take their defaults from here, so a flag
// overrides the environment which overrides the built-in default.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	envAddr            = "ORION_ADDR"
	envEnv             = "ORION_ENV"
	envLogLevel        = "ORION_LOG_LEVEL"
	envDataDir         = "ORION_DATA_DIR"
	envStorage         = "ORION_STORAGE"
	envPostgresDSN     = "ORION_POSTGRES_DSN"
	envRedisURL        = "ORION_REDIS_URL"
	envSigningKey      = "ORION_SIGNING_KEY"
	envAccessTTL       = "ORION_ACCESS_TTL"
	envRefreshTTL      = "ORION_REFRESH_TTL"
	envAllowedOrigins  = "ORION_ALLOWED_ORIGINS"
	envTrustedProxies  = "ORION_TRUSTED_PROXIES"
	envAPIURL          = "ORION_API_URL"
	envRefreshTimeout  = "ORION_REFRESH_TIMEOUT"
	envCookieFile      = "ORION_COOKIE_FILE"
	defaultAccessTTL   = 15 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultRefreshWait = 10 * time.Second
)

// Server holds settings for the account service.
type Server struct {
	Addr           string
	Env            string
	LogLevel       string
	DataDir        string
	Storage        string
	PostgresDSN    string
	RedisURL       string
	SigningKey     string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	AllowedOrigins []string
	TrustedProxies []string
}

// Client holds settings for CLI commands that talk to the service.
type Client struct {
	APIURL         string
	Env            string
	LogLevel       string
	RefreshTimeout time.Duration
	CookieFile     string
}

// ServerFromEnv reads the service settings.
func ServerFromEnv() Server {
	return Server{
		Addr:           GetEnv(envAddr, ":8080"),
		Env:            GetEnv(envEnv, "DEV"),
		LogLevel:       GetEnv(envLogLevel, "info"),
		DataDir:        GetEnv(envDataDir, "./data"),
		Storage:        GetEnv(envStorage, "bbolt"),
		PostgresDSN:    GetEnv(envPostgresDSN, ""),
		RedisURL:       GetEnv(envRedisURL, ""),
		SigningKey:     GetEnv(envSigningKey, ""),
		AccessTTL:      GetDuration(envAccessTTL, defaultAccessTTL),
		RefreshTTL:     GetDuration(envRefreshTTL, defaultRefreshTTL),
		AllowedOrigins: GetList(envAllowedOrigins, []string{"http://localhost:5173"}),
		TrustedProxies: GetList(envTrustedProxies, nil),
	}
}

// ClientFromEnv reads the CLI settings.
func ClientFromEnv() Client {
	return Client{
		APIURL:         GetEnv(envAPIURL, "http://localhost:8080"),
		Env:            GetEnv(envEnv, "DEV"),
		LogLevel:       GetEnv(envLogLevel, "warn"),
		RefreshTimeout: GetDuration(envRefreshTimeout, defaultRefreshWait),
		CookieFile:     GetEnv(envCookieFile, defaultCookieFile()),
	}
}

func defaultCookieFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".orion-session.json"
	}
	return filepath.Join(dir, "orion", "session.json")
}

// GetEnv returns the value of envVar, or defaultValue when unset or empty.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDuration parses envVar as a time.Duration. A bare integer is read as
// seconds. Unparseable values fall back to defaultValue.
func GetDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetList splits a comma-separated envVar, dropping empty elements.
func GetList(envVar string, defaultValue []string) []string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
