// Package config loads bookstream configuration from command-line flags,
// environment variables and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Wire codecs.
const (
	CodecJSON  = "json"
	CodecProto = "proto"
)

// Config holds the configuration shared by the server, bridge and CLI binaries.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Server ServerConfig
	Store  StoreConfig
	Stream StreamConfig
	Client ClientConfig
	Bridge BridgeConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds the stream server's HTTP configuration.
type ServerConfig struct {
	Name           string
	Host           string
	Port           string        // default: 50051
	AllowedOrigins []string      // CORS and WebSocket origin allowlist
	ReadTimeout    time.Duration // default: 15s
	WriteTimeout   time.Duration // default: 15s
	IdleTimeout    time.Duration // default: 60s
	AdvertiseMDNS  bool          // default: false
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend  string // memory, sqlite or badger
	DataPath string // directory for sqlite/badger files
	SeedFile string // optional YAML seed for the memory backend
}

// StreamConfig tunes server-side sessions.
type StreamConfig struct {
	// SendBuffer is the per-session outbound queue length.
	SendBuffer int
	// UpgradeRate is the allowed stream upgrades per second per client IP.
	UpgradeRate float64
	// UpgradeBurst is the burst size for UpgradeRate.
	UpgradeBurst int
}

// ClientConfig configures the client connection manager.
type ClientConfig struct {
	URL            string
	Codec          string
	ReconnectDelay time.Duration // default: 5s
	ReadyFallback  time.Duration // default: 0, the next scheduling opportunity
	MaxPending     int           // 0 means unbounded
}

// BridgeConfig configures the push bridge.
type BridgeConfig struct {
	Port string // default: 3000
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("bookstream", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	serverName := fs.String("server-name", "", "Name advertised for this server")
	host := fs.String("host", "", "Listen host (default: localhost)")
	port := fs.String("port", "", "Stream server port (default: 50051)")
	allowedOrigins := fs.String("allowed-origins", "", "Comma separated origin allowlist")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	advertiseMDNS := fs.String("advertise-mdns", "", "Advertise via mDNS/Zeroconf (default: false)")

	backend := fs.String("store", "", "Store backend: memory, sqlite, badger (default: memory)")
	dataPath := fs.String("data-path", "", "Directory for store files")
	seedFile := fs.String("seed-file", "", "YAML file with seed books for the memory store")

	sendBuffer := fs.String("send-buffer", "", "Per-session outbound queue length (default: 256)")
	upgradeRate := fs.String("upgrade-rate", "", "Stream upgrades per second per IP (default: 5)")
	upgradeBurst := fs.String("upgrade-burst", "", "Stream upgrade burst per IP (default: 10)")

	streamURL := fs.String("stream-url", "", "Stream endpoint used by clients")
	codec := fs.String("codec", "", "Wire codec: json or proto (default: json)")
	reconnectDelay := fs.String("reconnect-delay", "", "Delay before reconnecting (default: 5s)")
	readyFallback := fs.String("ready-fallback", "", "Readiness fallback delay (default: 0s)")
	maxPending := fs.String("max-pending", "", "Pending queue bound, 0 for unbounded")

	bridgePort := fs.String("bridge-port", "", "Push bridge port (default: 3000)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env files are fine. godotenv never overrides variables that are already set.
	_ = godotenv.Load(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Name:           getConfigValue(*serverName, "SERVER_NAME", "Bookstream"),
			Host:           getConfigValue(*host, "HOST", "localhost"),
			Port:           getConfigValue(*port, "SERVER_PORT", "50051"),
			AllowedOrigins: splitList(getConfigValue(*allowedOrigins, "ALLOWED_ORIGINS", "http://localhost:3000")),
			AdvertiseMDNS:  getBoolConfigValue(*advertiseMDNS, "ADVERTISE_MDNS", false),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getConfigValue(*backend, "STORE_BACKEND", BackendMemory)),
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
			SeedFile: getConfigValue(*seedFile, "SEED_FILE", ""),
		},
		Stream: StreamConfig{
			SendBuffer:   getIntConfigValue(*sendBuffer, "STREAM_SEND_BUFFER", 256),
			UpgradeRate:  getFloatConfigValue(*upgradeRate, "STREAM_UPGRADE_RATE", 5),
			UpgradeBurst: getIntConfigValue(*upgradeBurst, "STREAM_UPGRADE_BURST", 10),
		},
		Client: ClientConfig{
			Codec:      strings.ToLower(getConfigValue(*codec, "CODEC", CodecJSON)),
			MaxPending: getIntConfigValue(*maxPending, "MAX_PENDING", 0),
		},
		Bridge: BridgeConfig{
			Port: getConfigValue(*bridgePort, "BRIDGE_PORT", "3000"),
		},
	}

	cfg.Client.URL = getConfigValue(*streamURL, "BOOKSTREAM_URL",
		fmt.Sprintf("ws://%s:%s/api/v1/books/stream", cfg.Server.Host, cfg.Server.Port))

	durations := []struct {
		flagValue, envKey, def string
		dest                   *time.Duration
	}{
		{*readTimeout, "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout},
		{*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s", &cfg.Server.WriteTimeout},
		{*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", &cfg.Server.IdleTimeout},
		{*reconnectDelay, "RECONNECT_DELAY", "5s", &cfg.Client.ReconnectDelay},
		{*readyFallback, "READY_FALLBACK", "0s", &cfg.Client.ReadyFallback},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagValue, d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dest = parsed
	}

	if cfg.Store.DataPath != "" {
		expanded, err := expandPath(cfg.Store.DataPath)
		if err != nil {
			return nil, fmt.Errorf("invalid data path: %w", err)
		}
		cfg.Store.DataPath = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{"development": true, "staging": true, "production": true}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite, BackendBadger:
		if c.Store.DataPath == "" {
			return fmt.Errorf("DATA_PATH is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be memory, sqlite, or badger)", c.Store.Backend)
	}

	if c.Client.Codec != CodecJSON && c.Client.Codec != CodecProto {
		return fmt.Errorf("invalid codec: %s (must be json or proto)", c.Client.Codec)
	}
	if c.Client.ReconnectDelay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	if c.Client.ReadyFallback < 0 {
		return errors.New("ready fallback cannot be negative")
	}
	if c.Client.MaxPending < 0 {
		return errors.New("max pending cannot be negative")
	}
	if c.Stream.SendBuffer <= 0 {
		return errors.New("stream send buffer must be positive")
	}

	return nil
}

// Addr returns the stream server listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// expandPath expands ~ and makes the path absolute.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue accepts "true", "1" and "yes" (case-insensitive) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

// splitList splits a comma separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
