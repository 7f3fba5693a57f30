// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Data      DataConfig
	Server    ServerConfig
	OCR       OCRConfig
	Pipeline  PipelineConfig
	Sync      SyncConfig
	Snapshots SnapshotConfig
	Watch     WatchConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds local storage configuration. All stores live under
// BasePath so a single folder backs up the whole installation.
type DataConfig struct {
	BasePath string
}

// DatabasePath is the Badger directory for the working state.
func (d DataConfig) DatabasePath() string {
	return filepath.Join(d.BasePath, "db")
}

// LedgerPath is the SQLite file holding the contribution ledger.
func (d DataConfig) LedgerPath() string {
	return filepath.Join(d.BasePath, "ledger.db")
}

// SearchPath is the directory for the roster search index.
func (d DataConfig) SearchPath() string {
	return filepath.Join(d.BasePath, "search")
}

// RosterPath is the directory for per-assembly master lists.
func (d DataConfig) RosterPath() string {
	return filepath.Join(d.BasePath, "rosters")
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Name         string
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 60s, batch uploads are slow)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
}

// OCRConfig holds the remote extraction service configuration.
type OCRConfig struct {
	Endpoint          string
	APIKey            string
	RequestsPerSecond float64 // Rate ceiling toward the OCR service (default: 2)
	Burst             int     // Allowed burst above the steady rate (default: 4)
}

// PipelineConfig tunes matching and amount validation.
type PipelineConfig struct {
	// MatchThreshold is the minimum similarity for a confident name
	// match; below it the record is marked unmatched with suggestions.
	// Zero means use the matcher's default.
	MatchThreshold float64
	// SigmaLimit is how many standard deviations from the assembly mean
	// an amount may sit before being flagged. Zero means default.
	SigmaLimit float64
}

// SyncConfig holds remote sync configuration.
type SyncConfig struct {
	RemoteURL  string        // Church management system endpoint (empty disables remote sync)
	APIKey     string
	Debounce   time.Duration // Quiet period before a triggered sync runs (default: 2s)
	MaxRetries int           // Per-cycle attempt ceiling for one action (default: 3)
}

// SnapshotConfig holds order snapshot retention.
type SnapshotConfig struct {
	Retention int // Snapshots kept per assembly (default: 20)
}

// WatchConfig holds drop folder configuration.
type WatchConfig struct {
	Enabled     bool
	DropPath    string        // Defaults to {data}/drop
	SettleDelay time.Duration // Quiet period before a folder is processed (default: 500ms)
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	// Define command-line flags.
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := flag.String("data-path", "", "Base path for local storage")
	serverName := flag.String("server-name", "", "Name for the server")

	// Server flags
	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 60s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	// OCR flags
	ocrEndpoint := flag.String("ocr-endpoint", "", "Remote OCR extraction endpoint")
	ocrAPIKey := flag.String("ocr-api-key", "", "API key for the OCR service")
	ocrRate := flag.String("ocr-rate", "", "OCR requests per second (default: 2)")
	ocrBurst := flag.String("ocr-burst", "", "OCR request burst (default: 4)")

	// Sync flags
	syncRemoteURL := flag.String("sync-remote-url", "", "Church management system endpoint")
	syncAPIKey := flag.String("sync-api-key", "", "API key for remote sync")
	syncDebounce := flag.String("sync-debounce", "", "Sync debounce period (default: 2s)")
	syncMaxRetries := flag.String("sync-max-retries", "", "Attempts per action per sync cycle (default: 3)")

	// Snapshot flags
	snapshotRetention := flag.String("snapshot-retention", "", "Order snapshots kept per assembly (default: 20)")

	// Drop folder flags
	watchEnabled := flag.String("watch-enabled", "", "Enable the drop folder watcher (default: true)")
	watchDropPath := flag.String("watch-drop-path", "", "Drop folder path (default: {data}/drop)")
	watchSettleDelay := flag.String("watch-settle-delay", "", "Drop folder settle delay (default: 500ms)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	// Build config with proper precedence.
	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Name: getConfigValue(*serverName, "SERVER_NAME", "Tithebook Server"),
			Port: getConfigValue(*serverPort, "SERVER_PORT", "8080"),
		},
		OCR: OCRConfig{
			Endpoint:          getConfigValue(*ocrEndpoint, "OCR_ENDPOINT", ""),
			APIKey:            getConfigValue(*ocrAPIKey, "OCR_API_KEY", ""),
			RequestsPerSecond: getFloatConfigValue(*ocrRate, "OCR_RATE", 2),
			Burst:             getIntConfigValue(*ocrBurst, "OCR_BURST", 4),
		},
		Pipeline: PipelineConfig{
			MatchThreshold: getFloatConfigValue("", "MATCH_THRESHOLD", 0),
			SigmaLimit:     getFloatConfigValue("", "SIGMA_LIMIT", 0),
		},
		Sync: SyncConfig{
			RemoteURL:  getConfigValue(*syncRemoteURL, "SYNC_REMOTE_URL", ""),
			APIKey:     getConfigValue(*syncAPIKey, "SYNC_API_KEY", ""),
			MaxRetries: getIntConfigValue(*syncMaxRetries, "SYNC_MAX_RETRIES", 3),
		},
		Snapshots: SnapshotConfig{
			Retention: getIntConfigValue(*snapshotRetention, "SNAPSHOT_RETENTION", 20),
		},
		Watch: WatchConfig{
			Enabled:  getBoolConfigValue(*watchEnabled, "WATCH_ENABLED", true),
			DropPath: getConfigValue(*watchDropPath, "WATCH_DROP_PATH", ""),
		},
	}

	// Parse durations.
	var err error
	if cfg.Server.ReadTimeout, err = parseDurationValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, fmt.Errorf("invalid read timeout: %w", err)
	}
	if cfg.Server.WriteTimeout, err = parseDurationValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "60s"); err != nil {
		return nil, fmt.Errorf("invalid write timeout: %w", err)
	}
	if cfg.Server.IdleTimeout, err = parseDurationValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, fmt.Errorf("invalid idle timeout: %w", err)
	}
	if cfg.Sync.Debounce, err = parseDurationValue(*syncDebounce, "SYNC_DEBOUNCE", "2s"); err != nil {
		return nil, fmt.Errorf("invalid sync debounce: %w", err)
	}
	if cfg.Watch.SettleDelay, err = parseDurationValue(*watchSettleDelay, "WATCH_SETTLE_DELAY", "500ms"); err != nil {
		return nil, fmt.Errorf("invalid watch settle delay: %w", err)
	}

	// Expand and validate the data path.
	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	// Drop path defaults under the data path.
	if err := cfg.expandDropPath(); err != nil {
		return nil, fmt.Errorf("invalid drop path: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.OCR.RequestsPerSecond <= 0 {
		return fmt.Errorf("OCR rate must be positive, got %v", c.OCR.RequestsPerSecond)
	}
	if c.OCR.Burst < 1 {
		return fmt.Errorf("OCR burst must be at least 1, got %d", c.OCR.Burst)
	}

	if c.Snapshots.Retention < 1 {
		return fmt.Errorf("snapshot retention must be at least 1, got %d", c.Snapshots.Retention)
	}

	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync retry ceiling must be at least 1, got %d", c.Sync.MaxRetries)
	}

	// OCR endpoint may be empty in development; the pipeline then refuses
	// batch uploads with a clear error instead of failing at startup.

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Tithebook", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// expandDropPath expands ~ and makes the path absolute.
// Defaults to {data}/drop if not specified.
func (c *Config) expandDropPath() error {
	defaultPath := filepath.Join(c.Data.BasePath, "drop")

	expanded, err := expandPath(c.Watch.DropPath, defaultPath)
	if err != nil {
		return err
	}
	c.Watch.DropPath = expanded
	return nil
}

// parseDurationValue resolves flag/env/default and parses the duration.
func parseDurationValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	raw := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", raw, err)
	}
	return d, nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
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
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
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
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
