package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backend selectors.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

const (
	defaultListenAddr   = ":8080"
	defaultStore        = StoreFile
	defaultDBPath       = "stoker.db"
	defaultAccountsPath = "accounts.json"
	defaultTasksPath    = "keepalive_tasks.json"
	defaultSecretsPath  = "secrets.toml"

	// Poll-loop timing defaults, carried over from the original deployment:
	// a 30m18s re-check buffer, a 30s settle wait after restart, and a 2m
	// fallback delay when a poll fails.
	defaultCheckBufferSeconds = 1818
	defaultSettleSeconds      = 30
	defaultRetrySeconds       = 120

	defaultKeepaliveHours = 4.0

	envListenAddr         = "STOKER_LISTEN_ADDR"
	envStore              = "STOKER_STORE"
	envDBPath             = "STOKER_DB_PATH"
	envAccountsPath       = "STOKER_ACCOUNTS_PATH"
	envTasksPath          = "STOKER_TASKS_PATH"
	envSecretsPath        = "STOKER_SECRETS_PATH"
	envLogLevel           = "STOKER_LOG_LEVEL"
	envDisplayTZ          = "STOKER_DISPLAY_TZ"
	envCheckBufferSeconds = "STOKER_CHECK_BUFFER_SECONDS"
	envSettleSeconds      = "STOKER_SETTLE_SECONDS"
	envRetrySeconds       = "STOKER_RETRY_SECONDS"
	envKeepaliveHours     = "STOKER_DEFAULT_KEEPALIVE_HOURS"
)

// Codespace creation defaults when the request omits a field.
const (
	DefaultMachine            = "basicLinux32gb"
	DefaultLocation           = "WestUs2"
	DefaultIdleTimeoutMinutes = 30
	DefaultRef                = "main"
)

// MachineTypes are the machine options offered by the create form.
var MachineTypes = []string{
	"basicLinux32gb",
	"standardLinux32gb",
	"premiumLinux",
	"largePremiumLinux",
}

// Locations are the geographic options offered by the create form.
var Locations = []string{
	"EastUs",
	"WestUs2",
	"SouthEastAsia",
	"WestEurope",
}

// Config holds application configuration loaded from environment variables
// and the optional TOML secrets file.
type Config struct {
	ListenAddr   string
	Store        string
	DBPath       string
	AccountsPath string
	TasksPath    string
	SecretsPath  string
	LogLevel     slog.Level
	DisplayZone  *time.Location

	CheckBuffer time.Duration
	SettleDelay time.Duration
	RetryDelay  time.Duration

	DefaultKeepaliveHours float64

	Secrets Secrets
}

// Load reads configuration from environment variables with sensible defaults,
// then overlays the secrets file. The check buffer resolves in priority
// order: secrets file, environment variable, default.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:            defaultListenAddr,
		Store:                 defaultStore,
		DBPath:                defaultDBPath,
		AccountsPath:          defaultAccountsPath,
		TasksPath:             defaultTasksPath,
		SecretsPath:           defaultSecretsPath,
		LogLevel:              slog.LevelInfo,
		DisplayZone:           time.UTC,
		CheckBuffer:           defaultCheckBufferSeconds * time.Second,
		SettleDelay:           defaultSettleSeconds * time.Second,
		RetryDelay:            defaultRetrySeconds * time.Second,
		DefaultKeepaliveHours: defaultKeepaliveHours,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envStore); v != "" {
		switch v {
		case StoreFile, StoreSQLite:
			cfg.Store = v
		default:
			return cfg, fmt.Errorf("invalid %s %q: want %q or %q", envStore, v, StoreFile, StoreSQLite)
		}
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envAccountsPath); v != "" {
		cfg.AccountsPath = v
	}
	if v := os.Getenv(envTasksPath); v != "" {
		cfg.TasksPath = v
	}
	if v := os.Getenv(envSecretsPath); v != "" {
		cfg.SecretsPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDisplayTZ); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", envDisplayTZ, v, err)
		}
		cfg.DisplayZone = loc
	}
	if v := os.Getenv(envCheckBufferSeconds); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return cfg, fmt.Errorf("invalid %s %q", envCheckBufferSeconds, v)
		}
		cfg.CheckBuffer = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(envSettleSeconds); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return cfg, fmt.Errorf("invalid %s %q", envSettleSeconds, v)
		}
		cfg.SettleDelay = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(envRetrySeconds); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return cfg, fmt.Errorf("invalid %s %q", envRetrySeconds, v)
		}
		cfg.RetryDelay = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(envKeepaliveHours); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			return cfg, fmt.Errorf("invalid %s %q", envKeepaliveHours, v)
		}
		cfg.DefaultKeepaliveHours = hours
	}

	secrets, err := LoadSecrets(cfg.SecretsPath)
	if err != nil {
		return cfg, fmt.Errorf("load secrets: %w", err)
	}
	cfg.Secrets = secrets

	if secrets.Keepalive.CheckBufferSeconds != nil && *secrets.Keepalive.CheckBufferSeconds > 0 {
		cfg.CheckBuffer = time.Duration(*secrets.Keepalive.CheckBufferSeconds) * time.Second
	}

	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
