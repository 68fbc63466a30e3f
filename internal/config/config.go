package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath    string
	OutputDir string
	LogLevel  string
	LogFormat string

	MailProvider string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPFolder   string

	ScanAPIBaseURL string
	ScanAPIToken   string

	StoreBackend        string
	TrackerAPIBaseURL   string
	TrackerAPIToken     string
	TrackerRateLimitRPS int
	TrackerTimeoutMs    int

	ScanLookbackDays int
	ScanMaxResults   int
	ScanTimeoutMs    int

	ImportConcurrency int
	ImportTimeoutMs   int

	WatchIntervalSec int
	WatchExport      bool
}

// fileConfig mirrors the optional YAML file. Every value there only replaces
// the built-in default; environment variables still win.
type fileConfig struct {
	DBPath    string `yaml:"db_path"`
	OutputDir string `yaml:"output_dir"`
	Log       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Mail struct {
		Provider string `yaml:"provider"`
		Gmail    struct {
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			RedirectURI  string `yaml:"redirect_uri"`
			RefreshToken string `yaml:"refresh_token"`
		} `yaml:"gmail"`
		IMAP struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Secure   *bool  `yaml:"secure"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Folder   string `yaml:"folder"`
		} `yaml:"imap"`
		Remote struct {
			BaseURL string `yaml:"base_url"`
			Token   string `yaml:"token"`
		} `yaml:"remote"`
	} `yaml:"mail"`
	Store struct {
		Backend string `yaml:"backend"`
		Tracker struct {
			BaseURL      string `yaml:"base_url"`
			Token        string `yaml:"token"`
			RateLimitRPS int    `yaml:"rate_limit_rps"`
			TimeoutMs    int    `yaml:"timeout_ms"`
		} `yaml:"tracker"`
	} `yaml:"store"`
	Scan struct {
		LookbackDays int `yaml:"lookback_days"`
		MaxResults   int `yaml:"max_results"`
		TimeoutMs    int `yaml:"timeout_ms"`
	} `yaml:"scan"`
	Import struct {
		Concurrency int `yaml:"concurrency"`
		TimeoutMs   int `yaml:"timeout_ms"`
	} `yaml:"import"`
	Watch struct {
		IntervalSec int   `yaml:"interval_sec"`
		Export      *bool `yaml:"export"`
	} `yaml:"watch"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	fc, err := loadFile(getEnv("CONFIG_FILE", filepath.Join(cwd, "configs", "config.yaml")))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", orString(fc.DBPath, filepath.Join(cwd, "data", "jobtrack.db"))),
		OutputDir: getEnv("OUTPUT_DIR", orString(fc.OutputDir, filepath.Join(cwd, "out"))),
		LogLevel:  getEnv("LOG_LEVEL", orString(fc.Log.Level, "info")),
		LogFormat: getEnv("LOG_FORMAT", orString(fc.Log.Format, "text")),

		MailProvider: strings.ToLower(getEnv("MAIL_PROVIDER", orString(fc.Mail.Provider, "gmail"))),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", fc.Mail.Gmail.ClientID),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", fc.Mail.Gmail.ClientSecret),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", orString(fc.Mail.Gmail.RedirectURI, "https://developers.google.com/oauthplayground")),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", fc.Mail.Gmail.RefreshToken),

		IMAPHost:     getEnv("IMAP_HOST", fc.Mail.IMAP.Host),
		IMAPPort:     getEnvInt("IMAP_PORT", orInt(fc.Mail.IMAP.Port, 993)),
		IMAPSecure:   getEnvBool("IMAP_SECURE", orBool(fc.Mail.IMAP.Secure, true)),
		IMAPUser:     getEnv("IMAP_USER", fc.Mail.IMAP.User),
		IMAPPassword: getEnv("IMAP_PASSWORD", fc.Mail.IMAP.Password),
		IMAPFolder:   getEnv("IMAP_FOLDER", orString(fc.Mail.IMAP.Folder, "INBOX")),

		ScanAPIBaseURL: getEnv("SCAN_API_BASE_URL", orString(fc.Mail.Remote.BaseURL, "http://localhost:8080/api")),
		ScanAPIToken:   getEnv("SCAN_API_TOKEN", fc.Mail.Remote.Token),

		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", orString(fc.Store.Backend, "sqlite"))),
		TrackerAPIBaseURL:   getEnv("TRACKER_API_BASE_URL", orString(fc.Store.Tracker.BaseURL, "http://localhost:8080/api")),
		TrackerAPIToken:     getEnv("TRACKER_API_TOKEN", fc.Store.Tracker.Token),
		TrackerRateLimitRPS: getEnvInt("TRACKER_RATE_LIMIT_RPS", orInt(fc.Store.Tracker.RateLimitRPS, 5)),
		TrackerTimeoutMs:    getEnvInt("TRACKER_TIMEOUT_MS", orInt(fc.Store.Tracker.TimeoutMs, 15000)),

		ScanLookbackDays: getEnvInt("SCAN_LOOKBACK_DAYS", orInt(fc.Scan.LookbackDays, 30)),
		ScanMaxResults:   getEnvInt("SCAN_MAX_RESULTS", orInt(fc.Scan.MaxResults, 500)),
		ScanTimeoutMs:    getEnvInt("SCAN_TIMEOUT_MS", orInt(fc.Scan.TimeoutMs, 120000)),

		ImportConcurrency: getEnvInt("IMPORT_CONCURRENCY", orInt(fc.Import.Concurrency, 4)),
		ImportTimeoutMs:   getEnvInt("IMPORT_TIMEOUT_MS", orInt(fc.Import.TimeoutMs, 15000)),

		WatchIntervalSec: getEnvInt("WATCH_INTERVAL_SEC", orInt(fc.Watch.IntervalSec, 900)),
		WatchExport:      getEnvBool("WATCH_EXPORT", orBool(fc.Watch.Export, true)),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(b))), &fc); err != nil {
		return fc, fmt.Errorf("parse yaml %s: %w", path, err)
	}
	return fc, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} references; unknown variables are kept as-is.
func expandEnvVars(content string) string {
	return envRef.ReplaceAllStringFunc(content, func(match string) string {
		if value := os.Getenv(match[2 : len(match)-1]); value != "" {
			return value
		}
		return match
	})
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

func orString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func orInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func orBool(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
