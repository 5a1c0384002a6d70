package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration. Persisted campaign settings live in
// the store, not here.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	RulesFile string

	MailboxProbe bool
	ProbeHelo    string
	ProbeFrom    string
	ProbeTimeout time.Duration
	DNSTimeout   time.Duration

	ProviderTimeout time.Duration

	ResendAPIKey  string
	ResendBaseURL string
	SendTimeout   time.Duration

	DefaultSender string
	SenderName    string
}

// LoadDotEnv seeds the environment from path. A missing file is not an error
// and variables already set win.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func Load() Config {
	return Config{
		HTTPAddr:        getenv("CAMPAIGN_HTTP_ADDR", ":8080"),
		LogLevel:        getenv("CAMPAIGN_LOG_LEVEL", "info"),
		LogFormat:       getenv("CAMPAIGN_LOG_FORMAT", "auto"),
		RulesFile:       getenv("CAMPAIGN_RULES_FILE", ""),
		MailboxProbe:    ParseBoolString(os.Getenv("CAMPAIGN_MAILBOX_PROBE"), true),
		ProbeHelo:       getenv("CAMPAIGN_PROBE_HELO", "localhost"),
		ProbeFrom:       getenv("CAMPAIGN_PROBE_FROM", "probe@localhost"),
		ProbeTimeout:    getenvDuration("CAMPAIGN_PROBE_TIMEOUT", 15*time.Second),
		DNSTimeout:      getenvDuration("CAMPAIGN_DNS_TIMEOUT", 10*time.Second),
		ProviderTimeout: getenvDuration("CAMPAIGN_PROVIDER_TIMEOUT", 60*time.Second),
		ResendAPIKey:    getenv("RESEND_API_KEY", ""),
		ResendBaseURL:   getenv("RESEND_BASE_URL", "https://api.resend.com"),
		SendTimeout:     getenvDuration("CAMPAIGN_SEND_TIMEOUT", 30*time.Second),
		DefaultSender:   getenv("CAMPAIGN_DEFAULT_SENDER", ""),
		SenderName:      getenv("CAMPAIGN_SENDER_NAME", ""),
	}
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

// getenvDuration accepts Go durations ("30s") or bare seconds ("30").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func ParseIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func ParseBoolString(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
