package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	ServerPort   int
	DatabasePath string
	JWTSecret    string
	TokenTTL     time.Duration
	AllowOrigins []string
	Production   bool // APP_ENV=production, enables secure cookies

	LogLevel  string
	LogFormat string // "console" or "json"

	// Rule evaluation
	RulesFile       string // optional YAML file with extra rule definitions
	RecentWindow    time.Duration
	RecentLimit     int
	EvalWorkers     int
	EvalQueueSize   int
	NotifyWorkers   int
	NotifyQueueSize int
	NotifyTimeout   time.Duration

	// Background jobs
	SLASweepSpec    string // cron spec for the SLA sweep
	PendingSpec     string // cron spec for retrying events left unevaluated
	DigestSpec      string // cron spec for the daily digest, empty disables it
	HostSampleEvery time.Duration
	HostCPUAlert    float64

	// Quiet hours are evaluated in this zone unless a preference names its own.
	DefaultTimezone string

	Email EmailConfig
}

// EmailConfig holds outbound mail settings. A relay is considered configured
// when at least one provider has credentials.
type EmailConfig struct {
	Provider  string // primary provider: smtp, ses or resend
	Fallback  []string
	From      string
	FromName  string
	Workers   int
	QueueSize int
	Timeout   time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	SESRegion    string
	ResendAPIKey string
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	recentLimit, err := getEnvInt("RECENT_EVENTS_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	evalWorkers, err := getEnvInt("EVAL_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	evalQueue, err := getEnvInt("EVAL_QUEUE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	notifyWorkers, err := getEnvInt("NOTIFY_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	notifyQueue, err := getEnvInt("NOTIFY_QUEUE_SIZE", 512)
	if err != nil {
		return nil, err
	}
	emailWorkers, err := getEnvInt("EMAIL_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	emailQueue, err := getEnvInt("EMAIL_QUEUE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := getEnvDuration("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	recentWindow, err := getEnvDuration("RECENT_EVENTS_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := getEnvDuration("NOTIFY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	emailTimeout, err := getEnvDuration("EMAIL_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	hostEvery, err := getEnvDuration("HOST_SAMPLE_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cpuAlert, err := strconv.ParseFloat(getEnv("HOST_CPU_ALERT", "90"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid HOST_CPU_ALERT: %w", err)
	}

	cfg := &Config{
		ServerPort:      port,
		DatabasePath:    getEnv("DATABASE_PATH", "./alertflow.db"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenTTL:        tokenTTL,
		AllowOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		Production:      getEnv("APP_ENV", "development") == "production",
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "console"),
		RulesFile:       getEnv("RULES_FILE", ""),
		RecentWindow:    recentWindow,
		RecentLimit:     recentLimit,
		EvalWorkers:     evalWorkers,
		EvalQueueSize:   evalQueue,
		NotifyWorkers:   notifyWorkers,
		NotifyQueueSize: notifyQueue,
		NotifyTimeout:   notifyTimeout,
		SLASweepSpec:    getEnv("SLA_SWEEP_SPEC", "@every 1m"),
		PendingSpec:     getEnv("PENDING_SWEEP_SPEC", "@every 5m"),
		DigestSpec:      getEnv("DIGEST_SPEC", "0 7 * * *"),
		HostSampleEvery: hostEvery,
		HostCPUAlert:    cpuAlert,
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "UTC"),
		Email: EmailConfig{
			Provider:     getEnv("EMAIL_PROVIDER", "smtp"),
			Fallback:     splitList(getEnv("EMAIL_FALLBACK", "")),
			From:         getEnv("EMAIL_FROM", "alerts@alertflow.local"),
			FromName:     getEnv("EMAIL_FROM_NAME", "Alertflow"),
			Workers:      emailWorkers,
			QueueSize:    emailQueue,
			Timeout:      emailTimeout,
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     smtpPort,
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			SESRegion:    getEnv("AWS_REGION", ""),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required fields are set and values are in range.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.RecentLimit <= 0 {
		return fmt.Errorf("RECENT_EVENTS_LIMIT must be positive")
	}
	if c.EvalWorkers <= 0 || c.NotifyWorkers <= 0 || c.Email.Workers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	if c.SLASweepSpec == "" {
		return fmt.Errorf("SLA_SWEEP_SPEC cannot be empty")
	}
	if c.PendingSpec == "" {
		return fmt.Errorf("PENDING_SWEEP_SPEC cannot be empty")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	switch c.Email.Provider {
	case "smtp", "ses", "resend":
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Email.Provider)
	}
	return nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
