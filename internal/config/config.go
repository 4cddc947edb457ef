package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissing is returned when a required setting is absent.
var ErrMissing = errors.New("missing required configuration")

// Email transports selectable with EMAIL_TRANSPORT.
const (
	EmailSMTP = "smtp"
	EmailSES  = "ses"
	EmailLog  = "log"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database. DatabaseURL wins over the DB_* fields.
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Scheduling
	AggregateInterval time.Duration
	NotifyInterval    time.Duration
	WindowDays        int

	// Notifications
	Recipients        []string
	ThresholdsMinutes []int
	ToleranceMinutes  int
	EmailTransport    string

	// SMTP config for email sending
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// AWS Services. AWSEndpoint points every client at LocalStack when set.
	AWSRegion    string
	AWSEndpoint  string
	SESFromEmail string
	SNSRegion    string
	SQSRegion    string
	SQSQueueURL  string

	// Webhook config
	WebhookTimeout      time.Duration
	WebhookAllowPrivate bool

	// Upstream platforms
	LeetCodeURL   string
	CodeforcesURL string
	CodeChefURL   string
	FetchRPS      float64

	// API rate limit: RateLimit requests per RateLimitWindow per client IP.
	// Zero disables it.
	RateLimit       int
	RateLimitWindow time.Duration

	// Warnings collects non-fatal adjustments made while loading.
	Warnings []string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "contestpulse",
		DBName:    "contestpulse",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AggregateInterval: 30 * time.Minute,
		NotifyInterval:    time.Minute,
		WindowDays:        14,

		ThresholdsMinutes: []int{360, 120, 60, 30, 15},
		ToleranceMinutes:  5,
		EmailTransport:    EmailSMTP,

		SMTPHost: "smtp.gmail.com",
		SMTPPort: 587,

		AWSRegion: "us-east-1",

		WebhookTimeout: 10 * time.Second,

		FetchRPS: 2,

		RateLimit:       60,
		RateLimitWindow: time.Minute,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	dbURL, dbURLSet := os.LookupEnv("DATABASE_URL")
	cfg.DatabaseURL = strings.TrimSpace(dbURL)
	_, dbHostSet := os.LookupEnv("DB_HOST")

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// An explicitly blank DATABASE_URL without a DB_HOST means the storage
	// connection was meant to be configured and was not.
	if dbURLSet && cfg.DatabaseURL == "" && !dbHostSet {
		return nil, fmt.Errorf("%w: DATABASE_URL is empty and DB_HOST is not set", ErrMissing)
	}
	if cfg.Env == "production" && cfg.DatabaseURL == "" && !dbHostSet {
		return nil, fmt.Errorf("%w: DATABASE_URL or DB_HOST", ErrMissing)
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// Scheduling
	if cfg.AggregateInterval, err = durationEnv("AGGREGATE_INTERVAL", cfg.AggregateInterval); err != nil {
		return nil, err
	}
	if cfg.NotifyInterval, err = durationEnv("NOTIFY_INTERVAL", cfg.NotifyInterval); err != nil {
		return nil, err
	}
	if cfg.WindowDays, err = intEnv("WINDOW_DAYS", cfg.WindowDays); err != nil {
		return nil, err
	}
	if cfg.WindowDays <= 0 {
		return nil, fmt.Errorf("invalid WINDOW_DAYS: must be positive, got %d", cfg.WindowDays)
	}

	// Notifications
	if recipients := os.Getenv("NOTIFY_RECIPIENTS"); recipients != "" {
		cfg.Recipients = splitList(recipients)
	}
	if raw := os.Getenv("NOTIFY_THRESHOLDS"); raw != "" {
		thresholds, err := parseThresholds(raw)
		if err != nil {
			return nil, err
		}
		cfg.ThresholdsMinutes = thresholds
	}
	if cfg.ToleranceMinutes, err = intEnv("NOTIFY_TOLERANCE", cfg.ToleranceMinutes); err != nil {
		return nil, err
	}
	if cfg.ToleranceMinutes < 0 {
		return nil, fmt.Errorf("invalid NOTIFY_TOLERANCE: must not be negative, got %d", cfg.ToleranceMinutes)
	}

	// A threshold can only be caught if at least one poll lands inside its
	// tolerance window.
	pollMinutes := int((cfg.NotifyInterval + time.Minute - 1) / time.Minute)
	if cfg.ToleranceMinutes < pollMinutes {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"NOTIFY_TOLERANCE %dm is shorter than NOTIFY_INTERVAL %s; raised to %dm",
			cfg.ToleranceMinutes, cfg.NotifyInterval, pollMinutes))
		cfg.ToleranceMinutes = pollMinutes
	}

	if transport := os.Getenv("EMAIL_TRANSPORT"); transport != "" {
		cfg.EmailTransport = strings.ToLower(transport)
	}
	switch cfg.EmailTransport {
	case EmailSMTP, EmailSES, EmailLog:
	default:
		return nil, fmt.Errorf("invalid EMAIL_TRANSPORT: %q (want smtp, ses or log)", cfg.EmailTransport)
	}

	// SMTP config
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTPHost = host
	}
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", cfg.SMTPPort); err != nil {
		return nil, err
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTPUsername = user
	}
	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.SMTPPassword = pass
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.SMTPFrom = from
	}

	// AWS
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		cfg.AWSEndpoint = endpoint
	}
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}
	if cfg.EmailTransport == EmailSES && cfg.SESFromEmail == "" {
		return nil, fmt.Errorf("%w: SES_FROM_EMAIL is required when EMAIL_TRANSPORT=ses", ErrMissing)
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Webhook config
	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}
	if cfg.WebhookAllowPrivate, err = boolEnv("WEBHOOK_ALLOW_PRIVATE", false); err != nil {
		return nil, err
	}

	// Upstream platforms
	cfg.LeetCodeURL = os.Getenv("LEETCODE_BASE_URL")
	cfg.CodeforcesURL = os.Getenv("CODEFORCES_BASE_URL")
	cfg.CodeChefURL = os.Getenv("CODECHEF_BASE_URL")
	if raw := os.Getenv("FETCH_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid FETCH_RPS: %w", err)
		}
		cfg.FetchRPS = rps
	}

	// API rate limit
	if cfg.RateLimit, err = intEnv("RATE_LIMIT", cfg.RateLimit); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NotificationsEnabled reports whether any recipient is configured.
func (c *Config) NotificationsEnabled() bool {
	return len(c.Recipients) > 0
}

// Window returns the adapter look-ahead window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// durationEnv accepts Go durations ("90s", "30m") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", key, d)
	}
	return d, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseThresholds(raw string) ([]int, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid NOTIFY_THRESHOLDS: no values in %q", raw)
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_THRESHOLDS: %w", err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid NOTIFY_THRESHOLDS: %d is not positive", v)
		}
		out = append(out, v)
	}
	return out, nil
}
