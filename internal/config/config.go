package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	GoEnv    string
	Port     string
	RunLocal bool

	AWSRegion           string
	AWSEndpointOverride string

	OrdersTable      string
	CountersTable    string
	UserOrdersTable  string
	UsersTable       string
	IdempotencyTable string
	QueueURL         string
	IdempotencyTTL   time.Duration

	OrderTimezone      string
	CounterMaxAttempts int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OneSignalAppID    string
	OneSignalAPIKey   string
	OneSignalBaseURL  string
	AdminSegment      string
	StoreBaseURL      string
	NotificationIcon  string
	ActivityThreshold string
	MetricsNamespace  string
	DefaultListLimit  int
	HTTPClientTimeout time.Duration
}

// Load reads configuration from the environment, loading .env.<GO_ENV> or .env when present.
func Load() (*Config, error) {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			logrus.Debug("no .env file found, using system environment variables")
		}
	} else {
		logrus.WithField("file", envFile).Info("loaded configuration")
	}

	cfg := &Config{
		GoEnv:    getEnv("GO_ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		RunLocal: getEnv("RUN_LOCAL", "false") == "true",

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		OrdersTable:      getEnv("ORDERS_TABLE", ""),
		CountersTable:    getEnv("COUNTERS_TABLE", ""),
		UserOrdersTable:  getEnv("USER_ORDERS_TABLE", ""),
		UsersTable:       getEnv("USERS_TABLE", ""),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", ""),
		QueueURL:         getEnv("NOTIFICATIONS_QUEUE_URL", ""),
		IdempotencyTTL:   getDuration("IDEMPOTENCY_TTL_HOURS", 48, time.Hour),

		OrderTimezone:      getEnv("ORDER_TIMEZONE", "Asia/Dhaka"),
		CounterMaxAttempts: getInt("COUNTER_MAX_ATTEMPTS", 25),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		OneSignalAppID:    getEnv("ONESIGNAL_APP_ID", ""),
		OneSignalAPIKey:   getEnv("ONESIGNAL_REST_API_KEY", ""),
		OneSignalBaseURL:  getEnv("ONESIGNAL_BASE_URL", "https://onesignal.com/api/v1"),
		AdminSegment:      getEnv("ONESIGNAL_ADMIN_SEGMENT", "Admins"),
		StoreBaseURL:      strings.TrimRight(getEnv("STORE_BASE_URL", ""), "/"),
		NotificationIcon:  getEnv("NOTIFICATION_ICON_URL", ""),
		ActivityThreshold: getEnv("BROADCAST_ACTIVITY_THRESHOLD", "30"),
		MetricsNamespace:  getEnv("METRICS_NAMESPACE", "Storefront/Notifications"),
		DefaultListLimit:  getInt("DEFAULT_LIST_LIMIT", 50),
		HTTPClientTimeout: getDuration("HTTP_CLIENT_TIMEOUT_SECONDS", 10, time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	required := map[string]string{
		"ORDERS_TABLE":      c.OrdersTable,
		"COUNTERS_TABLE":    c.CountersTable,
		"USER_ORDERS_TABLE": c.UserOrdersTable,
		"USERS_TABLE":       c.UsersTable,
	}
	for key, v := range required {
		if v == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if c.CounterMaxAttempts < 1 {
		return fmt.Errorf("COUNTER_MAX_ATTEMPTS must be >= 1")
	}
	if _, err := time.LoadLocation(c.OrderTimezone); err != nil {
		return fmt.Errorf("ORDER_TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the timezone order dates and daily counters are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.OrderTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NotificationsEnabled is false when no push provider credentials are configured.
func (c *Config) NotificationsEnabled() bool {
	return c.OneSignalAppID != "" && c.OneSignalAPIKey != ""
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue int, unit time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * unit
		}
	}
	return time.Duration(defaultValue) * unit
}
