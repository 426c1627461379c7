package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// Auth
	JWTSecret        string
	AuthIssuerURL    string
	InternalAPIToken string
	ServiceAuthToken string

	// Calendar - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Calendar - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string

	// Calendar - Apple (CalDAV)
	AppleCalDAVBaseURL string

	// Token encryption
	CalendarEncryptionKey string

	// External collaborators
	MeetingLinkBaseURL     string
	UserServiceURL         string
	SkillServiceURL        string
	NotificationServiceURL string
	ChatServiceURL         string

	// Worker
	WorkerID            string
	WorkerMin           int
	WorkerMax           int
	WorkerQueueSize     int
	WorkerScaleInterval time.Duration
	WorkerIdleTimeout   time.Duration

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int
	ConsumerRetryDelaySec   int

	// Reminder processor
	ReminderTickSec       int
	ReminderBatchSize     int
	ReminderBacklogLimit  int
	ReminderClaimLimit    int
	ReminderDefaultOffset []string

	// Outbox dispatcher
	OutboxTickSec   int
	OutboxBatchSize int

	// Meeting link retry
	MeetingLinkRetryBaseSec int
	MeetingLinkRetryCapMin  int

	// External call deadline
	ExternalCallTimeoutSec int

	// CORS
	AllowedOrigins []string

	// Background loops
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DB_CONNECTION_STRING", getEnv("DATABASE_URL", "")),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "skillswap"),

		// Auth
		JWTSecret:        getEnv("SERVICE_JWT_SECRET", ""),
		AuthIssuerURL:    getEnv("AUTH_ISSUER_URL", ""),
		InternalAPIToken: getEnv("INTERNAL_API_TOKEN", ""),
		ServiceAuthToken: getEnv("SERVICE_AUTH_TOKEN", ""),

		// Calendar - Google
		GoogleClientID:     getEnv("CALENDAR_GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("CALENDAR_GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("CALENDAR_GOOGLE_REDIRECT_URL", ""),

		// Calendar - Microsoft
		MicrosoftClientID:     getEnv("CALENDAR_MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("CALENDAR_MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("CALENDAR_MICROSOFT_REDIRECT_URL", ""),
		MicrosoftTenantID:     getEnv("CALENDAR_MICROSOFT_TENANT", "common"),

		// Calendar - Apple
		AppleCalDAVBaseURL: getEnv("CALENDAR_APPLE_CALDAV_URL", "https://caldav.icloud.com"),

		// Token encryption
		CalendarEncryptionKey: getEnv("CALENDAR_ENCRYPTION_KEY", ""),

		// External collaborators
		MeetingLinkBaseURL:     getEnv("MEETING_LINK_BASE_URL", ""),
		UserServiceURL:         getEnv("USER_SERVICE_URL", ""),
		SkillServiceURL:        getEnv("SKILL_SERVICE_URL", ""),
		NotificationServiceURL: getEnv("NOTIFICATION_SERVICE_URL", ""),
		ChatServiceURL:         getEnv("CHAT_SERVICE_URL", ""),

		// Worker
		WorkerID:            getEnv("WORKER_ID", generateWorkerID()),
		WorkerMin:           getEnvInt("WORKER_MIN", 2),
		WorkerMax:           getEnvInt("WORKER_MAX", 20),
		WorkerQueueSize:     getEnvInt("WORKER_QUEUE_SIZE", 1000),
		WorkerScaleInterval: time.Duration(getEnvInt("WORKER_SCALE_INTERVAL_SEC", 10)) * time.Second,
		WorkerIdleTimeout:   time.Duration(getEnvInt("WORKER_IDLE_TIMEOUT_SEC", 30)) * time.Second,

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 60),
		ConsumerRetryDelaySec:   getEnvInt("CONSUMER_RETRY_DELAY_SEC", 5),

		// Reminder processor
		ReminderTickSec:       getEnvInt("REMINDER_TICK_SEC", 30),
		ReminderBatchSize:     getEnvInt("REMINDER_BATCH_SIZE", 100),
		ReminderBacklogLimit:  getEnvInt("REMINDER_BACKLOG_LIMIT", 1000),
		ReminderClaimLimit:    getEnvInt("REMINDER_CLAIM_LIMIT", 100),
		ReminderDefaultOffset: getEnvSlice("REMINDER_DEFAULT_OFFSETS", []string{"15", "60"}),

		// Outbox dispatcher
		OutboxTickSec:   getEnvInt("OUTBOX_TICK_SEC", 2),
		OutboxBatchSize: getEnvInt("OUTBOX_BATCH_SIZE", 100),

		// Meeting link retry
		MeetingLinkRetryBaseSec: getEnvInt("MEETING_LINK_RETRY_BASE_SEC", 30),
		MeetingLinkRetryCapMin:  getEnvInt("MEETING_LINK_RETRY_CAP_MIN", 30),

		// External call deadline
		ExternalCallTimeoutSec: getEnvInt("EXTERNAL_CALL_TIMEOUT_SEC", 10),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		// Background loops
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// DefaultReminderOffsets parses the configured default reminder offsets (minutes).
func (c *Config) DefaultReminderOffsets() []int {
	offsets := make([]int, 0, len(c.ReminderDefaultOffset))
	for _, raw := range c.ReminderDefaultOffset {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v > 0 {
			offsets = append(offsets, v)
		}
	}
	if len(offsets) == 0 {
		offsets = []int{15, 60}
	}
	return offsets
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
