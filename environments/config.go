package environments

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	WhatsApp   WhatsAppConfig
	AI         AIConfig
	RabbitMQ   RabbitMQConfig
	Scheduler  SchedulerConfig
	RateLimit  RateLimitConfig
	Consent    ConsentConfig
	Automation AutomationConfig
	Alert      AlertConfig
	Auth       AuthConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type WhatsAppConfig struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
	DefaultRegion string
	Timeout       time.Duration
}

type AIConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type RabbitMQConfig struct {
	URL        string
	MediaQueue string
}

type SchedulerConfig struct {
	Cron             string
	AutoStart        bool
	JobLimit         int
	LeadsPerJobLimit int
	JobConcurrency   int
	RetryBatchSize   int
}

type RateLimitConfig struct {
	PerRecipientDaily int
	PerSenderMinute   int
}

type ConsentConfig struct {
	RequireOptIn bool
}

type AutomationConfig struct {
	SenderID string
}

type AlertConfig struct {
	WebhookURL     string
	IterationCount int
}

type AuthConfig struct {
	MessagesAPIKey  string
	SchedulerAPIKey string
}

type LogConfig struct {
	Level string
}

// Load reads the process environment. A .env file in the working directory,
// or the one named by ENV_FILE, is applied first without overriding variables
// that are already set.
func Load() *Config {
	loadEnvFile(GetEnv("ENV_FILE", ".env"))

	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "yoga"),
			Password: GetEnv("DB_PASSWORD", "yoga123"),
			DBName:   GetEnv("DB_NAME", "yoga_whatsapp"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:       GetEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:    GetEnv("WHATSAPP_API_VERSION", "v20.0"),
			PhoneNumberID: GetEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:   GetEnv("WHATSAPP_ACCESS_TOKEN", ""),
			VerifyToken:   GetEnv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:     GetEnv("WHATSAPP_APP_SECRET", ""),
			DefaultRegion: strings.ToUpper(GetEnv("WHATSAPP_DEFAULT_REGION", "IN")),
			Timeout:       time.Duration(GetEnvAsInt("WHATSAPP_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		AI: AIConfig{
			Enabled: GetEnvAsBool("AI_ENABLED", false),
			BaseURL: GetEnv("AI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  GetEnv("AI_API_KEY", ""),
			Model:   GetEnv("AI_MODEL", "gpt-4o-mini"),
			Timeout: time.Duration(GetEnvAsInt("AI_TIMEOUT_SECONDS", 20)) * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			URL:        GetEnv("RABBITMQ_URL", ""),
			MediaQueue: GetEnv("RABBITMQ_MEDIA_QUEUE", "whatsapp_media_sends"),
		},
		Scheduler: SchedulerConfig{
			Cron:             GetEnv("SCHEDULER_CRON", "@every 1m"),
			AutoStart:        GetEnvAsBool("AUTO_START_SCHEDULER", true),
			JobLimit:         GetEnvAsInt("SCHEDULER_JOB_LIMIT", 25),
			LeadsPerJobLimit: GetEnvAsInt("SCHEDULER_LEADS_PER_JOB_LIMIT", 500),
			JobConcurrency:   GetEnvAsInt("SCHEDULER_JOB_CONCURRENCY", 1),
			RetryBatchSize:   GetEnvAsInt("SCHEDULER_RETRY_BATCH_SIZE", 50),
		},
		RateLimit: RateLimitConfig{
			PerRecipientDaily: GetEnvAsInt("RATE_LIMIT_PER_RECIPIENT_DAILY", 5),
			PerSenderMinute:   GetEnvAsInt("RATE_LIMIT_PER_SENDER_MINUTE", 60),
		},
		Consent: ConsentConfig{
			RequireOptIn: GetEnvAsBool("CONSENT_REQUIRE_OPT_IN", false),
		},
		Automation: AutomationConfig{
			SenderID: GetEnv("AUTOMATION_SENDER_ID", "automation"),
		},
		Alert: AlertConfig{
			WebhookURL:     GetEnv("ALERT_WEBHOOK_URL", ""),
			IterationCount: GetEnvAsInt("ALERT_ITERATION_COUNT", 0),
		},
		Auth: AuthConfig{
			MessagesAPIKey:  GetEnv("MESSAGES_API_KEY", ""),
			SchedulerAPIKey: GetEnv("SCHEDULER_API_KEY", ""),
		},
		Log: LogConfig{
			Level: GetEnv("LOG_LEVEL", "info"),
		},
	}
}

func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	// godotenv.Load never overrides variables already present in the environment.
	_ = godotenv.Load(path)
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
