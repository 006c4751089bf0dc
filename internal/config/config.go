// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	Database DatabaseConfig
	Sessions SessionConfig
	Gemini   GeminiConfig
	WhatsApp WhatsAppConfig
	Club     ClubConfig
	Dispatch DispatchConfig
	Timeout  TimeoutConfig

	AdminToken         string
	CORSAllowedOrigins string
	ConversationLog    ConversationLogConfig
}

// DatabaseConfig selects the reservation store.
type DatabaseConfig struct {
	Driver string // "sqlite" or "postgres"
	Path   string
	URL    string
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Backend       string // "db" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Timeout       time.Duration
	HistoryLimit  int
	SweepInterval time.Duration
}

// GeminiConfig configures the chat and vision models.
type GeminiConfig struct {
	APIKey        string
	ChatModel     string
	VisionModel   string
	ChatMaxTokens int
}

// WhatsAppConfig configures the Cloud API transport.
type WhatsAppConfig struct {
	APIToken        string
	PhoneNumberID   string
	VerifyToken     string
	AppSecret       string
	GraphAPIVersion string
}

// ClubConfig overrides the business facts quoted to users.
type ClubConfig struct {
	DepositAmount int
	DepositPayee  string
	AdminContact  string
}

// DispatchConfig sizes the inbound worker pool.
type DispatchConfig struct {
	Workers       int
	QueueSize     int
	RatePerMinute int
}

// TimeoutConfig holds deadlines for external calls.
type TimeoutConfig struct {
	Chat        time.Duration
	Vision      time.Duration
	Graph       time.Duration
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxOpenFiles  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port: getEnv("PORT", "10000"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Path:   getEnv("DB_PATH", "./data/padel.db"),
			URL:    getEnv("DATABASE_URL", ""),
		},
		Sessions: SessionConfig{
			Backend:       strings.ToLower(getEnv("SESSION_BACKEND", "db")),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			Timeout:       getEnvDuration("AWAITING_PROOF_TIMEOUT", 60*time.Minute),
			HistoryLimit:  getEnvInt("HISTORY_LIMIT", 20),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		},
		Gemini: GeminiConfig{
			APIKey:        getEnv("GEMINI_API_KEY", ""),
			ChatModel:     getEnv("CHAT_MODEL", "gemini-2.0-flash"),
			VisionModel:   getEnv("VISION_MODEL", "gemini-2.0-flash"),
			ChatMaxTokens: getEnvInt("CHAT_MAX_TOKENS", 800),
		},
		WhatsApp: WhatsAppConfig{
			APIToken:        getEnv("WHATSAPP_API_TOKEN", ""),
			PhoneNumberID:   getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			VerifyToken:     getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:       getEnv("WHATSAPP_APP_SECRET", ""),
			GraphAPIVersion: getEnv("GRAPH_API_VERSION", "v18.0"),
		},
		Club: ClubConfig{
			DepositAmount: getEnvInt("DEPOSIT_AMOUNT", 10000),
			DepositPayee:  getEnv("DEPOSIT_PAYEE", "Alejandro Santillan"),
			AdminContact:  getEnv("ADMIN_CONTACT", "@franv4"),
		},
		Dispatch: DispatchConfig{
			Workers:       getEnvInt("DISPATCH_WORKERS", 4),
			QueueSize:     getEnvInt("DISPATCH_QUEUE_SIZE", 256),
			RatePerMinute: getEnvInt("USER_RATE_PER_MINUTE", 20),
		},
		Timeout: TimeoutConfig{
			Chat:        getEnvDuration("CHAT_TIMEOUT", 30*time.Second),
			Vision:      getEnvDuration("VISION_TIMEOUT", 45*time.Second),
			Graph:       getEnvDuration("GRAPH_TIMEOUT", 15*time.Second),
			HealthCheck: 5 * time.Second,
			Shutdown:    10 * time.Second,
		},
		AdminToken:         getEnv("ADMIN_TOKEN", ""),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
			MaxOpenFiles:  getEnvInt("CONVERSATION_LOG_MAX_OPEN_FILES", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)
	}

	switch c.Sessions.Backend {
	case "db":
	case "redis":
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be db or redis, got %q", c.Sessions.Backend)
	}
	if c.Sessions.Timeout <= 0 {
		return fmt.Errorf("AWAITING_PROOF_TIMEOUT must be > 0")
	}
	if c.Sessions.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}

	if c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.WhatsApp.APIToken == "" || c.WhatsApp.PhoneNumberID == "" || c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("WHATSAPP_API_TOKEN, WHATSAPP_PHONE_NUMBER_ID and WHATSAPP_VERIFY_TOKEN are required")
	}

	if c.Club.DepositAmount <= 0 {
		return fmt.Errorf("DEPOSIT_AMOUNT must be > 0")
	}
	if c.Club.DepositPayee == "" {
		return fmt.Errorf("DEPOSIT_PAYEE cannot be empty")
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS and DISPATCH_QUEUE_SIZE must be > 0")
	}

	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// OperatorAPIEnabled reports whether the operator routes should be mounted.
func (c *Config) OperatorAPIEnabled() bool {
	return c.AdminToken != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
