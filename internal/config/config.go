package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/darkodi/terabox-bot/internal/logger"
)

// Config holds all application configuration
type Config struct {
	Telegram TelegramConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Resolver ResolverConfig
	Matcher  MatcherConfig
	Transfer TransferConfig
	Quota    QuotaConfig
	Worker   WorkerConfig
	Sweep    SweepConfig
	Server   ServerConfig
	App      AppConfig
	Log      logger.Config
}

// TelegramConfig holds bot and chat settings
type TelegramConfig struct {
	Token            string
	APIEndpoint      string // empty uses the public Bot API
	Debug            bool
	AdminIDs         []int64
	StagingChatID    int64
	RequiredChannels []string
	BroadcastRate    float64 // messages per second
	GiftCodePrefix   string
}

// RedisConfig holds key-value store settings; empty Addr selects the in-memory store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig holds user registry settings
type DatabaseConfig struct {
	Driver string // "sqlite3", "postgres"
	DSN    string
}

// ResolverConfig holds share page scraping settings
type ResolverConfig struct {
	Cookie          string
	CookieExpiresAt time.Time // zero means unknown
	ListURL         string
	UserAgent       string
	Timeout         time.Duration
	ProbeURL        string
	ProbeSchedule   string
}

// MatcherConfig holds link recognition settings
type MatcherConfig struct {
	ExtraDomains []string // added to the built-in TeraBox hosts
	MaxURLLength int
}

// TransferConfig holds download and upload settings
type TransferConfig struct {
	DownloadDir       string
	MaxFileSize       uint64
	AllowedExtensions []string
	ChunkSize         int
	ProgressInterval  time.Duration
}

// QuotaConfig holds flood window and usage counter settings
type QuotaConfig struct {
	PremiumWindow time.Duration
	FreeWindow    time.Duration
	UsageWindow   time.Duration
	RequestLimit  int
	Enforce       bool
}

// WorkerConfig holds task pool settings
type WorkerConfig struct {
	Count     int
	QueueSize int
}

// SweepConfig holds orphan temp-file sweep settings
type SweepConfig struct {
	Schedule string
	MaxAge   time.Duration
}

// ServerConfig holds status HTTP server settings
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Environment string // "development", "production", "testing"
}

// Load reads configuration from the environment and an optional CONFIG_FILE
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	adminIDs, err := parseInt64List(v.GetString("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	var cookieExpiry time.Time
	if raw := v.GetString("TERABOX_COOKIE_EXPIRES_AT"); raw != "" {
		cookieExpiry, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TERABOX_COOKIE_EXPIRES_AT: %w", err)
		}
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:            v.GetString("TELEGRAM_BOT_TOKEN"),
			APIEndpoint:      v.GetString("TELEGRAM_API_ENDPOINT"),
			Debug:            v.GetBool("TELEGRAM_DEBUG"),
			AdminIDs:         adminIDs,
			StagingChatID:    v.GetInt64("STAGING_CHAT_ID"),
			RequiredChannels: splitList(v.GetString("REQUIRED_CHANNELS")),
			BroadcastRate:    v.GetFloat64("BROADCAST_RATE"),
			GiftCodePrefix:   v.GetString("GIFT_CODE_PREFIX"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("DB_DRIVER"),
			DSN:    v.GetString("DB_DSN"),
		},
		Resolver: ResolverConfig{
			Cookie:          v.GetString("TERABOX_COOKIE"),
			CookieExpiresAt: cookieExpiry,
			ListURL:         v.GetString("TERABOX_LIST_URL"),
			UserAgent:       v.GetString("TERABOX_USER_AGENT"),
			Timeout:         v.GetDuration("RESOLVER_TIMEOUT"),
			ProbeURL:        v.GetString("AUTH_PROBE_URL"),
			ProbeSchedule:   v.GetString("AUTH_PROBE_SCHEDULE"),
		},
		Matcher: MatcherConfig{
			ExtraDomains: splitList(v.GetString("MATCHER_DOMAINS")),
			MaxURLLength: v.GetInt("MATCHER_MAX_URL_LENGTH"),
		},
		Transfer: TransferConfig{
			DownloadDir:       v.GetString("DOWNLOAD_DIR"),
			MaxFileSize:       v.GetUint64("MAX_FILE_SIZE"),
			AllowedExtensions: splitList(v.GetString("ALLOWED_EXTENSIONS")),
			ChunkSize:         v.GetInt("DOWNLOAD_CHUNK_SIZE"),
			ProgressInterval:  v.GetDuration("PROGRESS_INTERVAL"),
		},
		Quota: QuotaConfig{
			PremiumWindow: v.GetDuration("FLOOD_WINDOW_PREMIUM"),
			FreeWindow:    v.GetDuration("FLOOD_WINDOW_FREE"),
			UsageWindow:   v.GetDuration("USAGE_WINDOW"),
			RequestLimit:  v.GetInt("REQUEST_LIMIT"),
			Enforce:       v.GetBool("ENFORCE_REQUEST_LIMIT"),
		},
		Worker: WorkerConfig{
			Count:     v.GetInt("WORKERS"),
			QueueSize: v.GetInt("QUEUE_SIZE"),
		},
		Sweep: SweepConfig{
			Schedule: v.GetString("SWEEP_SCHEDULE"),
			MaxAge:   v.GetDuration("SWEEP_MAX_AGE"),
		},
		Server: ServerConfig{
			Port:            v.GetString("HTTP_PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SERVER_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		},
		App: AppConfig{
			Environment: v.GetString("ENVIRONMENT"),
		},
		Log: logger.Config{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
	cfg.Log.Environment = cfg.App.Environment

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TELEGRAM_DEBUG", false)
	v.SetDefault("BROADCAST_RATE", 20.0)
	v.SetDefault("GIFT_CODE_PREFIX", "Astro")

	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("DB_DRIVER", "sqlite3")
	v.SetDefault("DB_DSN", "./data/users.db")

	v.SetDefault("TERABOX_LIST_URL", "https://www.terabox.app/share/list")
	v.SetDefault("TERABOX_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36")
	v.SetDefault("RESOLVER_TIMEOUT", 30*time.Second)
	v.SetDefault("AUTH_PROBE_SCHEDULE", "@every 15m")

	v.SetDefault("MATCHER_MAX_URL_LENGTH", 2048)

	v.SetDefault("DOWNLOAD_DIR", "./downloads")
	v.SetDefault("MAX_FILE_SIZE", uint64(4294967296))
	v.SetDefault("ALLOWED_EXTENSIONS", ".mp4,.mkv,.Mkv,.webm")
	v.SetDefault("DOWNLOAD_CHUNK_SIZE", 256*1024)
	v.SetDefault("PROGRESS_INTERVAL", 5*time.Second)

	v.SetDefault("FLOOD_WINDOW_PREMIUM", 30*time.Second)
	v.SetDefault("FLOOD_WINDOW_FREE", 60*time.Second)
	v.SetDefault("USAGE_WINDOW", 2*time.Hour)
	v.SetDefault("REQUEST_LIMIT", 5)
	v.SetDefault("ENFORCE_REQUEST_LIMIT", false)

	v.SetDefault("WORKERS", 4)
	v.SetDefault("QUEUE_SIZE", 100)

	v.SetDefault("SWEEP_SCHEDULE", "@every 30m")
	v.SetDefault("SWEEP_MAX_AGE", 6*time.Hour)

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("SERVER_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)

	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	if c.Telegram.StagingChatID == 0 {
		return errors.New("STAGING_CHAT_ID is required")
	}

	// Validate port
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s (must be 1-65535)", c.Server.Port)
	}

	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database DSN cannot be empty")
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("invalid worker count: %d", c.Worker.Count)
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("invalid queue size: %d", c.Worker.QueueSize)
	}

	if c.Matcher.MaxURLLength < 1 {
		return fmt.Errorf("invalid max URL length: %d", c.Matcher.MaxURLLength)
	}

	if c.Transfer.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d", c.Transfer.ChunkSize)
	}
	if len(c.Transfer.AllowedExtensions) == 0 {
		return errors.New("at least one allowed extension is required")
	}

	// Validate environment
	validEnvs := map[string]bool{
		"development": true,
		"production":  true,
		"testing":     true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, production, or testing)", c.App.Environment)
	}
	// Validate log level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt64List(value string) ([]int64, error) {
	var out []int64
	for _, part := range splitList(value) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
