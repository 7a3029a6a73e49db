package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUserAgent はスクレイパーの既定User-Agent。
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.102 Safari/537.36"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DBType      string // sqlite | postgres
	DatabaseURL string
	SQLitePath  string

	// Scraper
	ScraperUserAgent     string
	ScraperTimeout       time.Duration
	ScraperRetryTimes    int
	ScraperRetryInterval time.Duration
	ScraperMaxBodySize   int64
	ScraperRatePerSecond float64
	ScraperSSRFGuard     bool

	// LLM
	LLMProvider     string // openai | anthropic
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	LLMTimeout      time.Duration
	LocalSentiment  bool

	// Cache
	ValkeyAddress  string
	ValkeyPassword string
	LLMCacheTTL    time.Duration

	// Pipeline / Worker
	AnalyzeBatchLimit int
	PlatformsFile     string
	WorkerSchedule    string
	WorkerMaxPages    int

	// Server
	ServerPort string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env がある場合は先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。LLMの認証情報は必須ではない。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var missing []string

	cfg.DBType = strings.ToLower(getEnvString("DB_TYPE", "sqlite"))
	switch cfg.DBType {
	case "postgres":
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "sqlite":
		cfg.SQLitePath = getEnvString("SQLITE_PATH", "storage/data/database.db")
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE: %q", cfg.DBType)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.ScraperUserAgent = getEnvString("SCRAPER_USER_AGENT", DefaultUserAgent)
	cfg.ScraperTimeout = getEnvDuration("SCRAPER_TIMEOUT", 30*time.Second)
	cfg.ScraperRetryTimes = getEnvInt("SCRAPER_RETRY_TIMES", 3)
	cfg.ScraperRetryInterval = getEnvDuration("SCRAPER_RETRY_INTERVAL", 5*time.Second)
	cfg.ScraperMaxBodySize = getEnvInt64("SCRAPER_MAX_BODY_SIZE", 5242880)
	cfg.ScraperRatePerSecond = getEnvFloat("SCRAPER_RATE_PER_SECOND", 0)
	cfg.ScraperSSRFGuard = getEnvBool("SCRAPER_SSRF_GUARD", true)

	cfg.LLMProvider = strings.ToLower(getEnvString("LLM_PROVIDER", "openai"))
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-3.5-turbo")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.AnthropicModel = getEnvString("ANTHROPIC_MODEL", "claude-3-5-haiku-latest")
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", 30*time.Second)
	cfg.LocalSentiment = getEnvBool("ANALYZER_LOCAL_SENTIMENT", false)

	cfg.ValkeyAddress = os.Getenv("VALKEY_ADDRESS")
	cfg.ValkeyPassword = os.Getenv("VALKEY_PASSWORD")
	cfg.LLMCacheTTL = getEnvDuration("LLM_CACHE_TTL", 24*time.Hour)

	cfg.AnalyzeBatchLimit = getEnvInt("ANALYZE_BATCH_LIMIT", 10)
	cfg.PlatformsFile = os.Getenv("PLATFORMS_FILE")
	cfg.WorkerSchedule = getEnvString("WORKER_SCHEDULE", "@every 30m")
	cfg.WorkerMaxPages = getEnvInt("WORKER_MAX_PAGES", 1)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "INFO")
	cfg.LogFormat = strings.ToLower(getEnvString("LOG_FORMAT", "json"))

	return cfg, nil
}

// LLMAPIKey は選択されたプロバイダのAPIキーを返す。未設定の場合は空文字列。
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// LLMAPIKeyName は選択されたプロバイダのAPIキーの環境変数名を返す。
func (c *Config) LLMAPIKeyName() string {
	if c.LLMProvider == "anthropic" {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
