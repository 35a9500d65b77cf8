package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 会話解釈器の動作モード
const (
	InterpreterModeRules  = "rules"
	InterpreterModeGemini = "gemini"
	InterpreterModeRemote = "remote"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitMessage int

	// Interpreter
	InterpreterMode     string
	InterpreterTimeout  time.Duration
	InterpreterRetries  int
	InterpreterFallback bool
	InterpreterURL      string
	GeminiAPIKey        string
	GeminiModel         string

	// Clinic
	ClinicTimezone string
	ClinicLocation *time.Location

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や、値の組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMessage = getEnvInt("RATE_LIMIT_MESSAGE", 30)
	cfg.InterpreterMode = strings.ToLower(getEnvString("INTERPRETER_MODE", InterpreterModeRules))
	cfg.InterpreterTimeout = getEnvDuration("INTERPRETER_TIMEOUT", 10*time.Second)
	cfg.InterpreterRetries = getEnvInt("INTERPRETER_RETRIES", 2)
	cfg.InterpreterFallback = getEnvBool("INTERPRETER_FALLBACK", true)
	cfg.InterpreterURL = getEnvString("INTERPRETER_URL", "")
	cfg.GeminiAPIKey = getEnvString("GEMINI_API_KEY", "")
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-2.5-flash")
	cfg.ClinicTimezone = getEnvString("CLINIC_TIMEZONE", "UTC")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値の組み合わせを検証し、派生値を設定する。
func (c *Config) validate() error {
	switch c.InterpreterMode {
	case InterpreterModeRules:
	case InterpreterModeGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when INTERPRETER_MODE=%s", c.InterpreterMode)
		}
	case InterpreterModeRemote:
		if c.InterpreterURL == "" {
			return fmt.Errorf("INTERPRETER_URL is required when INTERPRETER_MODE=%s", c.InterpreterMode)
		}
	default:
		return fmt.Errorf("unknown INTERPRETER_MODE: %q", c.InterpreterMode)
	}

	if c.InterpreterTimeout <= 0 {
		return fmt.Errorf("INTERPRETER_TIMEOUT must be positive: %s", c.InterpreterTimeout)
	}
	if c.InterpreterRetries < 1 {
		c.InterpreterRetries = 1
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive: %s", c.TokenTTL)
	}

	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return fmt.Errorf("invalid CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	c.ClinicLocation = loc
	return nil
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
