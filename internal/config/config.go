package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultPuzzleAPIURL はバナナパズルAPIのエンドポイント。
const defaultPuzzleAPIURL = "https://marcconrad.com/uob/banana/api.php"

// minJWTSecretLength はHS256署名鍵として受け付ける最小バイト長。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Credential
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	// Puzzle
	PuzzleAPIURL         string
	PuzzleTimeout        time.Duration
	PuzzleMaxAttempts    int
	PuzzleRetryDelay     time.Duration
	PuzzleTicketTTL      time.Duration
	PuzzleExposeSolution bool

	// Leaderboard
	LeaderboardLimit int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitAuth    int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
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

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 7*24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.PuzzleAPIURL = getEnvString("PUZZLE_API_URL", defaultPuzzleAPIURL)
	cfg.PuzzleTimeout = getEnvDuration("PUZZLE_TIMEOUT", 10*time.Second)
	cfg.PuzzleMaxAttempts = getEnvInt("PUZZLE_MAX_ATTEMPTS", 5)
	cfg.PuzzleRetryDelay = getEnvDuration("PUZZLE_RETRY_DELAY", 200*time.Millisecond)
	cfg.PuzzleTicketTTL = getEnvDuration("PUZZLE_TICKET_TTL", 10*time.Minute)
	cfg.PuzzleExposeSolution = getEnvBool("PUZZLE_EXPOSE_SOLUTION", false)
	cfg.LeaderboardLimit = getEnvInt("LEADERBOARD_LIMIT", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "5000")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	if cfg.PuzzleMaxAttempts < 1 {
		cfg.PuzzleMaxAttempts = 1
	}

	return cfg, nil
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
