package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Model providers
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GeminiAPIKey     string
	ModelCatalogPath string

	// Chat
	AllowAnonymousChats bool
	ChatStepLimit       int
	ModelTimeout        time.Duration
	StreamSmoothDelay   time.Duration
	ChatRequestsPerMin  int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "8080"),
		Env:                 getEnvOrDefault("ENV", "development"),
		DatabaseURL:         mustGetEnv("DATABASE_URL"),
		MigrationsDir:       getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:            mustGetEnv("REDIS_URL"),
		JWTSecret:           mustGetEnv("JWT_SECRET"),
		OpenAIAPIKey:        mustGetEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:       getEnvOrDefault("OPENAI_BASE_URL", ""),
		GeminiAPIKey:        getEnvOrDefault("GEMINI_API_KEY", ""),
		ModelCatalogPath:    getEnvOrDefault("MODEL_CATALOG_PATH", ""),
		AllowAnonymousChats: getEnvAsBoolOrDefault("ALLOW_ANONYMOUS_CHATS", false),
		ChatStepLimit:       getEnvAsIntOrDefault("CHAT_STEP_LIMIT", 5),
		ModelTimeout:        getEnvAsDurationOrDefault("MODEL_TIMEOUT", 2*time.Minute),
		StreamSmoothDelay:   getEnvAsDurationOrDefault("STREAM_SMOOTH_DELAY", 10*time.Millisecond),
		ChatRequestsPerMin:  getEnvAsIntOrDefault("CHAT_REQUESTS_PER_MINUTE", 30),
		FrontendURL:         getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
