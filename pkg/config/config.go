package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	Environment   string
	DatabasePath  string
	JWTSecret     string
	CORSOrigins   string
	GeminiAPIKey  string
	GeminiModel   string
	GeminiAPIBase string
	LogLevel      string
}

// Load reads the server configuration from the process environment. Values
// from the env file named by NEXCHAT_ENV_FILE (or ./.env) fill in keys that
// are not already set.
func Load() *Config {
	if err := loadEnvFile(); err != nil {
		slog.Warn("ignoring env file", "error", err)
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		DatabasePath:  getEnv("DATABASE_PATH", "./data/nexchat.db"),
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:   getEnv("CORS_ORIGINS", "*"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiAPIBase: getEnv("GEMINI_API_BASE", "https://generativelanguage.googleapis.com/v1beta"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

func loadEnvFile() error {
	path, explicit := os.LookupEnv("NEXCHAT_ENV_FILE")
	if !explicit || path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
