// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything the server process needs from the environment.
type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Redis (optional - response caching is skipped when unset)
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Auth
	JWTSecret string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from a .env file (if present) and the process
// environment. JWT_SECRET is the only hard requirement.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional; system environment wins
		_ = err
	}

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8787"),
		Environment:   getEnvOrDefault("ENVIRONMENT", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:       getEnvOrDefault("LOG_FILE", "server.log"),
	}

	if cfg.DatabaseURL == "" {
		host := getEnvOrDefault("DB_HOST", "localhost")
		port := getEnvOrDefault("DB_PORT", "5432")
		user := getEnvOrDefault("DB_USER", "postgres")
		password := getEnvOrDefault("DB_PASSWORD", "")
		dbname := getEnvOrDefault("DB_NAME", "pulsefeed")
		sslmode := getEnvOrDefault("DB_SSLMODE", "disable")

		cfg.DatabaseURL = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
