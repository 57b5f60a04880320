package config

import (
	"os"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// Gemini API
	GeminiAPIKey  string
	GeminiBaseURL string

	// AWS (for s3:// seed sources)
	AWSRegion string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		DatabaseURL:   getEnv("DATABASE_URL", "postgres://localhost/drift_benchmark?sslmode=disable"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", ""),
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
