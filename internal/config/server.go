// Package config loads settings for the chat server (environment, with an
// optional .env file) and for the terminal client (YAML file).
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Server holds everything cmd/server needs.
type Server struct {
	Port        string
	Env         string
	DatabaseURL string // empty keeps data in memory
	RedisURL    string // empty disables fan-out and shared presence
	JWTSecret   string
	CORSOrigin  string
	LogLevel    slog.Level

	SendPerMinute int
	AuthPerMinute int
}

const devSecret = "dev-secret-change-me"

// LoadServer reads the environment. A .env file in the working directory
// is loaded first when present. In production JWT_SECRET must be set.
func LoadServer() (*Server, error) {
	_ = godotenv.Load()

	cfg := &Server{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     getEnv("JWT_SECRET", devSecret),
		CORSOrigin:    getEnv("CORS_ORIGIN", "*"),
		LogLevel:      parseLevel(getEnv("LOG_LEVEL", "info")),
		SendPerMinute: getInt("SEND_RATE_PER_MINUTE", 60),
		AuthPerMinute: getInt("AUTH_RATE_PER_MINUTE", 10),
	}

	if cfg.Env == "production" && cfg.JWTSecret == devSecret {
		return nil, errMissing("JWT_SECRET")
	}
	return cfg, nil
}

func (c *Server) IsDevelopment() bool {
	return c.Env == "development"
}

type errMissing string

func (e errMissing) Error() string {
	return string(e) + " is required in production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return defaultValue
	}
	return v
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
