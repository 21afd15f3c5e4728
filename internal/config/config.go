// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration. Secrets carry no embedded defaults;
// Load fails when one is missing.
type App struct {
	Env             string
	HTTPPort        string
	DatabaseURL     string
	RedisAddr       string
	JWTIssuer       string
	JWTSigningKey   string
	AdminTokenTTL   time.Duration
	StudentTokenTTL time.Duration
	CheckinBaseURL  string // public base URL encoded into QR codes
	SendGridAPIKey  string // empty selects the console mailer
	MailFromName    string
	MailFromAddr    string
	RateLimitPerMin int
	CORSOrigin      string
}

// Load reads configuration from the environment, honoring an optional .env
// file for development.
func Load() (App, error) {
	_ = godotenv.Load()

	cfg := App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		JWTIssuer:       getEnv("JWT_ISSUER", "students-checkin"),
		JWTSigningKey:   os.Getenv("JWT_SIGNING_KEY"),
		AdminTokenTTL:   durationEnv("ADMIN_TOKEN_TTL", 24*time.Hour),
		StudentTokenTTL: durationEnv("STUDENT_TOKEN_TTL", 12*time.Hour),
		CheckinBaseURL:  getEnv("CHECKIN_BASE_URL", "http://localhost:8080"),
		SendGridAPIKey:  os.Getenv("SENDGRID_API_KEY"),
		MailFromName:    getEnv("MAIL_FROM_NAME", "Student Check-in"),
		MailFromAddr:    getEnv("MAIL_FROM_ADDR", "no-reply@localhost"),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		CORSOrigin:      getEnv("CORS_ORIGIN", "*"),
	}

	if cfg.DatabaseURL == "" {
		return App{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSigningKey == "" {
		return App{}, fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
