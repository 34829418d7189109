package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	SchemaPath  string
	LogLevel    string

	CORSAllowedOrigins []string
	FrontendBaseURL    string

	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int

	RateLimitEnabled       bool
	RateLimitRequests      int
	RateLimitWindowSeconds int

	AuthRateLimitEnabled   bool
	CSRFProtectionEnabled  bool
	CSRFTokenMaxAgeSeconds int
	SecurityHeadersEnabled bool
	HTTPSRedirectEnabled   bool

	EmailProvider string
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	FromEmail     string
	FromName      string
}

func Load() (Config, error) {
	cfg := Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		SchemaPath:  getEnvOrDefault("DB_SCHEMA_PATH", "db/schema.sql"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),

		CORSAllowedOrigins: splitCSVEnv(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		FrontendBaseURL:    getEnvOrDefault("FRONTEND_BASE_URL", "http://localhost:5173"),

		AccessTokenExpireMinutes: getEnvIntOrDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30),
		RefreshTokenExpireDays:   getEnvIntOrDefault("REFRESH_TOKEN_EXPIRE_DAYS", 7),

		RateLimitEnabled:       getEnvBoolOrDefault("RATE_LIMIT_ENABLED", true),
		RateLimitRequests:      getEnvIntOrDefault("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindowSeconds: getEnvIntOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),

		AuthRateLimitEnabled:   getEnvBoolOrDefault("AUTH_RATE_LIMIT_ENABLED", true),
		CSRFProtectionEnabled:  getEnvBoolOrDefault("CSRF_PROTECTION_ENABLED", true),
		CSRFTokenMaxAgeSeconds: getEnvIntOrDefault("CSRF_TOKEN_MAX_AGE_SECONDS", 3600),
		SecurityHeadersEnabled: getEnvBoolOrDefault("SECURITY_HEADERS_ENABLED", true),
		HTTPSRedirectEnabled:   getEnvBoolOrDefault("HTTPS_REDIRECT_ENABLED", false),

		EmailProvider: getEnvOrDefault("EMAIL_PROVIDER", "console"),
		SMTPHost:      strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:      getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUsername:  strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword:  strings.TrimSpace(os.Getenv("SMTP_PASSWORD")),
		FromEmail:     getEnvOrDefault("FROM_EMAIL", "noreply@fingerflow.com"),
		FromName:      getEnvOrDefault("FROM_NAME", "FingerFlow"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing required environment variable: DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing required environment variable: JWT_SECRET")
	}
	if cfg.RateLimitRequests < 1 || cfg.RateLimitWindowSeconds < 1 {
		return Config{}, fmt.Errorf("rate limit requests and window must be positive")
	}
	if cfg.CSRFTokenMaxAgeSeconds < 1 {
		return Config{}, fmt.Errorf("CSRF token max age must be positive")
	}

	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvIntOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSVEnv(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		item := strings.TrimSpace(p)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
