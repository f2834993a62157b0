package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings for the admin gateway process.
type Config struct {
	Port                string        // HTTP listen port (e.g., "3000")
	SessionKey          string        // secret the cookie hash/encryption keys are derived from
	CookieSecure        bool          // Whether to set Secure flag on session cookie
	CookieSameSite      string        // SameSite policy: Strict/Lax/None
	RememberMeMaxAge    int           // cookie lifetime in seconds when remember-me is set
	LogDir              string        // Directory to write application logs
	GraphQLURL          string        // admin GraphQL endpoint
	AuthHeaderScheme    string        // Authorization scheme for the bearer token ("JWT" or "Bearer")
	BackendTimeout      time.Duration // per-request timeout towards the GraphQL backend
	SessionBackend      string        // where per-browser storage lives: cookie|redis
	RedisURL            string        // Redis URL (redis://host:port/db); optional unless SessionBackend=redis
	DatabaseURL         string        // PostgreSQL DSN for the audit log; optional
	AllowedOrigins      []string      // allowed origins for CORS/CSRF origin check
	RevalidateInterval  time.Duration // how long a successful validation is reused; 0 revalidates every load
	ValidationCacheSize int           // entries of the in-process validation cache
	StaticDir           string        // optional directory with the built admin UI assets
	ServiceName         string        // service name reported to tracing
}

// Load populates Config from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:                firstNonEmpty(os.Getenv("PORT"), "3000"),
		SessionKey:          firstNonEmpty(os.Getenv("SESSION_KEY"), "change-this-session-key"),
		CookieSecure:        boolFromEnv("COOKIE_SECURE", false),
		CookieSameSite:      firstNonEmpty(os.Getenv("COOKIE_SAMESITE"), "Strict"),
		RememberMeMaxAge:    intFromEnv("REMEMBER_ME_MAX_AGE", 30*24*3600),
		LogDir:              firstNonEmpty(os.Getenv("LOG_DIR"), "/var/log/news-admin"),
		GraphQLURL:          firstNonEmpty(os.Getenv("GRAPHQL_URL"), os.Getenv("BACKEND_GRAPHQL_URL"), "http://localhost:8000/graphql/"),
		AuthHeaderScheme:    firstNonEmpty(os.Getenv("AUTH_HEADER_SCHEME"), "JWT"),
		BackendTimeout:      durationFromEnv("BACKEND_TIMEOUT", 15*time.Second),
		SessionBackend:      strings.ToLower(firstNonEmpty(os.Getenv("SESSION_BACKEND"), "cookie")),
		RedisURL:            os.Getenv("REDIS_URL"),
		DatabaseURL:         firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_URL")),
		AllowedOrigins:      parseCSV(os.Getenv("ALLOWED_ORIGINS")),
		RevalidateInterval:  durationFromEnv("REVALIDATE_INTERVAL", time.Minute),
		ValidationCacheSize: intFromEnv("VALIDATION_CACHE_SIZE", 1024),
		StaticDir:           os.Getenv("STATIC_DIR"),
		ServiceName:         firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "news-admin"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// intFromEnv reads an int from env var name, falling back to defaultVal when empty or invalid.
func intFromEnv(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// durationFromEnv accepts Go durations ("90s") or plain seconds ("90").
func durationFromEnv(name string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil && s >= 0 {
		return time.Duration(s) * time.Second
	}
	return defaultVal
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
