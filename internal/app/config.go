package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	HTTPAddr          string
	DBDriver          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifeMins int
	DBAutoMigrate     bool

	UploadDir          string
	MaxUploadMB        int
	SubmitRateLimitMin int
	CORSOrigins        []string
	AdminTokenHash     string
	DefaultUserID      int64
	LogLevel           string
}

// LoadConfig reads an optional .env file first; variables already present in
// the environment win over the file.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		AppEnv:             envOrDefault("APP_ENV", "development"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		DBDriver:           envOrDefault("DB_DRIVER", "postgres"),
		DBDSN:              os.Getenv("DB_DSN"),
		DBMaxOpenConns:     intOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:     intOrDefault("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifeMins:  intOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBAutoMigrate:      boolOrDefault("DB_AUTO_MIGRATE", true),
		UploadDir:          envOrDefault("UPLOAD_DIR", "./uploads"),
		MaxUploadMB:        intOrDefault("MAX_UPLOAD_MB", 50),
		SubmitRateLimitMin: intOrDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:        csvOrDefault("CORS_ORIGINS", []string{"*"}),
		AdminTokenHash:     strings.TrimSpace(os.Getenv("ADMIN_TOKEN_HASH")),
		DefaultUserID:      int64(intOrDefault("DEFAULT_USER_ID", 1)),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
	}
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development") || c.AppEnv == ""
}

func (c Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 50 << 20
	}
	return int64(c.MaxUploadMB) << 20
}

func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifeMins) * time.Minute
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsToInt(v string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(v))
	return n
}

func intOrDefault(key string, fallback int) int {
	v := stringsToInt(os.Getenv(key))
	if v <= 0 {
		return fallback
	}
	return v
}

func boolOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func csvOrDefault(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
