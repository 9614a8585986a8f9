package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string
	JWTTTL    time.Duration

	// empty RedisAddr selects the in-process lock
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SchedulerSpec string
	QueueWorkers  int
	QueueBuffer   int
	LockTTL       time.Duration
	ItemDelay     time.Duration
	MaxActiveJobs int

	GeminiAPIKey    string
	SuggestFallback string

	TelegramBotToken string
	TelegramChatID   string

	PlatformEndpoints string
	PlatformTimeout   time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		SchedulerSpec: getenv("SCHEDULER_SPEC", "@every 60s"),

		GeminiAPIKey:    getenv("GEMINI_API_KEY", ""),
		SuggestFallback: getenv("SUGGEST_FALLBACK", ""),

		TelegramBotToken: getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getenv("TELEGRAM_CHAT_ID", ""),

		PlatformEndpoints: getenv("PLATFORM_ENDPOINTS", ""),
	}

	cfg.CORSAllowedOrigins = splitList(getenv("CORS_ALLOWED_ORIGINS", ""))
	cfg.JWTSecret = mustGetenv("JWT_SECRET")

	var err error
	if cfg.JWTTTL, err = getDuration("JWT_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.QueueWorkers, err = getInt("QUEUE_WORKERS", 2); err != nil {
		return Config{}, err
	}
	if cfg.QueueBuffer, err = getInt("QUEUE_BUFFER", 64); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = getDuration("LOCK_TTL", 900*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ItemDelay, err = getDuration("ITEM_DELAY", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxActiveJobs, err = getInt("MAX_ACTIVE_JOBS", 100); err != nil {
		return Config{}, err
	}
	if cfg.PlatformTimeout, err = getDuration("PLATFORM_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID == "" {
		return Config{}, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getInt(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", key, err)
	}
	return d, nil
}
