package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	// Remote chat API
	BaseURL        string        `env:"CHAT_API_URL" envDefault:"http://localhost:8000/api/text"`
	MediaBaseURL   string        `env:"MEDIA_BASE_URL" envDefault:"http://localhost:8000"`
	CSRFToken      string        `env:"CSRF_TOKEN"`
	Cookie         string        `env:"CHAT_COOKIE"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	// Sessions
	HistoryPageSize int  `env:"HISTORY_PAGE_SIZE" envDefault:"100"`
	OfflineSessions bool `env:"OFFLINE_SESSIONS" envDefault:"false"`

	// Local cache
	CacheBackend        string `env:"CACHE_BACKEND" envDefault:"sqlite"`
	CachePath           string `env:"CACHE_PATH" envDefault:"voicechat.db"`
	CacheQuotaBytes     int64  `env:"CACHE_QUOTA_BYTES" envDefault:"5242880"`
	CacheMedia          bool   `env:"CACHE_MEDIA" envDefault:"true"`
	MaxImagesPerSession int    `env:"MAX_IMAGES_PER_SESSION" envDefault:"100"`
	RedisAddr           string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword       string `env:"REDIS_PASSWORD"`
	RedisDB             int    `env:"REDIS_DB" envDefault:"0"`

	// Microphone
	MicCommand    string `env:"MIC_COMMAND" envDefault:"arecord -q -t raw -f FLOAT_LE -c 1 -r 16000"`
	MicSampleRate int    `env:"MIC_SAMPLE_RATE" envDefault:"16000"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the optional .env files and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			slog.Debug("env file not loaded", slog.String("file", f), "error", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	switch c.CacheBackend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND=%q", c.CacheBackend)
	}
	if c.HistoryPageSize <= 0 || c.HistoryPageSize > 100 {
		c.HistoryPageSize = 100
	}
	if c.MaxImagesPerSession <= 0 {
		c.MaxImagesPerSession = 100
	}
	if c.MicSampleRate <= 0 {
		return fmt.Errorf("invalid MIC_SAMPLE_RATE=%d", c.MicSampleRate)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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
