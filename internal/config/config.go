package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

var (
	ErrMissingAPIURL   = errors.New("MEMO_API_URL is required")
	ErrInvalidDriver   = errors.New("STORE_DRIVER must be 'sqlite', 'postgres' or 'redis'")
	ErrMissingStoreDSN = errors.New("STORE_DSN is required for sql drivers")
	ErrInvalidQuality  = errors.New("IMAGE_QUALITY must be in (0, 1]")
)

type Config struct {
	APIURL string

	HTTP    HTTPConfig
	Store   StoreConfig
	Redis   RedisConfig
	Session SessionConfig
	Image   ImageConfig
	Crypto  CryptoConfig
	Log     LogConfig

	MetricsAddr string
}

type HTTPConfig struct {
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type StoreConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type SessionConfig struct {
	CacheTTL        time.Duration
	HistoryLimit    int
	ContextLimit    int
	StatusHideAfter time.Duration
}

type ImageConfig struct {
	MaxDimension int
	Quality      float64
}

// CryptoConfig is empty when no master key is configured; values are then
// stored in plain text.
type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c CryptoConfig) Enabled() bool {
	return len(c.Keys) > 0
}

type LogConfig struct {
	Level string
}

// Load reads the process environment, after merging an optional .env file
// from the working directory. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		APIURL: strings.TrimSuffix(mustEnv("MEMO_API_URL", "http://127.0.0.1:8000"), "/"),
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 60*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 2),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(mustEnv("STORE_DRIVER", StoreSQLite)),
			DSN:         mustEnv("STORE_DSN", defaultSQLitePath()),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
			Prefix:   mustEnv("REDIS_PREFIX", "memoai:"),
		},
		Session: SessionConfig{
			CacheTTL:        mustDuration("CACHE_TTL", 180*time.Second),
			HistoryLimit:    mustInt("HISTORY_LIMIT", 50),
			ContextLimit:    mustInt("CONTEXT_LIMIT", 10),
			StatusHideAfter: mustDuration("STATUS_HIDE_AFTER", 5*time.Second),
		},
		Image: ImageConfig{
			MaxDimension: mustInt("IMAGE_MAX_DIMENSION", 600),
			Quality:      mustFloat("IMAGE_QUALITY", 0.7),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "warn")),
		},
		MetricsAddr: mustEnv("METRICS_ADDR", ""),
	}

	if cfg.APIURL == "" {
		return nil, ErrMissingAPIURL
	}
	switch cfg.Store.Driver {
	case StoreSQLite, StorePostgres:
		if cfg.Store.DSN == "" {
			return nil, ErrMissingStoreDSN
		}
	case StoreRedis:
	default:
		return nil, ErrInvalidDriver
	}
	if cfg.Image.Quality <= 0 || cfg.Image.Quality > 1 {
		return nil, ErrInvalidQuality
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") || k == "MASTER_KEY_B64" {
			continue
		}
		id := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64"))
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, errors.New("MASTER_KEY_CURRENT_ID is required when several keys are set")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "memoai.db"
	}
	return dir + string(os.PathSeparator) + "memoai" + string(os.PathSeparator) + "memoai.db"
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
