package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"memoai/internal/apperr"
	"memoai/internal/metrics"
	"memoai/internal/storage"
)

const (
	KeyTargets   = "memo_ai_targets"
	SchemaPrefix = "memo_ai_schema_"

	DefaultTTL = 180 * time.Second

	errorBodyLimit = 100
)

func SchemaKey(targetID string) string {
	return SchemaPrefix + targetID
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Store   storage.Store
	HTTP    Doer
	TTL     time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Cache is a read-through TTL cache for GET endpoints whose payloads change
// rarely (target list, schemas). Entries are only replaced after TTL expiry
// or an explicit Invalidate.
type Cache struct {
	cfg Config
}

type entry struct {
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func New(cfg Config) *Cache {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Cache{cfg: cfg}
}

func (c *Cache) Fetch(ctx context.Context, url, key string) (json.RawMessage, error) {
	if data, ok := c.lookup(ctx, key); ok {
		c.cfg.Metrics.CacheHits.Inc()
		c.cfg.Logger.Debug().Str("key", key).Msg("cache hit")
		return data, nil
	}
	c.cfg.Metrics.CacheMisses.Inc()
	c.cfg.Logger.Debug().Str("key", key).Str("url", url).Msg("cache miss")

	data, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(entry{Timestamp: c.cfg.Now().UnixMilli(), Data: data})
	if err == nil {
		err = c.cfg.Store.Set(ctx, key, string(payload))
	}
	if err != nil {
		c.storeFailed(&apperr.PersistenceError{Op: "set", Key: key, Err: err})
	}
	return data, nil
}

// FetchAs is Fetch followed by decoding into T.
func FetchAs[T any](ctx context.Context, c *Cache, url, key string) (T, error) {
	var out T
	data, err := c.Fetch(ctx, url, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &apperr.DecodeError{Op: key, Err: err}
	}
	return out, nil
}

func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.cfg.Store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.storeFailed(&apperr.PersistenceError{Op: "delete", Key: key, Err: err})
	}
}

func (c *Cache) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	raw, err := c.cfg.Store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.storeFailed(&apperr.PersistenceError{Op: "get", Key: key, Err: err})
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || len(e.Data) == 0 {
		if err == nil {
			err = errors.New("entry has no data")
		}
		c.storeFailed(&apperr.PersistenceError{Op: "parse", Key: key, Err: err})
		return nil, false
	}
	age := c.cfg.Now().Sub(time.UnixMilli(e.Timestamp))
	if age >= c.cfg.TTL {
		return nil, false
	}
	return e.Data, true
}

func (c *Cache) get(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.cfg.HTTP.Do(req)
	if err != nil {
		return nil, &apperr.NetworkError{Op: http.MethodGet, URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &apperr.NetworkError{Op: "read", URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.HTTPError{Status: resp.StatusCode, Body: apperr.Truncate(string(body), errorBodyLimit)}
	}
	if !json.Valid(body) {
		return nil, &apperr.DecodeError{Op: url, Err: errors.New("response is not valid JSON")}
	}
	return json.RawMessage(body), nil
}

func (c *Cache) storeFailed(err error) {
	c.cfg.Metrics.StoreFailures.Inc()
	c.cfg.Logger.Warn().Err(err).Msg("cache store")
}
