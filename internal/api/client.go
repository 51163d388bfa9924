package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"memoai/internal/apperr"
)

type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

// Client talks to the memo backend. Only idempotent GETs are retried; a
// repeated chat or save would bill or write twice.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{cfg: cfg}
}

// HTTPClient is shared with the cache store so both honour the same timeout.
func (c *Client) HTTPClient() *http.Client {
	return c.cfg.HTTPClient
}

func (c *Client) URL(path string) string {
	return c.cfg.BaseURL + path
}

func SchemaPath(id string) string {
	return PathSchema + url.PathEscape(id)
}

func ContentPath(id, kind string) string {
	if kind != KindDatabase {
		kind = KindPage
	}
	return PathContent + kind + "/" + url.PathEscape(id)
}

func (c *Client) Content(ctx context.Context, id, kind string) (Content, error) {
	var out Content
	err := c.do(ctx, http.MethodGet, ContentPath(id, kind), nil, &out, func(int, []byte) string {
		return "failed to fetch content"
	})
	return out, err
}

func (c *Client) Models(ctx context.Context) (ModelCatalog, error) {
	var out ModelCatalog
	err := c.do(ctx, http.MethodGet, PathModels, nil, &out, func(int, []byte) string {
		return "failed to load models"
	})
	return out, err
}

func (c *Client) Debug(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	err := c.do(ctx, http.MethodGet, PathDebug, nil, &out, func(status int, _ []byte) string {
		return fmt.Sprintf("HTTP %d", status)
	})
	return out, err
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	err := c.do(ctx, http.MethodPost, PathChat, req, &out, chatDetail)
	return out, err
}

func (c *Client) Save(ctx context.Context, req SaveRequest) error {
	if req.Properties == nil {
		req.Properties = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, PathSave, req, nil, saveDetail)
}

func (c *Client) CreatePage(ctx context.Context, name string) (CreatePageResponse, error) {
	var out CreatePageResponse
	err := c.do(ctx, http.MethodPost, PathCreatePage, map[string]string{"page_name": name}, &out, createPageDetail)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, describe func(int, []byte) string) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", path, err)
		}
		body = b
	}

	retries := 0
	if method == http.MethodGet {
		retries = c.cfg.MaxRetries
	}

	endpoint := c.URL(path)
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		respBody, retry, err := c.callOnce(ctx, method, endpoint, body, describe)
		if err == nil {
			if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return &apperr.DecodeError{Op: "decode " + path, Err: err}
			}
			return nil
		}
		lastErr = err
		if !retry || attempt == retries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func (c *Client) callOnce(ctx context.Context, method, endpoint string, body []byte, describe func(int, []byte) string) (respBody []byte, retry bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, true, &apperr.NetworkError{Op: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, false, &apperr.NetworkError{Op: "read " + method, URL: endpoint, Err: err}
	}

	c.cfg.Logger.Debug().
		Str("request_id", reqID).
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, &apperr.HTTPError{Status: resp.StatusCode, Body: describe(resp.StatusCode, respBody)}
	}
	return respBody, false, nil
}
