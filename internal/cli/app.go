package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"memoai/internal/api"
	"memoai/internal/cache"
	"memoai/internal/chat"
	"memoai/internal/config"
	"memoai/internal/crypto"
	"memoai/internal/form"
	"memoai/internal/imaging"
	"memoai/internal/metrics"
	"memoai/internal/selection"
	"memoai/internal/session"
	"memoai/internal/settings"
	"memoai/internal/status"
	"memoai/internal/storage"
)

// App holds the wired session for one CLI invocation.
type App struct {
	Config  config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Store   storage.Store
	Client  *api.Client
	Session *session.Orchestrator

	closers []func() error
}

// OpenApp opens the configured local store and wires the session on top.
func OpenApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	var (
		store   storage.Store
		closers []func() error
	)
	switch cfg.Store.Driver {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		store = storage.NewRedisStore(rdb, cfg.Redis.Prefix)
		closers = append(closers, rdb.Close)
	default:
		if cfg.Store.Driver == config.StoreSQLite {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o700); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		sqlStore, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.AutoMigrate)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = sqlStore
		closers = append(closers, sqlStore.Close)
	}

	if cfg.Crypto.Enabled() {
		m, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, fmt.Errorf("init crypto: %w", err)
		}
		store = storage.NewSealedStore(store, m)
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}
	app := NewApp(cfg, store, httpClient, logger, metrics.Global())
	app.closers = closers
	return app, nil
}

// NewApp wires the session over an already opened store.
func NewApp(cfg config.Config, store storage.Store, httpClient *http.Client, logger zerolog.Logger, m *metrics.Metrics) *App {
	client := api.New(api.Config{
		BaseURL:     cfg.APIURL,
		HTTPClient:  httpClient,
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
		Logger:      logger,
	})
	set := settings.New(settings.Config{Store: store, Logger: logger, Metrics: m})
	sel := selection.New(selection.Config{
		Backend: client,
		Cache: cache.New(cache.Config{
			Store:   store,
			HTTP:    client.HTTPClient(),
			TTL:     cfg.Session.CacheTTL,
			Logger:  logger,
			Metrics: m,
		}),
		Settings: set,
		Form:     form.New(logger),
		Logger:   logger,
		Metrics:  m,
	})
	o := session.New(session.Config{
		Backend: client,
		History: chat.New(chat.Config{
			Store:        store,
			PersistLimit: cfg.Session.HistoryLimit,
			Logger:       logger,
			Metrics:      m,
		}),
		Settings:          set,
		Selection:         sel,
		Status:            status.NewIndicator(cfg.Session.StatusHideAfter),
		Slot:              &imaging.Slot{},
		ContextLimit:      cfg.Session.ContextLimit,
		ImageMaxDimension: cfg.Image.MaxDimension,
		ImageQuality:      cfg.Image.Quality,
		Logger:            logger,
		Metrics:           m,
	})
	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Store:   store,
		Client:  client,
		Session: o,
	}
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
