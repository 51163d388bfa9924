package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"memoai/internal/apperr"
	"memoai/internal/metrics"
	"memoai/internal/storage"
)

const (
	KeyHistory = "memo_ai_chat_history"

	DefaultPersistLimit = 50
	DefaultContextLimit = 10
)

type Config struct {
	Store        storage.Store
	PersistLimit int
	Now          func() time.Time
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// History is the append-only conversation. The context sent to the backend is
// always derived from it, never kept separately.
type History struct {
	cfg Config

	mu        sync.Mutex
	entries   []Entry
	listeners []func([]Entry)
}

func New(cfg Config) *History {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.PersistLimit <= 0 {
		cfg.PersistLimit = DefaultPersistLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &History{cfg: cfg}
}

// Load replaces the in-memory history with the persisted one. Missing or
// malformed data leaves an empty history.
func (h *History) Load(ctx context.Context) {
	raw, err := h.cfg.Store.Get(ctx, KeyHistory)
	var entries []Entry
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		h.storeFailed(&apperr.PersistenceError{Op: "get", Key: KeyHistory, Err: err})
	default:
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			h.storeFailed(&apperr.PersistenceError{Op: "parse", Key: KeyHistory, Err: err})
			entries = nil
		}
	}

	h.mu.Lock()
	h.entries = entries
	snapshot := h.snapshotLocked()
	h.mu.Unlock()
	h.notify(snapshot)
}

// Append stamps the entry if needed, persists the tail and notifies
// listeners.
func (h *History) Append(ctx context.Context, e Entry) Entry {
	if e.Timestamp == 0 {
		e.Timestamp = h.cfg.Now().UnixMilli()
	}

	h.mu.Lock()
	h.entries = append(h.entries, e)
	tail := h.entries
	if len(tail) > h.cfg.PersistLimit {
		tail = tail[len(tail)-h.cfg.PersistLimit:]
	}
	payload, err := json.Marshal(tail)
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	if err != nil {
		h.storeFailed(&apperr.PersistenceError{Op: "encode", Key: KeyHistory, Err: err})
	} else if err := h.cfg.Store.Set(ctx, KeyHistory, string(payload)); err != nil {
		h.storeFailed(&apperr.PersistenceError{Op: "set", Key: KeyHistory, Err: err})
	}

	h.notify(snapshot)
	return e
}

// Clear drops every entry and the persisted copy. Calling it on an empty
// history is a no-op apart from the notification.
func (h *History) Clear(ctx context.Context) {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()

	if err := h.cfg.Store.Delete(ctx, KeyHistory); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.storeFailed(&apperr.PersistenceError{Op: "delete", Key: KeyHistory, Err: err})
	}
	h.notify(nil)
}

// Context returns the last limit user/ai turns as backend context.
func (h *History) Context(limit int) []ContextEntry {
	all := h.RebuildContext()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

func (h *History) RebuildContext() []ContextEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ContextEntry, 0, len(h.entries))
	for _, e := range h.entries {
		switch e.Kind {
		case KindUser:
			out = append(out, ContextEntry{Role: RoleUser, Content: e.Plain()})
		case KindAI:
			out = append(out, ContextEntry{Role: RoleAssistant, Content: e.Plain()})
		}
	}
	return out
}

func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *History) At(i int) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.entries) {
		return Entry{}, false
	}
	return h.entries[i], true
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// OnChange registers fn to receive a copy of the history after every change.
func (h *History) OnChange(fn func([]Entry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *History) snapshotLocked() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) notify(snapshot []Entry) {
	h.mu.Lock()
	listeners := append([]func([]Entry){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (h *History) storeFailed(err error) {
	h.cfg.Metrics.StoreFailures.Inc()
	h.cfg.Logger.Warn().Err(err).Msg("chat history store")
}
