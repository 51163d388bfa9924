package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"memoai/internal/apperr"
	"memoai/internal/metrics"
	"memoai/internal/storage"
)

const (
	KeyDraft         = "memo_ai_draft"
	KeyLastTarget    = "memo_ai_last_target"
	PromptPrefix     = "memo_ai_prompt_"
	KeyShowModelInfo = "memo_ai_show_model_info"
	KeyReferencePage = "memo_ai_reference_page"
	KeySelectedModel = "memo_ai_selected_model"
)

const DefaultSystemPrompt = `Act as a capable personal assistant and help the user clarify their task.
Rephrase it as a clear, actionable task name and prefix it with a fitting emoji.
For images, infer what the user intends to do and turn that into a task.`

func PromptKey(targetID string) string {
	return PromptPrefix + targetID
}

type Config struct {
	Store   storage.Store
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Store holds the draft and user preferences. Reads fall back to defaults;
// writes are attempted once and failures are only logged.
type Store struct {
	cfg Config
}

func New(cfg Config) *Store {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Store{cfg: cfg}
}

func (s *Store) Draft(ctx context.Context) string {
	v, _ := s.get(ctx, KeyDraft)
	return v
}

func (s *Store) SaveDraft(ctx context.Context, text string) {
	if text == "" {
		s.ClearDraft(ctx)
		return
	}
	s.set(ctx, KeyDraft, text)
}

func (s *Store) ClearDraft(ctx context.Context) {
	s.del(ctx, KeyDraft)
}

func (s *Store) LastTarget(ctx context.Context) string {
	v, _ := s.get(ctx, KeyLastTarget)
	return v
}

func (s *Store) SetLastTarget(ctx context.Context, id string) {
	if id == "" {
		return
	}
	s.set(ctx, KeyLastTarget, id)
}

// Prompt returns the override for targetID, or DefaultSystemPrompt.
func (s *Store) Prompt(ctx context.Context, targetID string) string {
	if v, ok := s.get(ctx, PromptKey(targetID)); ok && v != "" {
		return v
	}
	return DefaultSystemPrompt
}

func (s *Store) HasPromptOverride(ctx context.Context, targetID string) bool {
	v, ok := s.get(ctx, PromptKey(targetID))
	return ok && v != ""
}

// SetPrompt stores an override only when it differs from the default. It
// reports whether an override is now in place.
func (s *Store) SetPrompt(ctx context.Context, targetID, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || text == DefaultSystemPrompt {
		s.ResetPrompt(ctx, targetID)
		return false
	}
	s.set(ctx, PromptKey(targetID), text)
	return true
}

func (s *Store) ResetPrompt(ctx context.Context, targetID string) {
	s.del(ctx, PromptKey(targetID))
}

func (s *Store) ShowModelInfo(ctx context.Context) bool {
	return s.boolean(ctx, KeyShowModelInfo, true)
}

func (s *Store) SetShowModelInfo(ctx context.Context, on bool) {
	s.set(ctx, KeyShowModelInfo, strconv.FormatBool(on))
}

func (s *Store) ReferencePage(ctx context.Context) bool {
	return s.boolean(ctx, KeyReferencePage, false)
}

func (s *Store) SetReferencePage(ctx context.Context, on bool) {
	s.set(ctx, KeyReferencePage, strconv.FormatBool(on))
}

// SelectedModel returns the persisted model id; empty means auto.
func (s *Store) SelectedModel(ctx context.Context) string {
	v, _ := s.get(ctx, KeySelectedModel)
	if v == "null" {
		return ""
	}
	return v
}

func (s *Store) SetSelectedModel(ctx context.Context, id string) {
	if id == "" {
		s.del(ctx, KeySelectedModel)
		return
	}
	s.set(ctx, KeySelectedModel, id)
}

func (s *Store) boolean(ctx context.Context, key string, def bool) bool {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.failed(&apperr.PersistenceError{Op: "parse", Key: key, Err: err})
		return def
	}
	return b
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	v, err := s.cfg.Store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.failed(&apperr.PersistenceError{Op: "get", Key: key, Err: err})
		}
		return "", false
	}
	return v, true
}

func (s *Store) set(ctx context.Context, key, value string) {
	if err := s.cfg.Store.Set(ctx, key, value); err != nil {
		s.failed(&apperr.PersistenceError{Op: "set", Key: key, Err: err})
	}
}

func (s *Store) del(ctx context.Context, key string) {
	if err := s.cfg.Store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.failed(&apperr.PersistenceError{Op: "delete", Key: key, Err: err})
	}
}

func (s *Store) failed(err error) {
	s.cfg.Metrics.StoreFailures.Inc()
	s.cfg.Logger.Warn().Err(err).Msg("settings store")
}
