package selection

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"memoai/internal/api"
	"memoai/internal/apperr"
	"memoai/internal/cache"
	"memoai/internal/form"
	"memoai/internal/metrics"
	"memoai/internal/settings"
)

// ErrSuperseded is returned by a target change that finished after a newer
// one started. Nothing was committed.
var ErrSuperseded = errors.New("target change superseded")

// Backend is the part of the API client selection needs.
type Backend interface {
	URL(path string) string
	Models(ctx context.Context) (api.ModelCatalog, error)
}

type Config struct {
	Backend  Backend
	Cache    *cache.Cache
	Settings *settings.Store
	Form     *form.Form
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Current is the committed target. Fields is nil for pages.
type Current struct {
	ID             string
	Kind           string
	Title          string
	Fields         []form.Field
	Prompt         string
	PromptOverride bool
}

// CanViewContent and CanEditSettings gate the content and prompt actions.
func (c Current) CanViewContent() bool { return c.ID != "" }
func (c Current) CanEditSettings() bool { return c.ID != "" }

// State tracks the target list, the current target and the model choice.
// The latest SelectTarget call always wins.
type State struct {
	cfg Config

	mu      sync.Mutex
	targets []api.Target
	current Current
	gen     uint64

	catalog api.ModelCatalog
	model   string
}

func New(cfg Config) *State {
	if cfg.Form == nil {
		cfg.Form = form.New(cfg.Logger)
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.New(settings.Config{Logger: cfg.Logger})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &State{cfg: cfg}
}

func (s *State) Form() *form.Form {
	return s.cfg.Form
}

func (s *State) LoadTargets(ctx context.Context) ([]api.Target, error) {
	list, err := cache.FetchAs[api.TargetList](ctx, s.cfg.Cache, s.cfg.Backend.URL(api.PathTargets), cache.KeyTargets)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.targets = list.Targets
	s.mu.Unlock()
	return s.Targets(), nil
}

// ReloadTargets drops the cached list before loading it again.
func (s *State) ReloadTargets(ctx context.Context) ([]api.Target, error) {
	s.cfg.Cache.Invalidate(ctx, cache.KeyTargets)
	return s.LoadTargets(ctx)
}

func (s *State) Targets() []api.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Target(nil), s.targets...)
}

func (s *State) Lookup(id string) (api.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.ID == id {
			return t, true
		}
	}
	return api.Target{}, false
}

func (s *State) Current() Current {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.current
	c.Fields = append([]form.Field(nil), c.Fields...)
	return c
}

// SelectTarget switches to id. Databases fetch their schema first; the
// switch is committed only if no newer SelectTarget started meanwhile, and
// a failed fetch keeps the previous target.
func (s *State) SelectTarget(ctx context.Context, id string) error {
	t, ok := s.Lookup(id)
	if !ok {
		return apperr.Validation("unknown target %q", id)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	var fields []form.Field
	if t.Type == api.KindDatabase {
		body, err := s.cfg.Cache.Fetch(ctx, s.cfg.Backend.URL(api.SchemaPath(id)), cache.SchemaKey(id))
		if err == nil {
			fields, err = form.ParseSchema(body)
			if err != nil {
				err = &apperr.DecodeError{Op: "schema " + id, Err: err}
			}
		}
		if err != nil {
			if s.stale(gen) {
				s.cfg.Metrics.TargetSwitch.WithLabelValues("superseded").Inc()
				return ErrSuperseded
			}
			s.cfg.Metrics.TargetSwitch.WithLabelValues("failed").Inc()
			s.cfg.Logger.Error().Err(err).Str("target", id).Msg("load schema")
			return err
		}
	}

	prompt := s.cfg.Settings.Prompt(ctx, id)
	override := s.cfg.Settings.HasPromptOverride(ctx, id)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.cfg.Metrics.TargetSwitch.WithLabelValues("superseded").Inc()
		return ErrSuperseded
	}
	if s.current.ID != id {
		s.cfg.Form.Reset()
	}
	s.current = Current{
		ID:             id,
		Kind:           normalizeKind(t.Type),
		Title:          t.Title,
		Fields:         fields,
		Prompt:         prompt,
		PromptOverride: override,
	}
	s.cfg.Form.Render(fields)
	s.mu.Unlock()

	s.cfg.Settings.SetLastTarget(ctx, id)
	s.cfg.Metrics.TargetSwitch.WithLabelValues("committed").Inc()
	s.cfg.Logger.Debug().Str("target", id).Str("kind", t.Type).Int("fields", len(fields)).Msg("target selected")
	return nil
}

// RestoreLastTarget selects the persisted target when it is still listed.
func (s *State) RestoreLastTarget(ctx context.Context) error {
	id := s.cfg.Settings.LastTarget(ctx)
	if id == "" {
		return nil
	}
	if _, ok := s.Lookup(id); !ok {
		return nil
	}
	return s.SelectTarget(ctx, id)
}

// RefreshPrompt re-reads the prompt of the current target after an edit.
func (s *State) RefreshPrompt(ctx context.Context) {
	s.mu.Lock()
	id := s.current.ID
	s.mu.Unlock()
	if id == "" {
		return
	}
	prompt := s.cfg.Settings.Prompt(ctx, id)
	override := s.cfg.Settings.HasPromptOverride(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.ID == id {
		s.current.Prompt = prompt
		s.current.PromptOverride = override
	}
}

func (s *State) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}

func normalizeKind(k string) string {
	if k == api.KindPage {
		return api.KindPage
	}
	return api.KindDatabase
}
