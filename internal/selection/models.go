package selection

import (
	"context"
	"fmt"

	"memoai/internal/api"
	"memoai/internal/apperr"
)

const AutoModel = "Auto"

// LoadModels fetches the catalog. A persisted model that is no longer
// offered is reset to auto and reported through the returned warning.
func (s *State) LoadModels(ctx context.Context) (warning string, err error) {
	cat, err := s.cfg.Backend.Models(ctx)
	if err != nil {
		return "", fmt.Errorf("load models: %w", err)
	}
	persisted := s.cfg.Settings.SelectedModel(ctx)

	s.mu.Lock()
	s.catalog = cat
	s.model = persisted
	dangling := persisted != "" && !s.knownLocked(persisted)
	if dangling {
		s.model = ""
	}
	s.mu.Unlock()

	if dangling {
		s.cfg.Settings.SetSelectedModel(ctx, "")
		s.cfg.Logger.Warn().Str("model", persisted).Msg("persisted model no longer available, using auto")
		return fmt.Sprintf("saved model %q is no longer available; switched to auto", persisted), nil
	}
	return "", nil
}

func (s *State) Catalog() api.ModelCatalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// Available is the full model list; TextOnly and Vision are derived from it.
func (s *State) Available() []api.ModelDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.ModelDescriptor(nil), s.catalog.All...)
}

func (s *State) TextOnly() []api.ModelDescriptor {
	return s.filter(func(m api.ModelDescriptor) bool { return !m.SupportsVision })
}

func (s *State) Vision() []api.ModelDescriptor {
	return s.filter(func(m api.ModelDescriptor) bool { return m.SupportsVision })
}

func (s *State) filter(keep func(api.ModelDescriptor) bool) []api.ModelDescriptor {
	var out []api.ModelDescriptor
	for _, m := range s.Available() {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// SelectedModel is the explicit choice; empty means auto.
func (s *State) SelectedModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel commits an explicit model, or auto for an empty id.
func (s *State) SetModel(ctx context.Context, id string) error {
	s.mu.Lock()
	if id != "" && !s.knownLocked(id) {
		s.mu.Unlock()
		return apperr.Validation("model %q is not in the catalog", id)
	}
	s.model = id
	s.mu.Unlock()

	s.cfg.Settings.SetSelectedModel(ctx, id)
	return nil
}

// ResolveModelForSend is the model a send will use: the explicit choice,
// otherwise the vision or text default.
func (s *State) ResolveModelForSend(hasImage bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != "" {
		return s.model
	}
	if hasImage {
		return s.catalog.Defaults.Multimodal
	}
	return s.catalog.Defaults.Text
}

// ModelDisplay renders id as "[provider] name" when the catalog knows it.
func (s *State) ModelDisplay(id string) string {
	if id == "" {
		return AutoModel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.catalog.All {
		if m.ID == id {
			return fmt.Sprintf("[%s] %s", m.Provider, m.Name)
		}
	}
	return id
}

func (s *State) knownLocked(id string) bool {
	for _, m := range s.catalog.All {
		if m.ID == id {
			return true
		}
	}
	return false
}
