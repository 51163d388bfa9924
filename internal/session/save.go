package session

import (
	"context"
	"strings"

	"memoai/internal/api"
	"memoai/internal/apperr"
	"memoai/internal/chat"
	"memoai/internal/form"
	"memoai/internal/selection"
	"memoai/internal/status"
)

// SaveDraft writes the draft and the form properties to the current target.
func (o *Orchestrator) SaveDraft(ctx context.Context) error {
	cur := o.cfg.Selection.Current()
	if cur.ID == "" {
		return o.reject(apperr.Validation("select a target first"))
	}

	text := o.cfg.Settings.Draft(ctx)
	var props form.Properties
	if cur.Kind == api.KindDatabase {
		props = o.cfg.Selection.Form().Serialize()
	}

	if err := o.save(ctx, cur.ID, cur.Kind, text, props); err != nil {
		return err
	}

	o.cfg.History.Append(ctx, chat.Entry{Kind: chat.KindSystem, Body: "Saved to the workspace!"})
	o.toast("Saved")
	o.cfg.Settings.ClearDraft(ctx)
	return nil
}

// SaveEntry saves the plain content of a user or ai history entry.
// Databases get the form properties with the content as title.
func (o *Orchestrator) SaveEntry(ctx context.Context, index int) error {
	cur := o.cfg.Selection.Current()
	if cur.ID == "" {
		return o.reject(apperr.Validation("select a target first"))
	}
	e, ok := o.cfg.History.At(index)
	if !ok {
		return o.reject(apperr.Validation("no history entry #%d", index+1))
	}
	if e.Kind != chat.KindUser && e.Kind != chat.KindAI {
		return o.reject(apperr.Validation("only user and ai messages can be saved"))
	}

	content := e.Plain()
	var props form.Properties
	if cur.Kind == api.KindDatabase {
		props = o.cfg.Selection.Form().SerializeWithContent(content)
	}

	if err := o.save(ctx, cur.ID, cur.Kind, content, props); err != nil {
		return err
	}
	o.toast("✅ Added to the workspace")
	return nil
}

func (o *Orchestrator) save(ctx context.Context, targetID, kind, text string, props form.Properties) error {
	o.cfg.Status.Update(status.Status{Phase: status.PhaseBusy, Icon: "💾", Label: "Saving..."})

	req := api.SaveRequest{TargetID: targetID, TargetType: kind, Text: text}
	if props != nil {
		req.Properties = props
	}
	if err := o.cfg.Backend.Save(ctx, req); err != nil {
		o.cfg.Metrics.Saves.WithLabelValues(kind, "failed").Inc()
		o.cfg.Logger.Error().Err(err).Str("target", targetID).Msg("save")
		o.cfg.Status.Update(status.Status{
			Phase:  status.PhaseFailed,
			Icon:   "❌",
			Label:  "Save failed",
			Detail: map[string]any{"error": userMessage(err)},
		})
		o.toast("Error: " + userMessage(err))
		return err
	}

	o.cfg.Metrics.Saves.WithLabelValues(kind, "ok").Inc()
	o.cfg.Status.Update(status.Status{Phase: status.PhaseCompleted, Icon: "✅", Label: "Saved"})
	return nil
}

// CreatePage creates a page, reloads the target list past the cache and
// selects the new page.
func (o *Orchestrator) CreatePage(ctx context.Context, name string) (api.CreatePageResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return api.CreatePageResponse{}, o.reject(apperr.Validation("enter a page name"))
	}

	o.cfg.Status.Update(status.Status{Phase: status.PhaseBusy, Icon: "📄", Label: "Creating page..."})
	page, err := o.cfg.Backend.CreatePage(ctx, name)
	if err != nil {
		o.cfg.Logger.Error().Err(err).Str("name", name).Msg("create page")
		o.cfg.Status.Update(status.Status{Phase: status.PhaseFailed, Icon: "❌", Label: "Page creation failed"})
		o.toast("Error: " + userMessage(err))
		return api.CreatePageResponse{}, err
	}
	o.cfg.Status.Update(status.Status{Phase: status.PhaseCompleted, Icon: "✅", Label: "Page created"})
	o.toast("✅ Page created")

	if _, err := o.cfg.Selection.ReloadTargets(ctx); err != nil {
		o.toast("Failed to load targets: " + userMessage(err))
		return page, err
	}
	o.emit(Event{Kind: EventTarget})
	if page.ID != "" {
		if err := o.SelectTarget(ctx, page.ID); err != nil {
			return page, err
		}
	}
	return page, nil
}

// ViewContent fetches the current target's content. Database rows are kept
// as the preview that feeds option suggestions. A fetch overtaken by a target
// switch returns selection.ErrSuperseded and leaves the new form untouched.
func (o *Orchestrator) ViewContent(ctx context.Context) (api.Content, error) {
	cur := o.cfg.Selection.Current()
	if cur.ID == "" {
		return api.Content{}, o.reject(apperr.Validation("select a target first"))
	}

	content, err := o.cfg.Backend.Content(ctx, cur.ID, cur.Kind)
	if err != nil {
		o.cfg.Logger.Warn().Err(err).Str("target", cur.ID).Msg("view content")
		o.toast("Could not load the preview")
		return api.Content{}, err
	}

	// The form now belongs to another target.
	if o.cfg.Selection.Current().ID != cur.ID {
		o.cfg.Logger.Debug().Str("target", cur.ID).Msg("drop stale content preview")
		return api.Content{}, selection.ErrSuperseded
	}

	o.mu.Lock()
	o.preview = nil
	if content.Type == api.KindDatabase {
		c := content
		o.preview = &c
	}
	o.mu.Unlock()

	if content.Type == api.KindDatabase {
		o.cfg.Selection.Form().SetPreview(content.Rows)
		o.emit(Event{Kind: EventForm})
	}
	return content, nil
}
