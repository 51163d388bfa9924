package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"memoai/internal/api"
	"memoai/internal/apperr"
	"memoai/internal/chat"
	"memoai/internal/imaging"
	"memoai/internal/metrics"
	"memoai/internal/selection"
	"memoai/internal/settings"
	"memoai/internal/status"
)

// Backend is the part of the API client the orchestrator drives.
type Backend interface {
	Chat(ctx context.Context, req api.ChatRequest) (api.ChatResponse, error)
	Save(ctx context.Context, req api.SaveRequest) error
	CreatePage(ctx context.Context, name string) (api.CreatePageResponse, error)
	Content(ctx context.Context, id, kind string) (api.Content, error)
}

type Config struct {
	Backend   Backend
	History   *chat.History
	Settings  *settings.Store
	Selection *selection.State
	Status    *status.Indicator
	Slot      *imaging.Slot

	ContextLimit      int
	ImageMaxDimension int
	ImageQuality      float64
	ImageReadyFor     time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator runs user actions against the session state: sending notes
// to the AI, saving entries, creating pages and previewing content.
type Orchestrator struct {
	cfg Config

	sending atomic.Bool

	mu        sync.Mutex
	cost      float64
	preview   *api.Content
	listeners []func(Event)
}

func New(cfg Config) *Orchestrator {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = chat.DefaultContextLimit
	}
	if cfg.ImageMaxDimension <= 0 {
		cfg.ImageMaxDimension = imaging.DefaultMaxDimension
	}
	if cfg.ImageQuality <= 0 {
		cfg.ImageQuality = imaging.DefaultQuality
	}
	if cfg.ImageReadyFor <= 0 {
		cfg.ImageReadyFor = 2 * time.Second
	}
	if cfg.Slot == nil {
		cfg.Slot = &imaging.Slot{}
	}
	if cfg.Status == nil {
		cfg.Status = status.NewIndicator(status.DefaultHideAfter)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	o := &Orchestrator{cfg: cfg}
	cfg.History.OnChange(func(entries []chat.Entry) {
		o.emit(Event{Kind: EventHistory, History: entries})
	})
	cfg.Status.OnChange(func(s status.Status) {
		o.emit(Event{Kind: EventStatus, Status: s})
	})
	return o
}

func (o *Orchestrator) History() *chat.History { return o.cfg.History }
func (o *Orchestrator) Settings() *settings.Store { return o.cfg.Settings }
func (o *Orchestrator) Selection() *selection.State { return o.cfg.Selection }
func (o *Orchestrator) Status() *status.Indicator { return o.cfg.Status }
func (o *Orchestrator) Slot() *imaging.Slot { return o.cfg.Slot }

// Start restores persisted state: history, target list, last target and the
// model catalog. Failures of the remote parts are reported as toasts.
func (o *Orchestrator) Start(ctx context.Context) {
	o.cfg.History.Load(ctx)

	if _, err := o.cfg.Selection.LoadTargets(ctx); err != nil {
		o.toast("Failed to load targets: " + userMessage(err))
	} else if err := o.cfg.Selection.RestoreLastTarget(ctx); err != nil && !errors.Is(err, selection.ErrSuperseded) {
		o.toast("Failed to load schema: " + userMessage(err))
	} else {
		o.emit(Event{Kind: EventTarget})
	}

	warning, err := o.cfg.Selection.LoadModels(ctx)
	switch {
	case err != nil:
		o.cfg.Logger.Warn().Err(err).Msg("load models")
		o.toast("Failed to load the model list")
	case warning != "":
		o.toast(warning)
	}
}

// SelectTarget switches the current target. A change overtaken by a newer
// one is not an error.
func (o *Orchestrator) SelectTarget(ctx context.Context, id string) error {
	prev := o.cfg.Selection.Current().ID
	err := o.cfg.Selection.SelectTarget(ctx, id)
	switch {
	case errors.Is(err, selection.ErrSuperseded):
		return nil
	case err != nil:
		o.toast("Failed to load schema: " + userMessage(err))
		return err
	}
	// Reselecting the same target keeps the preview, as the form does.
	if prev != id {
		o.mu.Lock()
		o.preview = nil
		o.mu.Unlock()
	}
	o.emit(Event{Kind: EventTarget})
	o.emit(Event{Kind: EventForm})
	return nil
}

func (o *Orchestrator) SetDraft(ctx context.Context, text string) {
	o.cfg.Settings.SaveDraft(ctx, text)
}

func (o *Orchestrator) Draft(ctx context.Context) string {
	return o.cfg.Settings.Draft(ctx)
}

// ClearSession empties the conversation. The session cost is kept.
func (o *Orchestrator) ClearSession(ctx context.Context) {
	o.cfg.History.Clear(ctx)
	o.toast("Session cleared")
}

func (o *Orchestrator) Cost() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cost
}

func FormatCost(c float64) string {
	return fmt.Sprintf("$%.5f", c)
}

func (o *Orchestrator) addCost(c float64) {
	if c <= 0 {
		return
	}
	o.mu.Lock()
	o.cost += c
	total := o.cost
	o.mu.Unlock()
	o.cfg.Metrics.SessionCost.Add(c)
	o.emit(Event{Kind: EventCost, Cost: total})
}

// Preview returns the last database content preview, if any.
func (o *Orchestrator) Preview() (api.Content, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.preview == nil {
		return api.Content{}, false
	}
	return *o.preview, true
}

func (o *Orchestrator) reject(err error) error {
	o.toast(err.Error())
	return err
}

func (o *Orchestrator) toast(msg string) {
	o.emit(Event{Kind: EventToast, Toast: msg})
}

// userMessage prefers the server-provided detail over the generic error text.
func userMessage(err error) string {
	var httpErr *apperr.HTTPError
	if errors.As(err, &httpErr) && httpErr.Body != "" {
		return httpErr.Body
	}
	return err.Error()
}
