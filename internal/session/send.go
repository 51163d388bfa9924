package session

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"memoai/internal/api"
	"memoai/internal/apperr"
	"memoai/internal/chat"
	"memoai/internal/imaging"
	"memoai/internal/status"
)

// Send runs one AI round trip for text and the staged image. Only one send
// may be in flight; the others are rejected before touching any state.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	if !o.sending.CompareAndSwap(false, true) {
		o.cfg.Metrics.Sends.WithLabelValues("rejected").Inc()
		return o.reject(apperr.Validation("a message is already being sent"))
	}
	defer o.sending.Store(false)

	if text == "" && !o.cfg.Slot.Staged() {
		o.cfg.Metrics.Sends.WithLabelValues("rejected").Inc()
		return o.reject(apperr.Validation("enter some text or attach an image"))
	}
	cur := o.cfg.Selection.Current()
	if cur.ID == "" {
		o.cfg.Metrics.Sends.WithLabelValues("rejected").Inc()
		return o.reject(apperr.Validation("select a target first"))
	}

	o.cfg.Status.Update(status.Status{
		Phase:  status.PhasePreparing,
		Icon:   "📝",
		Label:  "Preparing message...",
		Detail: map[string]any{"step": string(status.PhasePreparing)},
	})

	history := o.cfg.History.Context(o.cfg.ContextLimit)

	img, hasImage := o.cfg.Slot.Take()
	dataURL := ""
	if hasImage {
		dataURL = img.DataURL()
	}
	o.cfg.History.Append(ctx, chat.Entry{Kind: chat.KindUser, Body: chat.DisplayBody(text, dataURL)})
	o.cfg.Settings.ClearDraft(ctx)

	explicit := o.cfg.Selection.SelectedModel()
	modelToUse := o.cfg.Selection.ResolveModelForSend(hasImage)
	o.cfg.Status.Update(status.Status{
		Phase: status.PhaseAnalyzing,
		Icon:  "🔄",
		Label: "Analyzing... (" + o.cfg.Selection.ModelDisplay(modelToUse) + ")",
		Detail: map[string]any{
			"model":        modelToUse,
			"hasImage":     hasImage,
			"autoSelected": explicit == "",
			"step":         string(status.PhaseAnalyzing),
		},
	})

	reference := ""
	if o.cfg.Settings.ReferencePage(ctx) {
		reference = o.ReferenceContext(ctx)
	}

	req := api.ChatRequest{
		Text:             text,
		TargetID:         cur.ID,
		SystemPrompt:     cur.Prompt,
		SessionHistory:   history,
		ReferenceContext: reference,
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = o.cfg.Settings.Prompt(ctx, cur.ID)
	}
	if hasImage {
		req.ImageData = &img.Base64
		req.ImageMimeType = &img.MimeType
	}
	if explicit != "" {
		req.Model = &explicit
	}

	o.cfg.Status.Update(status.Status{
		Phase:  status.PhaseUploading,
		Icon:   "📡",
		Label:  "Sending to server...",
		Detail: map[string]any{"step": string(status.PhaseUploading)},
	})
	o.cfg.Logger.Debug().
		Str("target", cur.ID).
		Str("model", modelToUse).
		Bool("image", hasImage).
		Int("history", len(history)).
		Int("reference_len", len(reference)).
		Msg("chat request")

	resp, err := o.cfg.Backend.Chat(ctx, req)

	o.cfg.Status.Update(status.Status{
		Phase:  status.PhaseProcessingResponse,
		Icon:   "📥",
		Label:  "Processing response...",
		Detail: map[string]any{"step": string(status.PhaseProcessingResponse)},
	})
	if err != nil {
		o.fail(ctx, err)
		return err
	}

	o.addCost(resp.Cost)
	o.cfg.Status.Update(status.Status{
		Phase:  status.PhaseCompleted,
		Icon:   "✅",
		Label:  "Completed (" + o.cfg.Selection.ModelDisplay(resp.Model) + ")",
		Detail: map[string]any{"usage": resp.Usage, "cost": resp.Cost},
	})

	if resp.Message != "" {
		var props json.RawMessage
		if len(resp.Properties) > 0 {
			props, _ = json.Marshal(resp.Properties)
		}
		o.cfg.History.Append(ctx, chat.Entry{
			Kind:       chat.KindAI,
			Body:       resp.Message,
			Properties: props,
			ModelInfo:  &chat.ModelInfo{Model: resp.Model, Usage: resp.Usage, Cost: resp.Cost},
		})
	}

	if len(resp.Properties) > 0 {
		if failed := o.cfg.Selection.Form().Autofill(resp.Properties); len(failed) > 0 {
			o.cfg.Logger.Warn().Strs("fields", failed).Msg("autofill skipped fields")
		}
		o.emit(Event{Kind: EventForm})
	}

	o.cfg.Metrics.Sends.WithLabelValues("ok").Inc()
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	msg := userMessage(err)
	o.cfg.Metrics.Sends.WithLabelValues("failed").Inc()
	o.cfg.Logger.Error().Err(err).Msg("chat send")
	o.cfg.Status.Update(status.Status{
		Phase:  status.PhaseFailed,
		Icon:   "❌",
		Label:  "Error",
		Detail: map[string]any{"error": msg},
	})
	o.cfg.History.Append(ctx, chat.Entry{Kind: chat.KindSystem, Body: "Error: " + msg})
	o.toast("Error: " + msg)
}

// StageImage compresses r and holds it for the next send, replacing any
// image staged before.
func (o *Orchestrator) StageImage(ctx context.Context, r io.Reader) (imaging.PendingImage, error) {
	o.cfg.Status.Update(status.Status{Phase: status.PhaseBusy, Icon: "🗜️", Label: "Compressing image..."})

	img, err := imaging.Compress(r, o.cfg.ImageMaxDimension, o.cfg.ImageQuality)
	if err != nil {
		o.cfg.Logger.Warn().Err(err).Msg("compress image")
		o.cfg.Status.Update(status.Status{
			Phase:  status.PhaseFailed,
			Icon:   "❌",
			Label:  "Image could not be read",
			Detail: map[string]any{"error": err.Error()},
		})
		o.toast("Failed to load the image")
		return imaging.PendingImage{}, err
	}

	o.cfg.Slot.Stage(img)
	o.cfg.Metrics.ImagesStaged.Inc()
	o.cfg.Status.Flash(status.Status{
		Phase:  status.PhaseBusy,
		Icon:   "🖼️",
		Label:  "Image ready",
		Detail: map[string]any{"width": img.Width, "height": img.Height, "bytes": len(img.Base64) * 3 / 4},
	}, o.cfg.ImageReadyFor)
	return img, nil
}

func (o *Orchestrator) DiscardImage() {
	o.cfg.Slot.Discard()
}
