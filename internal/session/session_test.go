package session

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoai/internal/api"
	"memoai/internal/apperr"
	"memoai/internal/cache"
	"memoai/internal/chat"
	"memoai/internal/form"
	"memoai/internal/selection"
	"memoai/internal/settings"
	"memoai/internal/status"
	"memoai/internal/storage"
)

const (
	defaultTargets = `{"targets":[
		{"id":"a","title":"Tasks","type":"database"},
		{"id":"p","title":"Journal","type":"page"}
	]}`
	tasksSchema = `{"schema":{
		"Name":{"type":"title"},
		"Status":{"type":"select","select":{"options":[{"name":"Todo"},{"name":"Done"}]}},
		"Notes":{"type":"rich_text"}
	}}`
	modelsBody = `{"all":[
		{"id":"t1","provider":"acme","name":"Text One","supports_vision":false},
		{"id":"v1","provider":"acme","name":"Vision One","supports_vision":true}
	],"defaults":{"text":"t1","multimodal":"v1"}}`
)

// backend is a scripted memo server.
type backend struct {
	mu sync.Mutex

	targets string
	content map[string]string

	chatStatus  int
	chatBody    string
	chatGate    chan struct{}
	chatEntered chan struct{}
	chats       []map[string]any

	saveStatus int
	saveBody   string
	saves      []map[string]any

	pageBody      string
	targetsAfter  string
	contentStatus int

	contentGate    chan struct{}
	contentEntered chan struct{}
}

func newBackend() *backend {
	return &backend{
		targets:    defaultTargets,
		content:    map[string]string{},
		chatStatus: http.StatusOK,
		chatBody:   `{"message":"ok","model":"t1","usage":{"total_tokens":12},"cost":0.00042}`,
		saveStatus: http.StatusOK,
		saveBody:   `{"status":"ok"}`,
	}
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	path := r.URL.Path
	switch {
	case path == api.PathTargets:
		body := b.targets
		b.mu.Unlock()
		_, _ = w.Write([]byte(body))
	case path == api.SchemaPath("a"), path == api.SchemaPath("b"):
		b.mu.Unlock()
		_, _ = w.Write([]byte(tasksSchema))
	case path == api.PathModels:
		b.mu.Unlock()
		_, _ = w.Write([]byte(modelsBody))
	case strings.HasPrefix(path, api.PathContent):
		body, ok := b.content[path]
		gate, entered := b.contentGate, b.contentEntered
		b.mu.Unlock()
		if entered != nil {
			entered <- struct{}{}
		}
		if gate != nil {
			<-gate
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	case path == api.PathChat:
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		b.chats = append(b.chats, payload)
		gate, entered := b.chatGate, b.chatEntered
		status, body := b.chatStatus, b.chatBody
		b.mu.Unlock()
		if entered != nil {
			entered <- struct{}{}
		}
		if gate != nil {
			<-gate
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	case path == api.PathSave:
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		b.saves = append(b.saves, payload)
		status, body := b.saveStatus, b.saveBody
		b.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	case path == api.PathCreatePage:
		if b.targetsAfter != "" {
			b.targets = b.targetsAfter
		}
		body := b.pageBody
		b.mu.Unlock()
		_, _ = w.Write([]byte(body))
	default:
		b.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *backend) lastChat(t *testing.T) map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.chats)
	return b.chats[len(b.chats)-1]
}

type harness struct {
	o     *Orchestrator
	store *storage.MemoryStore

	mu     sync.Mutex
	events []Event
}

func (h *harness) toasts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if e.Kind == EventToast {
			out = append(out, e.Toast)
		}
	}
	return out
}

func (h *harness) phases() []status.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []status.Phase
	for _, e := range h.events {
		if e.Kind == EventStatus && e.Status.Visible {
			out = append(out, e.Status.Phase)
		}
	}
	return out
}

func newHarness(t *testing.T, b *backend) *harness {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	client := api.New(api.Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	set := settings.New(settings.Config{Store: store})
	sel := selection.New(selection.Config{
		Backend:  client,
		Cache:    cache.New(cache.Config{Store: store, HTTP: srv.Client()}),
		Settings: set,
		Form:     form.New(zerolog.Nop()),
	})
	o := New(Config{
		Backend:   client,
		History:   chat.New(chat.Config{Store: store}),
		Settings:  set,
		Selection: sel,
		Status:    status.NewIndicator(time.Hour),
	})

	h := &harness{o: o, store: store}
	o.Subscribe(func(e Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	o.Start(context.Background())
	return h
}

func selected(t *testing.T, b *backend, id string) *harness {
	t.Helper()
	h := newHarness(t, b)
	require.NoError(t, h.o.SelectTarget(context.Background(), id))
	return h
}

func TestSendTextOnlyUsesAutoModel(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "a")
	ctx := context.Background()
	h.o.SetDraft(ctx, "buy milk")

	require.NoError(t, h.o.Send(ctx, "buy milk"))

	payload := b.lastChat(t)
	assert.Nil(t, payload["model"])
	assert.Nil(t, payload["image_data"])
	assert.Equal(t, "a", payload["target_id"])
	assert.Equal(t, settings.DefaultSystemPrompt, payload["system_prompt"])
	assert.Empty(t, payload["session_history"])

	entries := h.o.History().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, chat.KindUser, entries[0].Kind)
	assert.Equal(t, chat.KindAI, entries[1].Kind)
	require.NotNil(t, entries[1].ModelInfo)
	assert.Equal(t, 12, entries[1].ModelInfo.Usage.TotalTokens)

	assert.Equal(t, "", h.o.Draft(ctx))
	assert.InDelta(t, 0.00042, h.o.Cost(), 1e-9)
	assert.Equal(t, "$0.00042", FormatCost(h.o.Cost()))
	assert.Equal(t, []status.Phase{
		status.PhasePreparing,
		status.PhaseAnalyzing,
		status.PhaseUploading,
		status.PhaseProcessingResponse,
		status.PhaseCompleted,
	}, h.phases())
}

func TestSendContextExcludesCurrentMessage(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "a")
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		h.o.History().Append(ctx, chat.Entry{Kind: chat.KindUser, Body: "q"})
		h.o.History().Append(ctx, chat.Entry{Kind: chat.KindAI, Body: "a"})
	}
	h.o.History().Append(ctx, chat.Entry{Kind: chat.KindUser, Body: "last<br>line"})
	require.NoError(t, h.o.Send(ctx, "now"))

	history, ok := b.lastChat(t)["session_history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 10)
	last := history[9].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Equal(t, "last\nline", last["content"])
}

func TestSendRejectsWithoutTextOrTarget(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	ctx := context.Background()

	err := h.o.Send(ctx, "hello")
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, h.o.SelectTarget(ctx, "a"))
	err = h.o.Send(ctx, "   ")
	assert.True(t, apperr.IsValidation(err))

	assert.Empty(t, h.phases())
	assert.Equal(t, 0, h.o.History().Len())
	assert.Len(t, h.toasts(), 2)
	b.mu.Lock()
	assert.Empty(t, b.chats)
	b.mu.Unlock()
}

func TestSendWhileInFlightIsRejected(t *testing.T) {
	b := newBackend()
	b.chatGate = make(chan struct{})
	b.chatEntered = make(chan struct{}, 1)
	h := selected(t, b, "a")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.o.Send(ctx, "first") }()
	<-b.chatEntered

	err := h.o.Send(ctx, "second")
	assert.True(t, apperr.IsValidation(err))

	close(b.chatGate)
	require.NoError(t, <-done)
	assert.Equal(t, 2, h.o.History().Len())
}

func TestSendFailureAddsSystemEntry(t *testing.T) {
	b := newBackend()
	b.chatStatus = http.StatusInternalServerError
	b.chatBody = `{"detail":{"message":"quota exceeded"}}`
	h := selected(t, b, "a")
	ctx := context.Background()

	require.Error(t, h.o.Send(ctx, "hello"))

	entries := h.o.History().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, chat.KindSystem, entries[1].Kind)
	assert.Equal(t, "Error: quota exceeded", entries[1].Body)
	cur := h.o.Status().Current()
	assert.Equal(t, status.PhaseFailed, cur.Phase)
	assert.True(t, cur.Visible)
	assert.Contains(t, h.toasts(), "Error: quota exceeded")
	assert.Zero(t, h.o.Cost())
}

func TestSendWithImageTakesStagedImage(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "a")
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 900, 300))))
	img, err := h.o.StageImage(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 600, img.Width)
	assert.Equal(t, 200, img.Height)

	require.NoError(t, h.o.Send(ctx, ""))
	payload := b.lastChat(t)
	assert.Equal(t, img.Base64, payload["image_data"])
	assert.Equal(t, "image/jpeg", payload["image_mime_type"])
	assert.Nil(t, payload["model"])
	assert.False(t, h.o.Slot().Staged())

	h.mu.Lock()
	var analyzing status.Status
	for _, e := range h.events {
		if e.Kind == EventStatus && e.Status.Phase == status.PhaseAnalyzing {
			analyzing = e.Status
		}
	}
	h.mu.Unlock()
	assert.Equal(t, "v1", analyzing.Detail["model"])
	assert.Equal(t, "Analyzing... ([acme] Vision One)", analyzing.Label)

	user := h.o.History().Entries()[0]
	assert.Contains(t, user.Body, `<img src="data:image/jpeg;base64,`)
	assert.Equal(t, chat.ImageMarker, user.Plain())
}

func TestSendExplicitModel(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "a")
	ctx := context.Background()
	require.NoError(t, h.o.Selection().SetModel(ctx, "t1"))

	require.NoError(t, h.o.Send(ctx, "x"))
	assert.Equal(t, "t1", b.lastChat(t)["model"])
}

func TestCostAccumulatesAndSurvivesClear(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "a")
	ctx := context.Background()

	require.NoError(t, h.o.Send(ctx, "one"))
	require.NoError(t, h.o.Send(ctx, "two"))
	h.o.ClearSession(ctx)

	assert.Equal(t, 0, h.o.History().Len())
	assert.Empty(t, h.o.History().RebuildContext())
	assert.Equal(t, "$0.00084", FormatCost(h.o.Cost()))
	_, err := h.store.Get(ctx, chat.KeyHistory)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSendAutofillsForm(t *testing.T) {
	b := newBackend()
	b.chatBody = `{"message":"done","model":"t1","properties":{
		"Name":{"title":[{"text":{"content":"🥛 Buy milk"}}]},
		"Status":{"select":{"name":"Todo"}}
	}}`
	h := selected(t, b, "a")

	require.NoError(t, h.o.Send(context.Background(), "milk"))

	f := h.o.Selection().Form()
	name, _ := f.Widget("Name")
	assert.Equal(t, "🥛 Buy milk", name.Text)
	st, _ := f.Widget("Status")
	assert.Equal(t, []string{"Todo"}, st.Selected)
	assert.NotEmpty(t, h.o.History().Entries()[1].Properties)
}

func TestSendIncludesReferenceContext(t *testing.T) {
	b := newBackend()
	b.content[api.ContentPath("a", api.KindDatabase)] = `{"type":"database","columns":["Name"],"rows":[{"id":"r1","Name":"Walk dog"}]}`
	h := selected(t, b, "a")
	ctx := context.Background()
	h.o.Settings().SetReferencePage(ctx, true)

	require.NoError(t, h.o.Send(ctx, "x"))
	ref, _ := b.lastChat(t)["reference_context"].(string)
	assert.Equal(t, "<reference: existing entries>\nName: Walk dog\n\n</reference: existing entries>", ref)
}

func TestSaveDraft(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "a")
	ctx := context.Background()
	require.NoError(t, h.o.Selection().Form().SetText("Name", "Call mom"))
	h.o.SetDraft(ctx, "call mom tonight")

	require.NoError(t, h.o.SaveDraft(ctx))

	b.mu.Lock()
	require.Len(t, b.saves, 1)
	save := b.saves[0]
	b.mu.Unlock()
	assert.Equal(t, "call mom tonight", save["text"])
	assert.Equal(t, "database", save["target_type"])
	props := save["properties"].(map[string]any)
	assert.Contains(t, props, "Name")

	entries := h.o.History().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, chat.KindSystem, entries[0].Kind)
	assert.Equal(t, "", h.o.Draft(ctx))
	assert.Contains(t, h.toasts(), "Saved")
}

func TestSaveDraftErrorKeepsDraft(t *testing.T) {
	b := newBackend()
	b.saveStatus = http.StatusBadRequest
	b.saveBody = `{"detail":{"field":"Name"}}`
	h := selected(t, b, "a")
	ctx := context.Background()
	h.o.SetDraft(ctx, "keep me")

	require.Error(t, h.o.SaveDraft(ctx))
	assert.Equal(t, "keep me", h.o.Draft(ctx))
	toasts := h.toasts()
	require.NotEmpty(t, toasts)
	assert.True(t, strings.HasPrefix(toasts[len(toasts)-1], "Error: [save error 400]\n{"))
}

func TestSaveEntry(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "a")
	ctx := context.Background()
	h.o.History().Append(ctx, chat.Entry{Kind: chat.KindAI, Body: "Walk the dog<br>at 7"})
	h.o.History().Append(ctx, chat.Entry{Kind: chat.KindSystem, Body: "noise"})

	require.NoError(t, h.o.SaveEntry(ctx, 0))
	assert.True(t, apperr.IsValidation(h.o.SaveEntry(ctx, 1)))
	assert.True(t, apperr.IsValidation(h.o.SaveEntry(ctx, 7)))

	b.mu.Lock()
	require.Len(t, b.saves, 1)
	save := b.saves[0]
	b.mu.Unlock()
	assert.Equal(t, "Walk the dog\nat 7", save["text"])
	props := save["properties"].(map[string]any)
	title := props["Name"].(map[string]any)["title"].([]any)[0].(map[string]any)
	assert.Equal(t, "Walk the dog\nat 7", title["text"].(map[string]any)["content"])
}

func TestSaveEntryToPageSendsNoProperties(t *testing.T) {
	b := newBackend()
	h := selected(t, b, "p")
	ctx := context.Background()
	h.o.History().Append(ctx, chat.Entry{Kind: chat.KindUser, Body: "thought"})

	require.NoError(t, h.o.SaveEntry(ctx, 0))
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, "page", b.saves[0]["target_type"])
	assert.Empty(t, b.saves[0]["properties"])
}

func TestCreatePageSelectsNewPage(t *testing.T) {
	b := newBackend()
	b.pageBody = `{"id":"n1","title":"Ideas"}`
	b.targetsAfter = `{"targets":[{"id":"a","title":"Tasks","type":"database"},{"id":"n1","title":"Ideas","type":"page"}]}`
	h := selected(t, b, "a")
	ctx := context.Background()

	_, err := h.o.CreatePage(ctx, "   ")
	assert.True(t, apperr.IsValidation(err))

	page, err := h.o.CreatePage(ctx, "Ideas")
	require.NoError(t, err)
	assert.Equal(t, "n1", page.ID)

	cur := h.o.Selection().Current()
	assert.Equal(t, "n1", cur.ID)
	assert.Equal(t, api.KindPage, cur.Kind)
	_, ok := h.o.Selection().Lookup("n1")
	assert.True(t, ok)
}

func TestViewContentFeedsSuggestions(t *testing.T) {
	b := newBackend()
	b.content[api.ContentPath("a", api.KindDatabase)] = `{"type":"database","columns":["Name","Status"],"rows":[{"Name":"x","Status":"Blocked"}]}`
	h := selected(t, b, "a")

	content, err := h.o.ViewContent(context.Background())
	require.NoError(t, err)
	assert.Len(t, content.Rows, 1)
	_, ok := h.o.Preview()
	assert.True(t, ok)

	st, _ := h.o.Selection().Form().Widget("Status")
	last := st.Options[len(st.Options)-1]
	assert.Equal(t, "Blocked", last.Value)
	assert.True(t, last.Derived)
}

func TestViewContentDroppedAfterTargetSwitch(t *testing.T) {
	b := newBackend()
	b.targets = `{"targets":[
		{"id":"a","title":"Tasks","type":"database"},
		{"id":"b","title":"Chores","type":"database"}
	]}`
	b.content[api.ContentPath("a", api.KindDatabase)] = `{"type":"database","columns":["Status"],"rows":[{"Status":"OnlyInA"}]}`
	b.contentGate = make(chan struct{})
	b.contentEntered = make(chan struct{}, 1)
	h := selected(t, b, "a")
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := h.o.ViewContent(ctx)
		errc <- err
	}()
	<-b.contentEntered

	require.NoError(t, h.o.SelectTarget(ctx, "b"))
	close(b.contentGate)
	assert.ErrorIs(t, <-errc, selection.ErrSuperseded)

	assert.Equal(t, "b", h.o.Selection().Current().ID)
	_, ok := h.o.Preview()
	assert.False(t, ok)
	st, found := h.o.Selection().Form().Widget("Status")
	require.True(t, found)
	for _, opt := range st.Options {
		assert.NotEqual(t, "OnlyInA", opt.Value)
	}
}

func TestReselectKeepsPreview(t *testing.T) {
	b := newBackend()
	b.content[api.ContentPath("a", api.KindDatabase)] = `{"type":"database","columns":["Status"],"rows":[{"Status":"Blocked"}]}`
	h := selected(t, b, "a")
	ctx := context.Background()

	_, err := h.o.ViewContent(ctx)
	require.NoError(t, err)
	require.NoError(t, h.o.SelectTarget(ctx, "a"))

	_, ok := h.o.Preview()
	assert.True(t, ok)
	st, _ := h.o.Selection().Form().Widget("Status")
	last := st.Options[len(st.Options)-1]
	assert.Equal(t, "Blocked", last.Value)
	assert.True(t, last.Derived)
}

func TestStartWarnsOnDanglingModel(t *testing.T) {
	b := newBackend()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	store := storage.NewMemoryStore()
	set := settings.New(settings.Config{Store: store})
	set.SetSelectedModel(ctx, "retired")
	set.SetLastTarget(ctx, "a")
	client := api.New(api.Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	sel := selection.New(selection.Config{
		Backend:  client,
		Cache:    cache.New(cache.Config{Store: store, HTTP: srv.Client()}),
		Settings: set,
	})
	o := New(Config{Backend: client, History: chat.New(chat.Config{Store: store}), Settings: set, Selection: sel})

	var toasts []string
	o.Subscribe(func(e Event) {
		if e.Kind == EventToast {
			toasts = append(toasts, e.Toast)
		}
	})
	o.Start(ctx)

	require.Len(t, toasts, 1)
	assert.Contains(t, toasts[0], "retired")
	assert.Equal(t, "a", sel.Current().ID)
}
