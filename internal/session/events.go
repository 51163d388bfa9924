package session

import (
	"memoai/internal/chat"
	"memoai/internal/status"
)

type EventKind int

const (
	EventHistory EventKind = iota
	EventStatus
	EventToast
	EventForm
	EventCost
	EventTarget
)

func (k EventKind) String() string {
	switch k {
	case EventHistory:
		return "history"
	case EventStatus:
		return "status"
	case EventToast:
		return "toast"
	case EventForm:
		return "form"
	case EventCost:
		return "cost"
	case EventTarget:
		return "target"
	default:
		return "unknown"
	}
}

// Event tells a view what changed. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	History []chat.Entry
	Status  status.Status
	Toast   string
	Cost    float64
}

// Subscribe registers fn for every session event. fn runs on the goroutine
// that caused the change, the status auto-hide timer included.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) emit(e Event) {
	o.mu.Lock()
	listeners := append([]func(Event){}, o.listeners...)
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}
