package status

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhasePreparing          Phase = "preparing"
	PhaseAnalyzing          Phase = "analyzing"
	PhaseUploading          Phase = "uploading"
	PhaseProcessingResponse Phase = "processing_response"
	PhaseCompleted          Phase = "completed"
	PhaseFailed             Phase = "failed"

	// PhaseBusy covers actions outside the send cycle (saving, compressing).
	PhaseBusy Phase = "busy"
)

const DefaultHideAfter = 5 * time.Second

type Status struct {
	Phase   Phase
	Icon    string
	Label   string
	Detail  map[string]any
	Visible bool
}

// Indicator holds the single transient status line. Completed states hide
// themselves; failures stay until the next update.
type Indicator struct {
	hideAfter time.Duration

	mu        sync.Mutex
	current   Status
	seq       uint64
	timer     *time.Timer
	listeners []func(Status)
}

func NewIndicator(hideAfter time.Duration) *Indicator {
	if hideAfter <= 0 {
		hideAfter = DefaultHideAfter
	}
	return &Indicator{hideAfter: hideAfter, current: Status{Phase: PhaseIdle}}
}

func (in *Indicator) Update(s Status) {
	delay := time.Duration(0)
	if s.Phase == PhaseCompleted {
		delay = in.hideAfter
	}
	in.show(s, delay)
}

// Flash shows s and hides it after d regardless of phase.
func (in *Indicator) Flash(s Status, d time.Duration) {
	in.show(s, d)
}

func (in *Indicator) Hide() {
	in.mu.Lock()
	in.seq++
	in.stopTimerLocked()
	in.current.Visible = false
	snapshot := in.current
	in.mu.Unlock()
	in.notify(snapshot)
}

func (in *Indicator) Current() Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.current
}

func (in *Indicator) OnChange(fn func(Status)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.listeners = append(in.listeners, fn)
}

func (in *Indicator) show(s Status, hideAfter time.Duration) {
	s.Visible = true

	in.mu.Lock()
	in.seq++
	seq := in.seq
	in.stopTimerLocked()
	in.current = s
	if hideAfter > 0 {
		in.timer = time.AfterFunc(hideAfter, func() { in.expire(seq) })
	}
	in.mu.Unlock()

	in.notify(s)
}

// expire hides the status only if nothing newer was shown since.
func (in *Indicator) expire(seq uint64) {
	in.mu.Lock()
	if seq != in.seq {
		in.mu.Unlock()
		return
	}
	in.current.Visible = false
	in.timer = nil
	snapshot := in.current
	in.mu.Unlock()
	in.notify(snapshot)
}

func (in *Indicator) stopTimerLocked() {
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
}

func (in *Indicator) notify(s Status) {
	in.mu.Lock()
	listeners := append([]func(Status){}, in.listeners...)
	in.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}
