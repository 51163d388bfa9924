package status

import (
	"testing"
	"time"
)

func waitHidden(t *testing.T, in *Indicator, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if !in.Current().Visible {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status still visible after %s", within)
}

func TestCompletedHidesAfterDelay(t *testing.T) {
	in := NewIndicator(30 * time.Millisecond)
	in.Update(Status{Phase: PhaseCompleted, Icon: "✅", Label: "done"})
	if !in.Current().Visible {
		t.Fatalf("completed status must be visible at first")
	}
	waitHidden(t, in, time.Second)
	if in.Current().Phase != PhaseCompleted {
		t.Fatalf("hiding must keep the phase")
	}
}

func TestFailedPersists(t *testing.T) {
	in := NewIndicator(10 * time.Millisecond)
	in.Update(Status{Phase: PhaseFailed, Label: "boom"})
	time.Sleep(50 * time.Millisecond)
	if !in.Current().Visible {
		t.Fatalf("failed status must stay visible")
	}
}

func TestNewerStatusCancelsHide(t *testing.T) {
	in := NewIndicator(20 * time.Millisecond)
	in.Update(Status{Phase: PhaseCompleted})
	in.Update(Status{Phase: PhasePreparing})
	time.Sleep(60 * time.Millisecond)
	cur := in.Current()
	if !cur.Visible || cur.Phase != PhasePreparing {
		t.Fatalf("unexpected status %+v", cur)
	}
}

func TestListenersSeeEveryChange(t *testing.T) {
	in := NewIndicator(time.Hour)
	var phases []Phase
	in.OnChange(func(s Status) { phases = append(phases, s.Phase) })

	in.Update(Status{Phase: PhasePreparing})
	in.Update(Status{Phase: PhaseAnalyzing})
	in.Hide()

	if len(phases) != 3 || phases[1] != PhaseAnalyzing {
		t.Fatalf("unexpected notifications %v", phases)
	}
}

func TestFlash(t *testing.T) {
	in := NewIndicator(time.Hour)
	in.Flash(Status{Phase: PhaseBusy, Label: "image ready"}, 20*time.Millisecond)
	waitHidden(t, in, time.Second)
}
