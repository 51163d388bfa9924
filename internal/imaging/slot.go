package imaging

import "sync"

// Slot holds at most one staged image until a send takes it.
type Slot struct {
	mu  sync.Mutex
	img *PendingImage
}

func (s *Slot) Stage(img PendingImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = &img
}

// Take returns the staged image and empties the slot in one step.
func (s *Slot) Take() (PendingImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return PendingImage{}, false
	}
	img := *s.img
	s.img = nil
	return img, true
}

func (s *Slot) Peek() (PendingImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return PendingImage{}, false
	}
	return *s.img, true
}

func (s *Slot) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
}

func (s *Slot) Staged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img != nil
}
