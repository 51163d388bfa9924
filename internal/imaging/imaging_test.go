package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"

	"memoai/internal/apperr"
)

func pngOf(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return &buf
}

func TestFit(t *testing.T) {
	cases := []struct {
		w, h, wantW, wantH int
	}{
		{4000, 3000, 600, 450},
		{3000, 4000, 450, 600},
		{1000, 1000, 600, 600},
		{500, 200, 500, 200},
		{601, 3, 600, 3},
		{10000, 1, 600, 1},
	}
	for _, tc := range cases {
		w, h := Fit(tc.w, tc.h, 600)
		if w != tc.wantW || h != tc.wantH {
			t.Fatalf("Fit(%d,%d) = %dx%d, want %dx%d", tc.w, tc.h, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestCompressScalesDownToJPEG(t *testing.T) {
	got, err := Compress(pngOf(t, 1200, 800), 600, 0.7)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if got.MimeType != MimeJPEG || got.Width != 600 || got.Height != 400 {
		t.Fatalf("unexpected result %s %dx%d", got.MimeType, got.Width, got.Height)
	}
	raw, err := base64.StdEncoding.DecodeString(got.Base64)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if cfg.Width != 600 || cfg.Height != 400 {
		t.Fatalf("jpeg is %dx%d", cfg.Width, cfg.Height)
	}
	if !strings.HasPrefix(got.DataURL(), "data:image/jpeg;base64,") {
		t.Fatalf("unexpected data url prefix")
	}
}

func TestCompressKeepsSmallImages(t *testing.T) {
	got, err := Compress(pngOf(t, 120, 80), 600, 0.7)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if got.Width != 120 || got.Height != 80 {
		t.Fatalf("small image was resized to %dx%d", got.Width, got.Height)
	}
}

// hugePNG is a valid 1x1 PNG whose header claims w x h.
func hugePNG(t *testing.T, w, h uint32) *bytes.Buffer {
	t.Helper()
	raw := pngOf(t, 1, 1).Bytes()
	// IHDR: length at 8, type at 12, width/height at 16 and 20, crc at 29.
	binary.BigEndian.PutUint32(raw[16:], w)
	binary.BigEndian.PutUint32(raw[20:], h)
	binary.BigEndian.PutUint32(raw[29:], crc32.ChecksumIEEE(raw[12:29]))
	return bytes.NewBuffer(raw)
}

func TestCompressRejectsOversizedHeader(t *testing.T) {
	_, err := Compress(hugePNG(t, 40000, 40000), 600, 0.7)
	var decErr *apperr.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !strings.Contains(err.Error(), "40000x40000") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCompressRejectsGarbage(t *testing.T) {
	_, err := Compress(strings.NewReader("definitely not an image"), 600, 0.7)
	var decErr *apperr.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestSlotTakeIsAtomic(t *testing.T) {
	var s Slot
	s.Stage(PendingImage{Base64: "AAAA", MimeType: MimeJPEG})

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Take(); ok {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if taken != 1 {
		t.Fatalf("image taken %d times", taken)
	}
	if s.Staged() {
		t.Fatalf("slot must be empty after take")
	}
}

func TestSlotDiscard(t *testing.T) {
	var s Slot
	s.Stage(PendingImage{Base64: "A"})
	if _, ok := s.Peek(); !ok {
		t.Fatalf("peek must see staged image")
	}
	s.Discard()
	if _, ok := s.Take(); ok {
		t.Fatalf("discarded image was taken")
	}
}
