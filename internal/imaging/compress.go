package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"memoai/internal/apperr"
)

const (
	DefaultMaxDimension = 600
	DefaultQuality      = 0.7

	MimeJPEG = "image/jpeg"

	maxInputBytes  = 32 << 20
	maxInputPixels = 64 << 20
)

// PendingImage is an encoded image ready to be attached to a chat request.
type PendingImage struct {
	Base64   string
	MimeType string
	Width    int
	Height   int
}

func (p PendingImage) DataURL() string {
	return "data:" + p.MimeType + ";base64," + p.Base64
}

// Compress decodes r, shrinks it so that the longer side is at most
// maxDimension and re-encodes it as JPEG. Smaller images keep their size.
// Images whose header declares more than maxInputPixels are refused before
// decoding.
func Compress(r io.Reader, maxDimension int, quality float64) (PendingImage, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 1 {
		quality = DefaultQuality
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxInputBytes))
	if err != nil {
		return PendingImage{}, &apperr.DecodeError{Op: "read image", Err: err}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return PendingImage{}, &apperr.DecodeError{Op: "decode image", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxInputPixels {
		return PendingImage{}, &apperr.DecodeError{
			Op:  "decode image",
			Err: fmt.Errorf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxInputPixels),
		}
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return PendingImage{}, &apperr.DecodeError{Op: "decode image", Err: err}
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxDimension)

	// JPEG has no alpha; transparent pixels end up white.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	scaler := draw.Interpolator(draw.CatmullRom)
	if w == b.Dx() && h == b.Dy() {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: int(math.Round(quality * 100))}); err != nil {
		return PendingImage{}, &apperr.DecodeError{Op: fmt.Sprintf("encode %s as jpeg", format), Err: err}
	}

	return PendingImage{
		Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType: MimeJPEG,
		Width:    w,
		Height:   h,
	}, nil
}

// Fit returns the target size for a w x h image bounded by max on both
// sides, keeping the aspect ratio.
func Fit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w > h {
		return max, roundDiv(h*max, w)
	}
	return roundDiv(w*max, h), max
}

func roundDiv(a, b int) int {
	n := int(math.Round(float64(a) / float64(b)))
	if n < 1 {
		return 1
	}
	return n
}
