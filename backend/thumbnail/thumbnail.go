// Package thumbnail writes bounded-size JPEG previews of stored images.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/jgoldverg/imgdrop/backend/localfs"
	"github.com/jgoldverg/imgdrop/internal"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultSize    = 128
	DefaultQuality = 85
)

// Generator writes a preview of src to dst and reports success. Failure is
// never fatal to the caller.
type Generator interface {
	Generate(src, dst string) bool
}

// Resizer scales images to fit a square box, keeping aspect ratio and never
// enlarging.
type Resizer struct {
	MaxSide int
	Quality int
	Scaler  draw.Scaler
}

func NewResizer(maxSide int) *Resizer {
	if maxSide <= 0 {
		maxSide = DefaultSize
	}
	return &Resizer{
		MaxSide: maxSide,
		Quality: DefaultQuality,
		Scaler:  draw.CatmullRom,
	}
}

func (r *Resizer) Generate(src, dst string) bool {
	if err := r.generate(src, dst); err != nil {
		internal.Debug("thumbnail skipped", internal.Fields{
			internal.FieldFilename: src,
			internal.FieldError:    err.Error(),
		})
		return false
	}
	return true
}

func (r *Resizer) generate(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	bounds := img.Bounds()
	w, h := Fit(bounds.Dx(), bounds.Dy(), r.MaxSide)
	if w == 0 || h == 0 {
		return fmt.Errorf("empty %s image", format)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	r.Scaler.Scale(out, out.Bounds(), img, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: r.Quality}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return localfs.WriteFileAtomic(dst, buf.Bytes(), 0644)
}

// Fit returns the largest w x h no bigger than the source that fits in a
// maxSide square with the source's aspect ratio.
func Fit(w, h, maxSide int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= maxSide && h <= maxSide {
		return w, h
	}
	if w >= h {
		nh := h * maxSide / w
		if nh < 1 {
			nh = 1
		}
		return maxSide, nh
	}
	nw := w * maxSide / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxSide
}

var _ Generator = (*Resizer)(nil)
