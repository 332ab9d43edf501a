// Package comparator implements pixel-level image comparison between a
// baseline and a current capture.
package comparator

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Result is the outcome of diffing two equal-sized images.
type Result struct {
	// DiffRatio is the fraction of pixels that differ, in [0, 1].
	DiffRatio float64
	// DiffImage is a PNG highlighting the differing pixels.
	DiffImage []byte
}

// DimensionMismatchError reports that the two images cannot be compared
// because their pixel dimensions differ. It is a hard error for the affected
// target; the baseline is left untouched.
type DimensionMismatchError struct {
	BaselineWidth, BaselineHeight int
	CurrentWidth, CurrentHeight   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("image dimensions do not match: baseline %dx%d vs current %dx%d",
		e.BaselineWidth, e.BaselineHeight, e.CurrentWidth, e.CurrentHeight)
}

// Comparator diffs two images and reports the fraction of differing pixels.
type Comparator interface {
	Diff(baseline, current []byte) (*Result, error)
}

// Pixel is a per-pixel RGBA comparator. Pixels whose channels all fall
// within Tolerance are considered equal, absorbing sub-perceptual
// anti-aliasing jitter between renders.
type Pixel struct {
	// Tolerance is the maximum per-channel delta (0-255) still counted as
	// equal. Zero demands exact equality.
	Tolerance uint8
}

// NewPixel returns a comparator with a small default tolerance.
func NewPixel() *Pixel {
	return &Pixel{Tolerance: 8}
}

// Diff decodes both PNGs, verifies the dimensions match and counts differing
// pixels. The returned diff image paints differing pixels red over a
// faded-out copy of the baseline.
func (p *Pixel) Diff(baseline, current []byte) (*Result, error) {
	baseImg, err := decode(baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to decode baseline image: %w", err)
	}
	curImg, err := decode(current)
	if err != nil {
		return nil, fmt.Errorf("failed to decode current image: %w", err)
	}

	bb, cb := baseImg.Bounds(), curImg.Bounds()
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		return nil, &DimensionMismatchError{
			BaselineWidth: bb.Dx(), BaselineHeight: bb.Dy(),
			CurrentWidth: cb.Dx(), CurrentHeight: cb.Dy(),
		}
	}

	width, height := bb.Dx(), bb.Dy()
	diffImg := image.NewRGBA(image.Rect(0, 0, width, height))
	drawFaded(diffImg, baseImg)

	differing := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			bp := baseImg.RGBAAt(bb.Min.X+x, bb.Min.Y+y)
			cp := curImg.RGBAAt(cb.Min.X+x, cb.Min.Y+y)
			if !p.equal(bp, cp) {
				differing++
				diffImg.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			}
		}
	}

	total := width * height
	ratio := 0.0
	if total > 0 {
		ratio = float64(differing) / float64(total)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, diffImg); err != nil {
		return nil, fmt.Errorf("failed to encode diff image: %w", err)
	}

	return &Result{DiffRatio: ratio, DiffImage: buf.Bytes()}, nil
}

func (p *Pixel) equal(a, b color.RGBA) bool {
	return delta(a.R, b.R) <= p.Tolerance &&
		delta(a.G, b.G) <= p.Tolerance &&
		delta(a.B, b.B) <= p.Tolerance &&
		delta(a.A, b.A) <= p.Tolerance
}

func delta(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// decode normalizes any decoded image to RGBA for uniform pixel access.
func decode(data []byte) (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, img.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

// drawFaded renders src at reduced opacity so highlighted pixels stand out.
func drawFaded(dst *image.RGBA, src *image.RGBA) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			px := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
			dst.SetRGBA(x, y, color.RGBA{
				R: px.R/2 + 96,
				G: px.G/2 + 96,
				B: px.B/2 + 96,
				A: 255,
			})
		}
	}
}
