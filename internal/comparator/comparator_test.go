package comparator_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigildev/vigil/internal/comparator"
)

// encodePNG renders a width x height image where paint decides each pixel.
func encodePNG(t *testing.T, width, height int, paint func(x, y int) color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, paint(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solid(c color.RGBA) func(x, y int) color.RGBA {
	return func(int, int) color.RGBA { return c }
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

func TestDiff_IdenticalImagesZeroRatio(t *testing.T) {
	img := encodePNG(t, 50, 50, solid(white))

	res, err := comparator.NewPixel().Diff(img, img)
	require.NoError(t, err)
	assert.Zero(t, res.DiffRatio)
	assert.NotEmpty(t, res.DiffImage)
}

// 4 of 100 pixels differ: the ratio must be exactly 0.04.
func TestDiff_CountsDifferingPixels(t *testing.T) {
	base := encodePNG(t, 10, 10, solid(white))
	current := encodePNG(t, 10, 10, func(x, y int) color.RGBA {
		if y == 0 && x < 4 {
			return black
		}
		return white
	})

	res, err := comparator.NewPixel().Diff(base, current)
	require.NoError(t, err)
	assert.InDelta(t, 0.04, res.DiffRatio, 1e-9)
}

func TestDiff_ToleranceAbsorbsJitter(t *testing.T) {
	base := encodePNG(t, 10, 10, solid(color.RGBA{100, 100, 100, 255}))
	jittered := encodePNG(t, 10, 10, solid(color.RGBA{104, 98, 101, 255}))

	res, err := comparator.NewPixel().Diff(base, jittered)
	require.NoError(t, err)
	assert.Zero(t, res.DiffRatio)

	strict := &comparator.Pixel{Tolerance: 0}
	res, err = strict.Diff(base, jittered)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.DiffRatio)
}

func TestDiff_DimensionMismatch(t *testing.T) {
	base := encodePNG(t, 10, 10, solid(white))
	current := encodePNG(t, 10, 20, solid(white))

	res, err := comparator.NewPixel().Diff(base, current)
	assert.Nil(t, res)

	var mismatch *comparator.DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 10, mismatch.BaselineWidth)
	assert.Equal(t, 20, mismatch.CurrentHeight)
}

func TestDiff_RejectsGarbageInput(t *testing.T) {
	valid := encodePNG(t, 5, 5, solid(white))

	_, err := comparator.NewPixel().Diff([]byte("not a png"), valid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline")

	_, err = comparator.NewPixel().Diff(valid, []byte("not a png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "current")

	var mismatch *comparator.DimensionMismatchError
	assert.False(t, errors.As(err, &mismatch))
}

// The diff image marks exactly the differing region in red.
func TestDiff_DiffImageHighlightsChanges(t *testing.T) {
	base := encodePNG(t, 10, 10, solid(white))
	current := encodePNG(t, 10, 10, func(x, y int) color.RGBA {
		if x == 3 && y == 7 {
			return black
		}
		return white
	})

	res, err := comparator.NewPixel().Diff(base, current)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(res.DiffImage))
	require.NoError(t, err)

	r, g, b, _ := decoded.At(3, 7).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	// An unchanged pixel is not pure red.
	_, g2, _, _ := decoded.At(0, 0).RGBA()
	assert.NotZero(t, g2)
}
