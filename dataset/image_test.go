package dataset_test

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/erfnet/dataset"
)

// labelImage paints the left half with class a and the right half with class b.
func labelImage(w, h int, a, b uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := a
			if x >= w/2 {
				v = b
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func writePNG(t *testing.T, filename string, img image.Image) {
	t.Helper()
	f, err := os.Create(filename)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestReadImage(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "img.png")
	writePNG(t, filename, imaging.New(12, 8, color.NRGBA{255, 0, 0, 255}))

	img, err := dataset.ReadImage(filename)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(12, 8), img.Bounds().Size())

	_, err = dataset.ReadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestImageToTensor(t *testing.T) {
	img := imaging.New(40, 30, color.NRGBA{255, 0, 51, 255})
	x := dataset.ImageToTensor(img, 24, 32)
	defer x.MustDrop()

	assert.Equal(t, []int64{3, 24, 32}, x.MustSize())

	vals := x.Float64Values()
	n := 24 * 32
	assert.InDelta(t, 1.0, vals[0], 1e-6)
	assert.InDelta(t, 0.0, vals[n], 1e-6)
	assert.InDelta(t, 0.2, vals[2*n+n-1], 1e-6)
}

func TestLabelValues(t *testing.T) {
	vals := dataset.LabelValues(labelImage(16, 8, 3, 255), 4, 8)
	require.Len(t, vals, 32)
	for row := 0; row < 4; row++ {
		for col := 0; col < 8; col++ {
			want := int64(3)
			if col >= 4 {
				want = 255
			}
			assert.Equal(t, want, vals[row*8+col])
		}
	}

	lbl := dataset.LabelToTensor(labelImage(16, 8, 1, 2), 4, 8)
	defer lbl.MustDrop()
	assert.Equal(t, []int64{4, 8}, lbl.MustSize())
}

func TestPaletteAndColorize(t *testing.T) {
	pal := dataset.Palette(21)
	require.Len(t, pal, 21)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, pal[0])
	assert.Equal(t, color.RGBA{128, 0, 0, 255}, pal[1])
	assert.Equal(t, color.RGBA{0, 128, 0, 255}, pal[2])

	seen := map[color.Color]bool{}
	for _, c := range pal {
		assert.False(t, seen[c], "palette colors must be distinct")
		seen[c] = true
	}

	mask := dataset.Colorize([]int64{0, 1, 2, 99, 1, 0}, 2, 3, pal)
	assert.Equal(t, image.Pt(3, 2), mask.Bounds().Size())
	assert.Equal(t, uint8(1), mask.ColorIndexAt(1, 0))
	assert.Equal(t, uint8(0), mask.ColorIndexAt(0, 1), "out of range class stays background")
}

func TestSaveMask(t *testing.T) {
	pal := dataset.Palette(3)
	mask := dataset.Colorize([]int64{1, 2, 2, 1}, 2, 2, pal)

	filename := filepath.Join(t.TempDir(), "mask.png")
	require.NoError(t, dataset.SaveMask(filename, mask, image.Pt(8, 6)))

	img, err := dataset.ReadImage(filename)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 6), img.Bounds().Size())

	r, g, b, _ := img.At(0, 0).RGBA()
	wr, wg, wb, _ := pal[1].RGBA()
	assert.Equal(t, []uint32{wr, wg, wb}, []uint32{r, g, b})
}
