package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
)

// ReadImage reads image from file.
func ReadImage(filename string) (image.Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %q", filename)
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tiff", ".tif":
		img, err = tiff.Decode(f)
	default:
		img, err = imaging.Decode(f, imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %q", filename)
	}

	return img, nil
}

// ImageToTensor resizes img to (h, w) and converts it to a float tensor
// [3 h w] with values in [0, 1].
func ImageToTensor(img image.Image, h, w int) *ts.Tensor {
	rgba := imaging.Resize(img, w, h, imaging.Linear)

	n := h * w
	vals := make([]float32, 3*n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := rgba.PixOffset(x, y)
			p := y*w + x
			vals[p] = float32(rgba.Pix[i]) / 255
			vals[n+p] = float32(rgba.Pix[i+1]) / 255
			vals[2*n+p] = float32(rgba.Pix[i+2]) / 255
		}
	}

	return ts.MustOfSlice(vals).MustView([]int64{3, int64(h), int64(w)}, true)
}

// LabelValues resizes a label image to (h, w) with nearest neighbour
// interpolation and returns its gray values as class indices.
func LabelValues(img image.Image, h, w int) []int64 {
	resized := resize.Resize(uint(w), uint(h), img, resize.NearestNeighbor)
	b := resized.Bounds()

	vals := make([]int64, 0, h*w)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(resized.At(x, y)).(color.Gray)
			vals = append(vals, int64(g.Y))
		}
	}

	return vals
}

// LabelToTensor converts a label image to an int64 tensor [h w].
func LabelToTensor(img image.Image, h, w int) *ts.Tensor {
	return ts.MustOfSlice(LabelValues(img, h, w)).MustView([]int64{int64(h), int64(w)}, true)
}

// Palette returns a deterministic color per class.
func Palette(numClasses int) color.Palette {
	pal := make(color.Palette, numClasses)
	for i := 0; i < numClasses; i++ {
		// bit-interleaved colormap, same as PASCAL VOC
		var r, g, b uint8
		c := i
		for j := 0; j < 8; j++ {
			r |= uint8((c>>0)&1) << (7 - j)
			g |= uint8((c>>1)&1) << (7 - j)
			b |= uint8((c>>2)&1) << (7 - j)
			c >>= 3
		}
		pal[i] = color.RGBA{r, g, b, 255}
	}

	return pal
}

// Colorize paints class indices of an (h, w) prediction with the palette.
func Colorize(pred []int64, h, w int, pal color.Palette) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	for i, c := range pred {
		if c < 0 || int(c) >= len(pal) {
			continue
		}
		img.Pix[i] = uint8(c)
	}

	return img
}

// SaveMask writes a colorized mask as png, scaled to size with nearest neighbour.
func SaveMask(filename string, mask image.Image, size image.Point) error {
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), mask, mask.Bounds(), draw.Src, nil)

	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create mask file %q", filename)
	}
	defer f.Close()

	if err := png.Encode(f, dst); err != nil {
		return errors.Wrapf(err, "encode mask %q", filename)
	}

	return nil
}
