package pspnet

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/base"
	"github.com/sugarme/erfnet/encoder"
)

const (
	pyramidChannels int64 = 32
	fusedChannels   int64 = 256
	bnMomentum            = 0.95

	// alignCorners follows the bilinear upsampling of the torch version the
	// reference checkpoints were trained with.
	alignCorners = true
)

// Rounding is how fractional pyramid pooling windows are made integer.
type Rounding int

const (
	// RoundNearest rounds half away from zero (7.5 -> 8).
	RoundNearest Rounding = iota
	// Truncate rounds toward zero (7.5 -> 7).
	Truncate
)

// PyramidWindows returns the four pooling windows base/1, base/2, base/4 and base/8.
// base is the (H, W) of the coarsest window.
func PyramidWindows(base [2]int64, rounding Rounding) [][2]int64 {
	divs := []float64{1, 2, 4, 8}
	windows := make([][2]int64, len(divs))
	for i, div := range divs {
		for axis := 0; axis < 2; axis++ {
			v := float64(base[axis]) / div
			var w int64
			switch rounding {
			case Truncate:
				w = int64(v)
			default:
				w = int64(math.Round(v))
			}
			if w < 1 {
				w = 1
			}
			windows[i][axis] = w
		}
	}

	return windows
}

// upsample bilinearly resizes x to size (H, W).
func upsample(x *ts.Tensor, size []int64) *ts.Tensor {
	return x.MustUpsampleBilinear2d(size, alignCorners, nil, nil, false)
}

// PSPDec is a pyramid pooling branch: avg-pool at a fixed window, 1x1 conv,
// batchnorm and ReLU, upsampled back to the input spatial size.
type PSPDec struct {
	downsize []int64
	features *nn.SequentialT
}

// NewPSPDec creates PSPDec. Variables sit under `features.1` (conv) and `features.2` (bn).
func NewPSPDec(p *nn.Path, inFeatures, outFeatures int64, downsize [2]int64) *PSPDec {
	if downsize[0] < 1 || downsize[1] < 1 {
		panic(errors.Errorf("pspdec: invalid pooling window %v", downsize))
	}

	return &PSPDec{
		downsize: []int64{downsize[0], downsize[1]},
		features: base.Conv2dBNRelu(p.Sub("features"), 1, inFeatures, outFeatures, 1, 0, bnMomentum),
	}
}

// ForwardT implements ts.ModuleT for PSPDec.
func (d *PSPDec) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	size := x.MustSize()
	if size[2] < d.downsize[0] || size[3] < d.downsize[1] {
		panic(errors.Errorf("pspdec: pooling window %v larger than feature map %v", d.downsize, size[2:]))
	}

	// divisor = window area, same as count_include_pad with zero padding.
	divisor := []int64{d.downsize[0] * d.downsize[1]}
	pooled := x.MustAvgPool2d(d.downsize, d.downsize, []int64{0, 0}, false, true, divisor, false)
	feat := d.features.ForwardT(pooled, train)
	pooled.MustDrop()
	up := upsample(feat, size[2:])
	feat.MustDrop()

	return up
}

// Window returns the pooling window (H, W).
func (d *PSPDec) Window() [2]int64 {
	return [2]int64{d.downsize[0], d.downsize[1]}
}

// DecoderConfig holds PSP decoder hyperparameters.
type DecoderConfig struct {
	// PoolBase is the coarsest pooling window (H, W).
	PoolBase [2]int64
	// Rounding of finer pooling windows.
	Rounding Rounding
	// Dropout before the classifier conv. 0 disables it.
	Dropout float64
	// OutputSize is the (H, W) of the returned logits.
	OutputSize [2]int64
}

// Decoder fuses the encoder features with four pyramid pooling branches and
// returns class logits at OutputSize.
type Decoder struct {
	pyramid    []*PSPDec
	final      *nn.SequentialT
	outputSize []int64
}

// NewDecoder creates Decoder.
func NewDecoder(p *nn.Path, numClasses int64, cfg DecoderConfig) *Decoder {
	if numClasses < 1 {
		panic(errors.Errorf("decoder: invalid number of classes %d", numClasses))
	}
	if cfg.OutputSize[0] < 1 || cfg.OutputSize[1] < 1 {
		panic(errors.Errorf("decoder: invalid output size %v", cfg.OutputSize))
	}

	names := []string{"layer5a", "layer5b", "layer5c", "layer5d"}
	windows := PyramidWindows(cfg.PoolBase, cfg.Rounding)
	pyramid := make([]*PSPDec, len(windows))
	for i, w := range windows {
		pyramid[i] = NewPSPDec(p.Sub(names[i]), encoder.FeatureChannels, pyramidChannels, w)
	}

	cIn := encoder.FeatureChannels + int64(len(pyramid))*pyramidChannels
	fp := p.Sub("final")
	final := base.Conv2dBNRelu(fp, 0, cIn, fusedChannels, 3, 1, bnMomentum)
	if cfg.Dropout != 0 {
		final.Add(base.NewDropout(cfg.Dropout))
	}
	final.Add(base.Conv2d(fp.Sub("4"), fusedChannels, numClasses, 1, 0, 1))

	return &Decoder{
		pyramid:    pyramid,
		final:      final,
		outputSize: []int64{cfg.OutputSize[0], cfg.OutputSize[1]},
	}
}

// ForwardT implements ts.ModuleT for Decoder.
func (d *Decoder) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	size := x.MustSize()
	if len(size) != 4 || size[1] != encoder.FeatureChannels {
		panic(errors.Errorf("decoder: expected input of shape [B %d H W], got %v", encoder.FeatureChannels, size))
	}

	feats := []ts.Tensor{*x}
	branches := make([]*ts.Tensor, len(d.pyramid))
	for i, l := range d.pyramid {
		branches[i] = l.ForwardT(x, train)
		feats = append(feats, *branches[i])
	}
	cat := ts.MustCat(feats, 1)
	for _, b := range branches {
		b.MustDrop()
	}

	logits := d.final.ForwardT(cat, train)
	cat.MustDrop()
	out := upsample(logits, d.outputSize)
	logits.MustDrop()

	return out
}

// Windows returns pooling windows of the pyramid branches.
func (d *Decoder) Windows() [][2]int64 {
	windows := make([][2]int64, len(d.pyramid))
	for i, l := range d.pyramid {
		windows[i] = l.Window()
	}
	return windows
}

func (d *Decoder) String() string {
	return fmt.Sprintf("Decoder(windows=%v, output=%v)", d.Windows(), d.outputSize)
}
