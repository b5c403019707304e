package encoder

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/base"
)

// FeatureChannels is the channel count of the ERFNet encoder feature map.
const FeatureChannels int64 = 128

// ContextKind selects how the 128-channel context stage is composed.
type ContextKind int

const (
	// Sequential chains NonBottleneck1D blocks with cycling dilations.
	Sequential ContextKind = iota
	// Hierarchical stacks NonBottleneck1DHier blocks.
	Hierarchical
)

func (k ContextKind) String() string {
	switch k {
	case Sequential:
		return "sequential"
	case Hierarchical:
		return "hierarchical"
	default:
		return fmt.Sprintf("ContextKind(%d)", int(k))
	}
}

// EncoderConfig holds ERFNet encoder hyperparameters.
type EncoderConfig struct {
	Kind ContextKind

	// Stage1Dropout is the dropout of the five 64-channel blocks.
	Stage1Dropout float64
	// Stage2Dropout is the dropout of sequential 128-channel blocks.
	Stage2Dropout float64
	// Dilations is one cycle of sequential 128-channel block dilations.
	// Unused by Hierarchical, whose branch dilations are fixed.
	Dilations []int64
	// Repeats is number of dilation cycles (sequential) or hier blocks (hierarchical).
	Repeats int
}

// SequentialEncoderConfig returns config of the sequential-dilation encoder.
func SequentialEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Kind:          Sequential,
		Stage1Dropout: 0.0,
		Stage2Dropout: 0.0,
		Dilations:     []int64{2, 4, 8, 16},
		Repeats:       2,
	}
}

// HierarchicalEncoderConfig returns config of the hierarchical-dilation encoder.
func HierarchicalEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Kind:          Hierarchical,
		Stage1Dropout: 0.03,
		Repeats:       2,
	}
}

// ERFNetEncoder is the ERFNet feature extractor. Input is downsampled 8 times
// into a 128-channel feature map.
type ERFNetEncoder struct {
	initialBlock *DownsamplerBlock
	layers       []ts.ModuleT
	outputConv   *nn.SequentialT
	numClasses   int64
}

// NewERFNetEncoder creates ERFNetEncoder.
//
// Variables are named after the torch module tree: `initial_block`,
// `layers.<i>` and `output_conv`.
func NewERFNetEncoder(p *nn.Path, numClasses int64, cfg EncoderConfig) *ERFNetEncoder {
	if numClasses < 1 {
		panic(errors.Errorf("encoder: invalid number of classes %d", numClasses))
	}
	if cfg.Repeats < 1 {
		panic(errors.Errorf("encoder: invalid repeats %d", cfg.Repeats))
	}

	initial := NewDownsamplerBlock(p.Sub("initial_block"), 3, 16)

	lp := p.Sub("layers")
	var layers []ts.ModuleT
	next := func() *nn.Path {
		return lp.Sub(fmt.Sprint(len(layers)))
	}

	layers = append(layers, NewDownsamplerBlock(next(), 16, 64))
	for i := 0; i < 5; i++ {
		layers = append(layers, NewNonBottleneck1D(next(), 64, cfg.Stage1Dropout, 1))
	}
	layers = append(layers, NewDownsamplerBlock(next(), 64, FeatureChannels))

	switch cfg.Kind {
	case Sequential:
		if len(cfg.Dilations) == 0 {
			panic(errors.New("encoder: sequential context stage needs dilations"))
		}
		for r := 0; r < cfg.Repeats; r++ {
			for _, d := range cfg.Dilations {
				layers = append(layers, NewNonBottleneck1D(next(), FeatureChannels, cfg.Stage2Dropout, d))
			}
		}
	case Hierarchical:
		for r := 0; r < cfg.Repeats; r++ {
			layers = append(layers, NewNonBottleneck1DHier(next()))
		}
	default:
		panic(errors.Errorf("encoder: unsupported context kind %v", cfg.Kind))
	}

	return &ERFNetEncoder{
		initialBlock: initial,
		layers:       layers,
		outputConv:   base.NewSegmentationHead(p.Sub("output_conv"), FeatureChannels, numClasses, 1),
		numClasses:   numClasses,
	}
}

// Forward forwards input through the encoder. If predict is true the
// classifier is applied and output has numClasses channels.
func (e *ERFNetEncoder) Forward(x *ts.Tensor, predict, train bool) *ts.Tensor {
	out := e.initialBlock.ForwardT(x, train)
	for _, l := range e.layers {
		next := l.ForwardT(out, train)
		out.MustDrop()
		out = next
	}

	if !predict {
		return out
	}

	logits := e.outputConv.ForwardT(out, train)
	out.MustDrop()

	return logits
}

// ForwardT implements ts.ModuleT for ERFNetEncoder.
// It returns the 128-channel feature map.
func (e *ERFNetEncoder) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return e.Forward(x, false, train)
}

// Predict implements Encoder for ERFNetEncoder.
func (e *ERFNetEncoder) Predict(x *ts.Tensor, train bool) *ts.Tensor {
	return e.Forward(x, true, train)
}

// Channels implements Encoder for ERFNetEncoder.
func (e *ERFNetEncoder) Channels() int64 {
	return FeatureChannels
}

// NumClasses returns output channels of Predict.
func (e *ERFNetEncoder) NumClasses() int64 {
	return e.numClasses
}

// Layers returns the ordered layers following the initial block.
func (e *ERFNetEncoder) Layers() []ts.ModuleT {
	return e.layers
}
