package pspnet

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/encoder"
)

// Mode selects what Net.Forward returns.
type Mode int

const (
	// ModeFull runs encoder features through the decoder.
	ModeFull Mode = iota
	// ModeEncode returns the encoder classifier output at 1/8 resolution.
	ModeEncode
)

// Variant bundles encoder and decoder configs of one ERFNet-PSP network.
type Variant struct {
	Name    string
	Encoder encoder.EncoderConfig
	Decoder DecoderConfig
	// InputSize is the (H, W) the network is deployed at.
	InputSize [2]int64
}

// SequentialVariant is ERFNet with sequentially dilated context blocks,
// producing 480x640 logits.
func SequentialVariant() Variant {
	return Variant{
		Name:    "sequential",
		Encoder: encoder.SequentialEncoderConfig(),
		Decoder: DecoderConfig{
			PoolBase:   [2]int64{30, 40},
			Rounding:   RoundNearest,
			Dropout:    0.0,
			OutputSize: [2]int64{480, 640},
		},
		InputSize: [2]int64{480, 640},
	}
}

// HierarchicalVariant is ERFNet with two hierarchical context blocks,
// producing 240x320 logits.
func HierarchicalVariant() Variant {
	return Variant{
		Name:    "hierarchical",
		Encoder: encoder.HierarchicalEncoderConfig(),
		Decoder: DecoderConfig{
			PoolBase:   [2]int64{30, 40},
			Rounding:   Truncate,
			Dropout:    0.1,
			OutputSize: [2]int64{240, 320},
		},
		InputSize: [2]int64{240, 320},
	}
}

// VariantByName returns a preset variant: "sequential" or "hierarchical" ("hier").
func VariantByName(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case "sequential", "seq":
		return SequentialVariant(), nil
	case "hierarchical", "hier", "hier42":
		return HierarchicalVariant(), nil
	default:
		return Variant{}, errors.Errorf("unknown variant %q. Expected 'sequential' or 'hierarchical'", name)
	}
}

// Net is ERFNet encoder with a pyramid scene parsing decoder.
// Ref. https://ieeexplore.ieee.org/document/8063438
type Net struct {
	encoder encoder.Encoder
	decoder *Decoder
	variant Variant
}

// NewNet creates Net. An optional (e.g. pretrained) encoder can be injected,
// otherwise a fresh ERFNet encoder is created under `encoder`.
func NewNet(p *nn.Path, numClasses int64, variant Variant, encoderOpt ...encoder.Encoder) *Net {
	var enc encoder.Encoder
	if len(encoderOpt) > 0 && encoderOpt[0] != nil {
		enc = encoderOpt[0]
	} else {
		enc = encoder.NewERFNetEncoder(p.Sub("encoder"), numClasses, variant.Encoder)
	}
	if enc.Channels() != encoder.FeatureChannels {
		panic(errors.Errorf("net: encoder produces %d channels, decoder expects %d", enc.Channels(), encoder.FeatureChannels))
	}

	return &Net{
		encoder: enc,
		decoder: NewDecoder(p.Sub("decoder"), numClasses, variant.Decoder),
		variant: variant,
	}
}

// Forward forwards x in the given mode.
func (n *Net) Forward(x *ts.Tensor, mode Mode, train bool) *ts.Tensor {
	if mode == ModeEncode {
		return n.encoder.Predict(x, train)
	}

	features := n.encoder.ForwardT(x, train)
	out := n.decoder.ForwardT(features, train)
	features.MustDrop()

	return out
}

// ForwardT implements ts.ModuleT for Net in full mode.
func (n *Net) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return n.Forward(x, ModeFull, train)
}

// Encoder returns the network encoder.
func (n *Net) Encoder() encoder.Encoder {
	return n.encoder
}

// Decoder returns the network decoder.
func (n *Net) Decoder() *Decoder {
	return n.decoder
}

// Variant returns the variant the network was built from.
func (n *Net) Variant() Variant {
	return n.variant
}

// ValidateInput checks an input shape [B 3 H W] against the network: H and W
// must be multiples of 8 and the 1/8 feature map must fit the coarsest
// pooling window.
func (n *Net) ValidateInput(size []int64) error {
	if len(size) != 4 {
		return errors.Errorf("expected 4D input [B C H W], got %v", size)
	}
	if size[1] != 3 {
		return errors.Errorf("expected 3 input channels, got %d", size[1])
	}
	h, w := size[2], size[3]
	if h%8 != 0 || w%8 != 0 {
		return errors.Errorf("input height and width must be multiples of 8, got %dx%d", h, w)
	}
	win := n.decoder.Windows()[0]
	if h/8 < win[0] || w/8 < win[1] {
		return errors.Errorf("input %dx%d too small for pooling window %v (need at least %dx%d)", h, w, win, win[0]*8, win[1]*8)
	}

	return nil
}
