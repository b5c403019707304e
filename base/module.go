package base

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Dropout zeroes single elements with probability p during training.
type Dropout struct {
	p float64
}

// NewDropout creates Dropout.
func NewDropout(p float64) *Dropout {
	return &Dropout{p}
}

// ForwardT implements ts.ModuleT for Dropout.
func (d *Dropout) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return ts.MustDropout(x, d.p, train)
}

// Prob returns dropout probability.
func (d *Dropout) Prob() float64 {
	return d.p
}

// Dropout2D zeroes whole channels with probability p during training.
type Dropout2D struct {
	p float64
}

// NewDropout2D creates Dropout2D.
func NewDropout2D(p float64) *Dropout2D {
	return &Dropout2D{p}
}

// ForwardT implements ts.ModuleT for Dropout2D.
func (d *Dropout2D) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return ts.MustFeatureDropout(x, d.p, train)
}

// Prob returns dropout probability.
func (d *Dropout2D) Prob() float64 {
	return d.p
}

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv2dNoBias creates Conv2D with no bias.
func Conv2dNoBias(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Bias = false
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// FactorizedConv creates a stride-1 Conv2D with a rectangular kernel (e.g. 3x1 or 1x3)
// and per-axis padding and dilation. Kernel, padding and dilation are in (H, W) order.
//
// Bias is created with the default zero init.
func FactorizedConv(p *nn.Path, cIn, cOut int64, kernel, padding, dilation [2]int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Padding = []int64{padding[0], padding[1]}
	config.Dilation = []int64{dilation[0], dilation[1]}

	ws := p.NewVar("weight", []int64{cOut, cIn, kernel[0], kernel[1]}, config.WsInit)
	bs := p.NewVar("bias", []int64{cOut}, config.BsInit)

	return &nn.Conv2D{Ws: ws, Bs: bs, Config: config}
}

// BatchNorm creates a BatchNorm2D with the given epsilon.
func BatchNorm(p *nn.Path, c int64, eps float64) *nn.BatchNorm {
	config := nn.DefaultBatchNormConfig()
	config.Eps = eps

	return nn.BatchNorm2D(p, c, config)
}

// BatchNormMomentum creates a BatchNorm2D with the given running stats momentum.
func BatchNormMomentum(p *nn.Path, c int64, momentum float64) *nn.BatchNorm {
	config := nn.DefaultBatchNormConfig()
	config.Momentum = momentum

	return nn.BatchNorm2D(p, c, config)
}

// Conv2dBNRelu creates a SequentialT composing of Conv2D no bias, BatchNorm and a ReLU activation.
//
// Variables are indexed like a torch `nn.Sequential`: conv at `first`, batchnorm at `first+1`.
func Conv2dBNRelu(p *nn.Path, first, cIn, cOut, ksize, padding int64, bnMomentum float64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2dNoBias(p.Sub(fmt.Sprint(first)), cIn, cOut, ksize, padding, 1))
	seq.Add(BatchNormMomentum(p.Sub(fmt.Sprint(first+1)), cOut, bnMomentum))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}
