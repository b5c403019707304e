package encoder

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/base"
)

const bnEps = 1e-3

// DownsamplerBlock halves spatial resolution. A strided 3x3 conv producing
// nOutput-nInput channels is concatenated with a 2x2 max-pool of the input.
type DownsamplerBlock struct {
	conv    *nn.Conv2D
	bn      *nn.BatchNorm
	nOutput int64
}

// NewDownsamplerBlock creates DownsamplerBlock. It panics if nOutput <= nInput.
func NewDownsamplerBlock(p *nn.Path, nInput, nOutput int64) *DownsamplerBlock {
	if nInput < 1 || nOutput <= nInput {
		panic(errors.Errorf("downsampler: nOutput (%d) must exceed nInput (%d)", nOutput, nInput))
	}

	return &DownsamplerBlock{
		conv:    base.Conv2d(p.Sub("conv"), nInput, nOutput-nInput, 3, 1, 2),
		bn:      base.BatchNorm(p.Sub("bn"), nOutput, bnEps),
		nOutput: nOutput,
	}
}

// ForwardT implements ts.ModuleT for DownsamplerBlock.
func (d *DownsamplerBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	conv := d.conv.ForwardT(x, train)
	pool := x.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
	cat := ts.MustCat([]ts.Tensor{*conv, *pool}, 1)
	conv.MustDrop()
	pool.MustDrop()

	bn := d.bn.ForwardT(cat, train)
	cat.MustDrop()

	return bn.MustRelu(true)
}

// OutChannels returns the block's output channel count.
func (d *DownsamplerBlock) OutChannels() int64 {
	return d.nOutput
}

// forwardPair runs conv3x1 -> relu -> conv1x3 -> bn.
func forwardPair(conv3x1, conv1x3 *nn.Conv2D, bn *nn.BatchNorm, x *ts.Tensor, train bool) *ts.Tensor {
	v := conv3x1.ForwardT(x, train).MustRelu(true)
	h := conv1x3.ForwardT(v, train)
	v.MustDrop()
	out := bn.ForwardT(h, train)
	h.MustDrop()

	return out
}

func conv3x1(p *nn.Path, c, dilation int64) *nn.Conv2D {
	return base.FactorizedConv(p, c, c, [2]int64{3, 1}, [2]int64{dilation, 0}, [2]int64{dilation, 1})
}

func conv1x3(p *nn.Path, c, dilation int64) *nn.Conv2D {
	return base.FactorizedConv(p, c, c, [2]int64{1, 3}, [2]int64{0, dilation}, [2]int64{1, dilation})
}

// NonBottleneck1D is the ERFNet residual block: two factorized 3x1/1x3 conv pairs,
// the second one dilated, plus an identity shortcut.
type NonBottleneck1D struct {
	conv3x1First   *nn.Conv2D
	conv1x3First   *nn.Conv2D
	bn1            *nn.BatchNorm
	conv3x1Dilated *nn.Conv2D
	conv1x3Dilated *nn.Conv2D
	bn2            *nn.BatchNorm
	dropout        ts.ModuleT // nil if disabled
	dilated        int64
}

// NewNonBottleneck1D creates NonBottleneck1D with chann in/out channels.
// Dropout is only built when dropProb != 0.
func NewNonBottleneck1D(p *nn.Path, chann int64, dropProb float64, dilated int64) *NonBottleneck1D {
	if chann < 1 {
		panic(errors.Errorf("non_bottleneck_1d: invalid channel count %d", chann))
	}
	if dilated < 1 {
		panic(errors.Errorf("non_bottleneck_1d: invalid dilation %d", dilated))
	}

	b := &NonBottleneck1D{
		conv3x1First:   conv3x1(p.Sub("conv3x1_1"), chann, 1),
		conv1x3First:   conv1x3(p.Sub("conv1x3_1"), chann, 1),
		bn1:            base.BatchNorm(p.Sub("bn1"), chann, bnEps),
		conv3x1Dilated: conv3x1(p.Sub("conv3x1_2"), chann, dilated),
		conv1x3Dilated: conv1x3(p.Sub("conv1x3_2"), chann, dilated),
		bn2:            base.BatchNorm(p.Sub("bn2"), chann, bnEps),
		dilated:        dilated,
	}
	if dropProb != 0 {
		b.dropout = base.NewDropout2D(dropProb)
	}

	return b
}

// ForwardT implements ts.ModuleT for NonBottleneck1D.
func (b *NonBottleneck1D) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	stem := forwardPair(b.conv3x1First, b.conv1x3First, b.bn1, x, train).MustRelu(true)
	// NOTE. no ReLU between bn2 and the residual add, only the sum is rectified.
	out := forwardPair(b.conv3x1Dilated, b.conv1x3Dilated, b.bn2, stem, train)
	stem.MustDrop()

	if b.dropout != nil {
		dropped := b.dropout.ForwardT(out, train)
		out.MustDrop()
		out = dropped
	}

	return out.MustAdd(x, true).MustRelu(true)
}

// Dilation returns dilation of the second conv pair.
func (b *NonBottleneck1D) Dilation() int64 {
	return b.dilated
}

// HierChannels is the fixed width of NonBottleneck1DHier.
const HierChannels int64 = 128

// HierDilations are the branch dilations of NonBottleneck1DHier.
var HierDilations = []int64{2, 4, 8, 16}

const hierDropout = 0.3

type hierBranch struct {
	conv3x1 *nn.Conv2D
	conv1x3 *nn.Conv2D
}

// NonBottleneck1DHier fans a shared 3x1/1x3 stem out into four dilated branches
// whose outputs are summed with the block input.
//
// All branches are normalized by the same bn2 and share one dropout.
type NonBottleneck1DHier struct {
	conv3x1First *nn.Conv2D
	conv1x3First *nn.Conv2D
	bn1          *nn.BatchNorm
	branches     []hierBranch
	bn2          *nn.BatchNorm
	dropout      ts.ModuleT
}

// NewNonBottleneck1DHier creates NonBottleneck1DHier.
func NewNonBottleneck1DHier(p *nn.Path) *NonBottleneck1DHier {
	c := HierChannels
	branches := make([]hierBranch, len(HierDilations))
	for i, d := range HierDilations {
		branches[i] = hierBranch{
			conv3x1: conv3x1(p.Sub(fmt.Sprintf("conv3x1_2%d", d)), c, d),
			conv1x3: conv1x3(p.Sub(fmt.Sprintf("conv1x3_2%d", d)), c, d),
		}
	}

	return &NonBottleneck1DHier{
		conv3x1First: conv3x1(p.Sub("conv3x1_1"), c, 1),
		conv1x3First: conv1x3(p.Sub("conv1x3_1"), c, 1),
		bn1:          base.BatchNorm(p.Sub("bn1"), c, bnEps),
		branches:     branches,
		bn2:          base.BatchNorm(p.Sub("bn2"), c, bnEps),
		dropout:      base.NewDropout2D(hierDropout),
	}
}

// ForwardT implements ts.ModuleT for NonBottleneck1DHier.
func (b *NonBottleneck1DHier) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	stem := forwardPair(b.conv3x1First, b.conv1x3First, b.bn1, x, train).MustRelu(true)

	var sum *ts.Tensor
	for _, br := range b.branches {
		out := forwardPair(br.conv3x1, br.conv1x3, b.bn2, stem, train)
		dropped := b.dropout.ForwardT(out, train)
		out.MustDrop()
		if sum == nil {
			sum = dropped
			continue
		}
		sum = sum.MustAdd(dropped, true)
		dropped.MustDrop()
	}
	stem.MustDrop()

	return sum.MustAdd(x, true).MustRelu(true)
}

// SharedBN returns the batchnorm shared by all branches.
func (b *NonBottleneck1DHier) SharedBN() *nn.BatchNorm {
	return b.bn2
}
