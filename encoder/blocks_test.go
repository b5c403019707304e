package encoder

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

func zeroBN(t *testing.T, bn *nn.BatchNorm, c int64) {
	t.Helper()
	zeros := ts.MustZeros([]int64{c}, gotch.Float, gotch.CPU)
	ts.NoGrad(func() {
		bn.Ws.Copy_(zeros)
		bn.Bs.Copy_(zeros)
	})
	zeros.MustDrop()
}

func values(x *ts.Tensor) []float64 {
	return x.Float64Values()
}

func TestDownsamplerBlock(t *testing.T) {
	for _, tc := range []struct {
		nIn, nOut, h, w int64
	}{
		{3, 16, 32, 48},
		{16, 64, 16, 24},
		{64, 128, 8, 10},
	} {
		t.Run(fmt.Sprintf("%d-%d", tc.nIn, tc.nOut), func(t *testing.T) {
			vs := nn.NewVarStore(gotch.CPU)
			blk := NewDownsamplerBlock(vs.Root(), tc.nIn, tc.nOut)
			assert.Equal(t, tc.nOut, blk.OutChannels())

			x := ts.MustRand([]int64{2, tc.nIn, tc.h, tc.w}, gotch.Float, gotch.CPU)
			out := blk.ForwardT(x, false)
			assert.Equal(t, []int64{2, tc.nOut, tc.h / 2, tc.w / 2}, out.MustSize())

			for _, v := range values(out) {
				require.GreaterOrEqual(t, v, 0.0)
			}
			x.MustDrop()
			out.MustDrop()
		})
	}
}

func TestDownsamplerBlockInvalidChannels(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	assert.Panics(t, func() { NewDownsamplerBlock(vs.Root().Sub("a"), 16, 16) })
	assert.Panics(t, func() { NewDownsamplerBlock(vs.Root().Sub("b"), 64, 16) })
}

func TestNonBottleneck1DPreservesShape(t *testing.T) {
	sizes := [][2]int64{{8, 8}, {30, 40}, {12, 20}}
	for _, d := range []int64{1, 2, 4, 8, 16} {
		for _, s := range sizes {
			t.Run(fmt.Sprintf("d%d-%dx%d", d, s[0], s[1]), func(t *testing.T) {
				vs := nn.NewVarStore(gotch.CPU)
				blk := NewNonBottleneck1D(vs.Root(), 16, 0.0, d)
				assert.Equal(t, d, blk.Dilation())

				x := ts.MustRandn([]int64{1, 16, s[0], s[1]}, gotch.Float, gotch.CPU)
				out := blk.ForwardT(x, false)
				assert.Equal(t, x.MustSize(), out.MustSize())
				x.MustDrop()
				out.MustDrop()
			})
		}
	}
}

func TestNonBottleneck1DDropoutResolvedAtConstruction(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	assert.Nil(t, NewNonBottleneck1D(vs.Root().Sub("a"), 8, 0.0, 1).dropout)
	assert.NotNil(t, NewNonBottleneck1D(vs.Root().Sub("b"), 8, 0.03, 1).dropout)
}

func TestNonBottleneck1DInvalidArgs(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	assert.Panics(t, func() { NewNonBottleneck1D(vs.Root().Sub("a"), 8, 0, 0) })
	assert.Panics(t, func() { NewNonBottleneck1D(vs.Root().Sub("b"), 0, 0, 1) })
}

func TestNonBottleneck1DVariables(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	NewNonBottleneck1D(vs.Root(), 8, 0, 4)
	vars := vs.Variables()

	w := vars["conv3x1_2.weight"]
	assert.Equal(t, []int64{8, 8, 3, 1}, w.MustSize())
	w = vars["conv1x3_2.weight"]
	assert.Equal(t, []int64{8, 8, 1, 3}, w.MustSize())
	for _, name := range []string{"conv3x1_1.bias", "conv1x3_1.bias", "bn1.weight", "bn2.running_mean"} {
		_, ok := vars[name]
		assert.True(t, ok, name)
	}
}

// With bn2 zeroed, the second pair contributes nothing and the block is relu(x).
func TestNonBottleneck1DZeroResidualBranch(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	blk := NewNonBottleneck1D(vs.Root(), 8, 0, 2)
	zeroBN(t, blk.bn2, 8)

	x := ts.MustRandn([]int64{1, 8, 6, 6}, gotch.Float, gotch.CPU)
	out := blk.ForwardT(x, false)
	want := x.MustRelu(false)

	assert.InDeltaSlice(t, values(want), values(out), 1e-6)
}

func TestNonBottleneck1DHierPreservesShape(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	blk := NewNonBottleneck1DHier(vs.Root())

	for _, s := range [][2]int64{{30, 40}, {16, 16}, {60, 80}} {
		x := ts.MustRandn([]int64{1, HierChannels, s[0], s[1]}, gotch.Float, gotch.CPU)
		out := blk.ForwardT(x, false)
		assert.Equal(t, x.MustSize(), out.MustSize())
		x.MustDrop()
		out.MustDrop()
	}
}

func TestNonBottleneck1DHierSharesBN(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	NewNonBottleneck1DHier(vs.Root())
	vars := vs.Variables()

	var bnWeights []string
	for name := range vars {
		if strings.HasPrefix(name, "bn") && strings.HasSuffix(name, ".weight") {
			bnWeights = append(bnWeights, name)
		}
	}
	assert.ElementsMatch(t, []string{"bn1.weight", "bn2.weight"}, bnWeights)

	for _, d := range HierDilations {
		w := vars[fmt.Sprintf("conv3x1_2%d.weight", d)]
		assert.Equal(t, []int64{128, 128, 3, 1}, w.MustSize())
		w = vars[fmt.Sprintf("conv1x3_2%d.weight", d)]
		assert.Equal(t, []int64{128, 128, 1, 3}, w.MustSize())
	}
}

// Zero-valued branches summed with the input must yield relu(input).
func TestNonBottleneck1DHierZeroBranches(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	blk := NewNonBottleneck1DHier(vs.Root())
	zeroBN(t, blk.SharedBN(), HierChannels)

	x := ts.MustRandn([]int64{1, HierChannels, 8, 8}, gotch.Float, gotch.CPU)
	out := blk.ForwardT(x, false)
	want := x.MustRelu(false)

	got := values(out)
	assert.InDeltaSlice(t, values(want), got, 1e-6)
	for _, v := range got {
		require.False(t, math.IsNaN(v))
	}
}
