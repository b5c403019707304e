package metric_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/metric"
)

func TestCrossEntropyLoss2dUniform(t *testing.T) {
	const classes = 5
	logits := ts.MustZeros([]int64{2, classes, 4, 6}, gotch.Float, gotch.CPU)
	target := ts.MustZeros([]int64{2, 4, 6}, gotch.Int64, gotch.CPU)

	loss := metric.CrossEntropyLoss2d(logits, target)
	assert.InDelta(t, math.Log(classes), loss.Float64Values()[0], 1e-5)

	logits.MustDrop()
	target.MustDrop()
	loss.MustDrop()
}

func TestCrossEntropyLoss2dIgnoreIndex(t *testing.T) {
	// Class 0 is strongly predicted everywhere. Pixels labelled 1 are ignored
	// so only the confident, correct pixels count.
	vals := make([]float32, 2*2*2)
	for i := 0; i < 4; i++ {
		vals[i] = 20
	}
	logits := ts.MustOfSlice(vals).MustView([]int64{1, 2, 2, 2}, true)
	target := ts.MustOfSlice([]int64{0, 255, 0, 255}).MustView([]int64{1, 2, 2}, true)

	cfg := metric.DefaultLossConfig()
	cfg.IgnoreIndex = 255
	loss := metric.CrossEntropyLoss2d(logits, target, cfg)
	assert.Less(t, loss.Float64Values()[0], 1e-6)

	logits.MustDrop()
	target.MustDrop()
	loss.MustDrop()
}

func TestClassWeights(t *testing.T) {
	w := metric.ClassWeights([]float64{50, 50, 0})
	require.Len(t, w, 3)
	assert.InDelta(t, 1/math.Log(1.6), w[0], 1e-12)
	assert.Equal(t, w[0], w[1])
	assert.Equal(t, 0.0, w[2])

	// rarer classes weigh more
	w = metric.ClassWeights([]float64{90, 10})
	assert.Greater(t, w[1], w[0])

	assert.Equal(t, []float64{0, 0}, metric.ClassWeights([]float64{0, 0}))
}
