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

func TestConfusionMatrix(t *testing.T) {
	cm := metric.NewConfusionMatrix(3, 255)

	target := []int64{0, 0, 1, 1, 255, 1}
	pred := []int64{0, 1, 1, 1, 2, 0}
	require.NoError(t, cm.AddLabels(pred, target))

	assert.Equal(t, 1.0, cm.Count(0, 0))
	assert.Equal(t, 1.0, cm.Count(0, 1))
	assert.Equal(t, 2.0, cm.Count(1, 1))
	assert.Equal(t, 1.0, cm.Count(1, 0))
	assert.Equal(t, 0.0, cm.Count(2, 2), "ignored pixel must not count")

	iou := cm.IoU()
	assert.InDelta(t, 1.0/3.0, iou[0], 1e-12)
	assert.InDelta(t, 2.0/4.0, iou[1], 1e-12)
	assert.True(t, math.IsNaN(iou[2]))

	assert.InDelta(t, (1.0/3.0+0.5)/2, cm.MeanIoU(), 1e-12)
	assert.InDelta(t, 3.0/5.0, cm.PixelAccuracy(), 1e-12)

	cm.Reset()
	assert.True(t, math.IsNaN(cm.PixelAccuracy()))
	assert.True(t, math.IsNaN(cm.MeanIoU()))
}

func TestConfusionMatrixErrors(t *testing.T) {
	cm := metric.NewConfusionMatrix(2, -1)
	assert.Error(t, cm.AddLabels([]int64{0}, []int64{0, 1}))
	assert.Error(t, cm.AddLabels([]int64{5}, []int64{1}))
	assert.Panics(t, func() { metric.NewConfusionMatrix(0, -1) })
}

func TestArgmax(t *testing.T) {
	// batch 2, classes 3, 2 pixels each, NCHW flattened.
	scores := []float64{
		0.1, 0.9, // class 0
		0.5, 0.0, // class 1
		0.2, 0.3, // class 2
		0.0, 0.0,
		1.0, 0.0,
		0.0, 2.0,
	}
	assert.Equal(t, []int64{1, 0, 1, 2}, metric.Argmax(scores, 2, 3, 2))
}

func TestConfusionMatrixAdd(t *testing.T) {
	cm := metric.NewConfusionMatrix(2, 255)

	logits := ts.MustOfSlice([]float32{
		1, 0, 0, 1, // class 0
		0, 1, 1, 0, // class 1
	}).MustView([]int64{1, 2, 2, 2}, true)
	target := ts.MustOfSlice([]int64{0, 1, 0, 255}).MustView([]int64{1, 2, 2}, true)

	require.NoError(t, cm.Add(logits, target))
	assert.Equal(t, 1.0, cm.Count(0, 0))
	assert.Equal(t, 1.0, cm.Count(1, 1))
	assert.Equal(t, 1.0, cm.Count(0, 1))
	assert.InDelta(t, 2.0/3.0, cm.PixelAccuracy(), 1e-12)

	bad := ts.MustZeros([]int64{1, 3, 2}, gotch.Int64, gotch.CPU)
	assert.Error(t, cm.Add(logits, bad))

	logits.MustDrop()
	target.MustDrop()
	bad.MustDrop()
}
