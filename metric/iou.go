package metric

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ConfusionMatrix accumulates per-pixel (target, prediction) counts.
// Rows are target classes, columns predicted classes.
type ConfusionMatrix struct {
	numClasses  int
	ignoreIndex int64
	m           *mat.Dense
}

// NewConfusionMatrix creates ConfusionMatrix. Targets equal to ignoreIndex are skipped.
func NewConfusionMatrix(numClasses int, ignoreIndex int64) *ConfusionMatrix {
	if numClasses < 1 {
		panic(errors.Errorf("confusion matrix: invalid number of classes %d", numClasses))
	}

	return &ConfusionMatrix{
		numClasses:  numClasses,
		ignoreIndex: ignoreIndex,
		m:           mat.NewDense(numClasses, numClasses, nil),
	}
}

// AddLabels accumulates predicted labels against target labels.
func (c *ConfusionMatrix) AddLabels(pred, target []int64) error {
	if len(pred) != len(target) {
		return errors.Errorf("prediction and target lengths differ: %d vs %d", len(pred), len(target))
	}

	n := int64(c.numClasses)
	for i, t := range target {
		if t == c.ignoreIndex || t < 0 || t >= n {
			continue
		}
		p := pred[i]
		if p < 0 || p >= n {
			return errors.Errorf("predicted class %d out of range [0, %d)", p, n)
		}
		c.m.Set(int(t), int(p), c.m.At(int(t), int(p))+1)
	}

	return nil
}

// Add accumulates argmax of logits [B C H W] against target [B H W].
func (c *ConfusionMatrix) Add(logits, target *ts.Tensor) error {
	lsize := logits.MustSize()
	tsize := target.MustSize()
	if len(lsize) != 4 || len(tsize) != 3 {
		return errors.Errorf("expected logits [B C H W] and target [B H W], got %v and %v", lsize, tsize)
	}
	if lsize[0] != tsize[0] || lsize[2] != tsize[1] || lsize[3] != tsize[2] {
		return errors.Errorf("logits %v and target %v shapes mismatch", lsize, tsize)
	}
	if lsize[1] != int64(c.numClasses) {
		return errors.Errorf("expected %d classes, got %d", c.numClasses, lsize[1])
	}

	lt := logits.MustTotype(gotch.Double, false).MustTo(gotch.CPU, true)
	scores := lt.Float64Values()
	lt.MustDrop()
	tt := target.MustTotype(gotch.Int64, false).MustTo(gotch.CPU, true)
	labels := tt.Int64Values()
	tt.MustDrop()

	pred := Argmax(scores, int(lsize[0]), int(lsize[1]), int(lsize[2]*lsize[3]))

	return c.AddLabels(pred, labels)
}

// Argmax returns per-pixel class index of flat NCHW scores (hw = H*W).
func Argmax(scores []float64, batch, classes, hw int) []int64 {
	pred := make([]int64, batch*hw)
	pix := make([]float64, classes)
	for b := 0; b < batch; b++ {
		offset := b * classes * hw
		for i := 0; i < hw; i++ {
			for k := 0; k < classes; k++ {
				pix[k] = scores[offset+k*hw+i]
			}
			pred[b*hw+i] = int64(floats.MaxIdx(pix))
		}
	}

	return pred
}

// IoU returns per-class intersection over union. Classes that appear neither
// in targets nor predictions get NaN.
func (c *ConfusionMatrix) IoU() []float64 {
	ious := make([]float64, c.numClasses)
	row := make([]float64, c.numClasses)
	col := make([]float64, c.numClasses)
	for k := 0; k < c.numClasses; k++ {
		mat.Row(row, k, c.m)
		mat.Col(col, k, c.m)
		tp := c.m.At(k, k)
		union := floats.Sum(row) + floats.Sum(col) - tp
		if union == 0 {
			ious[k] = math.NaN()
			continue
		}
		ious[k] = tp / union
	}

	return ious
}

// MeanIoU averages IoU over classes that are not NaN.
func (c *ConfusionMatrix) MeanIoU() float64 {
	var (
		sum float64
		n   int
	)
	for _, v := range c.IoU() {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}

	return sum / float64(n)
}

// PixelAccuracy returns correctly classified pixels over all counted pixels.
func (c *ConfusionMatrix) PixelAccuracy() float64 {
	total := mat.Sum(c.m)
	if total == 0 {
		return math.NaN()
	}

	return mat.Trace(c.m) / total
}

// Reset zeroes the matrix.
func (c *ConfusionMatrix) Reset() {
	c.m.Zero()
}

// Count returns accumulated count of (target, pred).
func (c *ConfusionMatrix) Count(target, pred int) float64 {
	return c.m.At(target, pred)
}
