package metric

import (
	"math"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// NOTE: reduction: none = 0; mean = 1; sum = 2.
const reductionMean int64 = 1

// LossConfig configures CrossEntropyLoss2d.
type LossConfig struct {
	// Weight is an optional per-class weight tensor of shape [C].
	Weight *ts.Tensor
	// IgnoreIndex is a target value that does not contribute to the loss.
	IgnoreIndex int64
}

// DefaultLossConfig returns LossConfig without class weights nor ignored label.
func DefaultLossConfig() LossConfig {
	return LossConfig{
		Weight:      nil,
		IgnoreIndex: -100,
	}
}

// CrossEntropyLoss2d computes mean negative log likelihood of log-softmax(logits)
// over the class axis.
//
// logits: [B C H W] float; target: [B H W] int64 class indices.
func CrossEntropyLoss2d(logits, target *ts.Tensor, cfgOpt ...LossConfig) *ts.Tensor {
	cfg := DefaultLossConfig()
	if len(cfgOpt) > 0 {
		cfg = cfgOpt[0]
	}

	weight := cfg.Weight
	if weight == nil {
		weight = ts.NewTensor()
	}

	logp := logits.MustLogSoftmax(1, gotch.Float, false)
	loss := logp.MustNllLoss2d(target, weight, reductionMean, cfg.IgnoreIndex, true)

	return loss
}

// ClassWeights computes ERFNet style class weights 1/ln(c + p_k) from class
// pixel frequencies, with c = 1.10.
//
// hist holds pixel counts per class. Classes absent from hist get weight 0.
func ClassWeights(hist []float64) []float64 {
	const c = 1.10
	var total float64
	for _, h := range hist {
		total += h
	}

	weights := make([]float64, len(hist))
	if total == 0 {
		return weights
	}
	for i, h := range hist {
		if h == 0 {
			continue
		}
		weights[i] = 1 / math.Log(c+h/total)
	}

	return weights
}
