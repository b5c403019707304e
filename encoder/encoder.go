package encoder

import (
	ts "github.com/sugarme/gotch/tensor"
)

// Encoder is encoder interface for a image segmentation model.
//
// ForwardT returns the feature map handed to a decoder. Predict additionally
// applies the encoder's own classifier so the encoder can be trained and
// evaluated alone.
type Encoder interface {
	ts.ModuleT
	Predict(x *ts.Tensor, train bool) *ts.Tensor
	// Channels is the channel count of the ForwardT feature map.
	Channels() int64
}
