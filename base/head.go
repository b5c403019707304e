package base

import "github.com/sugarme/gotch/nn"

// NewSegmentationHead creates new SegmentatationHead (nn.SequentialT)
// mapping cIn feature channels to cOut class logits with a same-padded convolution.
// TODO: add upsampling, activation func options.
func NewSegmentationHead(p *nn.Path, cIn, cOut, ksize int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p, cIn, cOut, ksize, ksize/2, 1))

	return seq
}
