package main

import (
	"fmt"
	"math"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/metric"
	"github.com/sugarme/erfnet/pspnet"
)

// evaluate accumulates a confusion matrix of forward over the manifest.
func evaluate(forward forwardFn, variant pspnet.Variant, manifest string) (*metric.ConfusionMatrix, error) {
	dl, err := newLoader(manifest, variant, Encode, false)
	if err != nil {
		return nil, err
	}

	cm := metric.NewConfusionMatrix(int(NumClasses), IgnoreIndex)
	for dl.HasNext() {
		batch, err := dl.Next()
		if err != nil {
			return nil, err
		}

		input := batch.Image.MustTo(Device, true)
		var logits *ts.Tensor
		ts.NoGrad(func() {
			logits = forward(input, false)
		})
		input.MustDrop()

		err = cm.Add(logits, batch.Label)
		logits.MustDrop()
		batch.Label.MustDrop()
		if err != nil {
			return nil, err
		}
	}

	return cm, nil
}

func doValidate(forward forwardFn, variant pspnet.Variant, manifest string) (float64, error) {
	cm, err := evaluate(forward, variant, manifest)
	if err != nil {
		return 0, err
	}
	return cm.MeanIoU(), nil
}

func runEval(variant pspnet.Variant) {
	if ModelPath == "" {
		klog.Fatal("'eval' task needs a -model weight file")
	}

	vs := nn.NewVarStore(Device)
	var forward forwardFn
	if Encode {
		forward = buildEncoder(vs, variant).Predict
	} else {
		forward = pspnet.NewNet(vs.Root(), NumClasses, variant).ForwardT
	}
	if err := loadWeights(vs, ModelPath, ModelFrom); err != nil {
		klog.Fatal(err)
	}

	cm, err := evaluate(forward, variant, ManifestPath)
	if err != nil {
		klog.Fatal(err)
	}

	for k, iou := range cm.IoU() {
		if math.IsNaN(iou) {
			fmt.Printf("class %02d\t IoU: %8s\n", k, "-")
			continue
		}
		fmt.Printf("class %02d\t IoU: %8.4f\n", k, iou)
	}
	fmt.Printf("mean IoU: %6.4f\t pixel accuracy: %6.4f\n", cm.MeanIoU(), cm.PixelAccuracy())
}
