package main

import (
	"os"
	"path/filepath"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/dataset"
	"github.com/sugarme/erfnet/metric"
	"github.com/sugarme/erfnet/pspnet"
)

func runPredict(variant pspnet.Variant) {
	if ImagePath == "" || ModelPath == "" {
		klog.Fatal("'predict' task needs -image and -model")
	}

	vs := nn.NewVarStore(Device)
	net := pspnet.NewNet(vs.Root(), NumClasses, variant)
	if err := loadWeights(vs, ModelPath, ModelFrom); err != nil {
		klog.Fatal(err)
	}

	img, err := dataset.ReadImage(absPath(ImagePath))
	if err != nil {
		klog.Fatal(err)
	}

	h, w := variant.InputSize[0], variant.InputSize[1]
	input := dataset.ImageToTensor(img, int(h), int(w)).MustUnsqueeze(0, true).MustTo(Device, true)
	if err := net.ValidateInput(input.MustSize()); err != nil {
		klog.Fatal(err)
	}

	var logits *ts.Tensor
	ts.NoGrad(func() {
		logits = net.Forward(input, pspnet.ModeFull, false)
	})
	input.MustDrop()

	size := logits.MustSize()
	cpu := logits.MustTotype(gotch.Double, true).MustTo(gotch.CPU, true)
	scores := cpu.Float64Values()
	cpu.MustDrop()

	outH, outW := int(size[2]), int(size[3])
	pred := metric.Argmax(scores, 1, int(size[1]), outH*outW)
	mask := dataset.Colorize(pred, outH, outW, dataset.Palette(int(NumClasses)))

	outFile := OutPath
	if filepath.Ext(outFile) != ".png" {
		if err := os.MkdirAll(outFile, 0755); err != nil {
			klog.Fatal(err)
		}
		outFile = filepath.Join(outFile, "prediction.png")
	}
	if err := dataset.SaveMask(absPath(outFile), mask, img.Bounds().Size()); err != nil {
		klog.Fatal(err)
	}
	klog.Infof("prediction %vx%v saved to %q", outW, outH, outFile)
}
