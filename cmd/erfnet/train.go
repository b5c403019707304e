package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/dataset"
	"github.com/sugarme/erfnet/metric"
	"github.com/sugarme/erfnet/pspnet"
)

// forwardFn runs a batch through whatever is being trained.
type forwardFn func(x *ts.Tensor, train bool) *ts.Tensor

// labelSize returns (H, W) of training targets: 1/8 input for the encoder,
// decoder output size otherwise.
func labelSize(variant pspnet.Variant, encode bool) [2]int {
	if encode {
		return [2]int{int(variant.InputSize[0] / 8), int(variant.InputSize[1] / 8)}
	}
	return [2]int{int(variant.Decoder.OutputSize[0]), int(variant.Decoder.OutputSize[1])}
}

func newLoader(manifest string, variant pspnet.Variant, encode, shuffle bool) (*dataset.DataLoader, error) {
	samples, err := dataset.ReadManifest(absPath(manifest))
	if err != nil {
		return nil, err
	}
	imageSize := [2]int{int(variant.InputSize[0]), int(variant.InputSize[1])}
	ds := dataset.NewSegDataset(samples, imageSize, labelSize(variant, encode))

	s, err := dataset.NewBatchSampler(ds.Len(), BatchSize, shuffle, shuffle, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}

	return dataset.NewDataLoader(ds, s)
}

func newOptimizer(vs *nn.VarStore) (*nn.Optimizer, error) {
	switch OptStr {
	case "SGD":
		return nn.DefaultSGDConfig().Build(vs, LR)
	case "Adam":
		return nn.DefaultAdamConfig().Build(vs, LR)
	default:
		return nil, errors.Errorf("unspecified/invalid optimizer option: '%v'", OptStr)
	}
}

// polyLR is the poly learning rate policy lr * (1 - epoch/epochs)^0.9.
func polyLR(base float64, epoch, epochs int) float64 {
	return base * math.Pow(1-float64(epoch)/float64(epochs), 0.9)
}

func runTrain(variant pspnet.Variant) {
	vs := nn.NewVarStore(Device)

	var (
		forward forwardFn
		prefix  string
	)
	if Encode {
		enc := buildEncoder(vs, variant)
		forward = enc.Predict
		prefix = "encoder"
	} else {
		net, err := buildNet(vs, variant)
		if err != nil {
			klog.Fatal(err)
		}
		forward = net.ForwardT
		prefix = "erfnet"
	}
	if ModelPath != "" {
		if err := loadWeights(vs, ModelPath, ModelFrom); err != nil {
			klog.Fatal(err)
		}
	}

	opt, err := newOptimizer(vs)
	if err != nil {
		klog.Fatal(err)
	}

	trainDL, err := newLoader(ManifestPath, variant, Encode, true)
	if err != nil {
		klog.Fatal(err)
	}

	outDir := absPath(OutPath)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		klog.Fatal(err)
	}

	lossCfg := metric.DefaultLossConfig()
	lossCfg.IgnoreIndex = IgnoreIndex

	var epochLosses []float64
	for e := 0; e < Epochs; e++ {
		start := time.Now()
		opt.SetLR(polyLR(LR, e, Epochs))
		trainDL.Reset()

		bar := progressbar.NewOptions(trainDL.Len(),
			progressbar.OptionSetDescription(fmt.Sprintf("epoch %03d", e+1)),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batch"),
		)

		var losses []float64
		for trainDL.HasNext() {
			batch, err := trainDL.Next()
			if err != nil {
				klog.Fatal(err)
			}

			input := batch.Image.MustTo(Device, true)
			target := batch.Label.MustTo(Device, true)

			logits := forward(input, true)
			loss := metric.CrossEntropyLoss2d(logits, target, lossCfg)
			opt.BackwardStep(loss)

			lossVal := loss.Float64Values()[0]
			losses = append(losses, lossVal)
			bar.Describe(fmt.Sprintf("epoch %03d loss %6.4f", e+1, lossVal))
			if err := bar.Add(1); err != nil {
				klog.V(1).Infof("progress bar: %v", err)
			}

			input.MustDrop()
			target.MustDrop()
			logits.MustDrop()
			loss.MustDrop()
		}
		if err := bar.Finish(); err != nil {
			klog.V(1).Infof("progress bar: %v", err)
		}

		tloss := avg(losses)
		epochLosses = append(epochLosses, tloss)
		msg := fmt.Sprintf("Epoch %03d\t train loss: %6.4f", e+1, tloss)
		if ValidPath != "" {
			miou, err := doValidate(forward, variant, ValidPath)
			if err != nil {
				klog.Fatal(err)
			}
			msg += fmt.Sprintf("\t valid mIoU: %6.4f", miou)
		}
		klog.Infof("%s\t taken time: %0.2fMin", msg, time.Since(start).Minutes())

		// save model checkpoint
		weightFile := filepath.Join(outDir, fmt.Sprintf("%v-%v-%03d.ot", prefix, variant.Name, e+1))
		if err := vs.Save(weightFile); err != nil {
			klog.Fatal(err)
		}
	}

	plotFile := filepath.Join(outDir, fmt.Sprintf("%v-%v-loss.png", prefix, variant.Name))
	if err := plotLosses(epochLosses, plotFile); err != nil {
		klog.Errorf("plot losses: %v", err)
	}
}

func avg(input []float64) float64 {
	if len(input) == 0 {
		return math.NaN()
	}

	var sum float64
	for _, v := range input {
		sum += v
	}

	return sum / float64(len(input))
}
