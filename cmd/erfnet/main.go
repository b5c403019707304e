package main

import (
	"flag"
	"path/filepath"

	"github.com/sugarme/gotch"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/pspnet"
)

// flag variables
var (
	task         string
	VariantName  string
	NumClasses   int64
	ManifestPath string
	ValidPath    string
	ModelPath    string
	ModelFrom    string
	EncoderPath  string
	ImagePath    string
	OutPath      string
	Cuda         bool
	Encode       bool
	Device       gotch.Device
)

// hyperparameters
var (
	LR          float64 // learning rate
	BatchSize   int     // batch size
	Epochs      int     // number of epochs
	OptStr      string  // optimizer type
	IgnoreIndex int64   // label value excluded from loss and metrics
)

func init() {
	flag.StringVar(&task, "task", "model", "specify task to run: model|train|eval|predict")
	flag.StringVar(&VariantName, "variant", "sequential", "specify network variant: sequential|hierarchical")
	flag.Int64Var(&NumClasses, "classes", 20, "specify number of classes")
	flag.StringVar(&ManifestPath, "manifest", "./input/train.csv", "specify CSV file with 'image' and 'label' columns")
	flag.StringVar(&ValidPath, "valid", "", "specify validation CSV file (optional)")
	flag.StringVar(&ModelPath, "model", "", "specify full path to model weight '.ot' file")
	flag.StringVar(&ModelFrom, "from", "checkpoint", "specify how to load model weights: checkpoint|scratch")
	flag.StringVar(&EncoderPath, "encoder", "", "specify pretrained encoder weight file to start full training from")
	flag.StringVar(&ImagePath, "image", "", "specify input image for 'predict' task")
	flag.StringVar(&OutPath, "out", "./checkpoint", "specify output directory (train) or file (predict)")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not")
	flag.BoolVar(&Encode, "encode", false, "specify whether to train/evaluate the encoder only")
	flag.Float64Var(&LR, "lr", 5e-4, "specify learning rate")
	flag.IntVar(&BatchSize, "batch", 6, "specify batch size")
	flag.IntVar(&Epochs, "epochs", 150, "specify number of epochs")
	flag.StringVar(&OptStr, "opt", "Adam", "specify optimizer type: Adam|SGD")
	flag.Int64Var(&IgnoreIndex, "ignore", 255, "specify label value to ignore")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	Device = gotch.CPU
	if Cuda {
		Device = gotch.NewCuda().CudaIfAvailable()
	}

	variant, err := pspnet.VariantByName(VariantName)
	if err != nil {
		klog.Fatal(err)
	}

	switch task {
	case "model":
		runCheckModel(variant)
	case "train":
		runTrain(variant)
	case "eval":
		runEval(variant)
	case "predict":
		runPredict(variant)
	default:
		klog.Fatalf("Unknown 'task' name %q. Please specify valid 'task' flag to run.", task)
	}
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		klog.Fatal(err)
	}
	return fullpath
}
