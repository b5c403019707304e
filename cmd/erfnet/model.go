package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/encoder"
	"github.com/sugarme/erfnet/pspnet"
)

// loadWeights loads a full checkpoint or, from "scratch", whatever variables match.
func loadWeights(vs *nn.VarStore, fpath string, from string) error {
	modelPath := absPath(fpath)

	switch from {
	case "checkpoint":
		if err := vs.Load(modelPath); err != nil {
			return errors.Wrapf(err, "load checkpoint %q", modelPath)
		}
	case "scratch":
		missing, err := vs.LoadPartial(modelPath)
		if err != nil {
			return errors.Wrapf(err, "load weights %q", modelPath)
		}
		klog.Infof("loaded %q, %d variables not found in file", modelPath, len(missing))
	default:
		return errors.Errorf("invalid load option. Expected 'checkpoint' or 'scratch'. Got: %v", from)
	}

	return nil
}

// buildEncoder creates a standalone ERFNet encoder under `encoder`, as the
// full network names it, so encoder checkpoints load into either.
func buildEncoder(vs *nn.VarStore, variant pspnet.Variant) *encoder.ERFNetEncoder {
	return encoder.NewERFNetEncoder(vs.Root().Sub("encoder"), NumClasses, variant.Encoder)
}

// buildNet creates the full network. When EncoderPath is set the encoder is
// created first, loaded from it and injected into the net.
func buildNet(vs *nn.VarStore, variant pspnet.Variant) (*pspnet.Net, error) {
	if EncoderPath == "" {
		return pspnet.NewNet(vs.Root(), NumClasses, variant), nil
	}

	enc := buildEncoder(vs, variant)
	if _, err := vs.LoadPartial(absPath(EncoderPath)); err != nil {
		return nil, errors.Wrapf(err, "load pretrained encoder %q", EncoderPath)
	}
	klog.Infof("pretrained encoder loaded from %q", EncoderPath)

	return pspnet.NewNet(vs.Root(), NumClasses, variant, enc), nil
}

// printVars print variables sorted by name
func printVars(vs *nn.VarStore) int64 {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	var total int64
	for _, n := range names {
		v := vars[n]
		size := v.MustSize()
		numel := int64(1)
		for _, d := range size {
			numel *= d
		}
		total += numel
		fmt.Printf("%-48v %v\n", n, size)
	}

	return total
}

func runCheckModel(variant pspnet.Variant) {
	vs := nn.NewVarStore(Device)
	net := pspnet.NewNet(vs.Root(), NumClasses, variant)

	total := printVars(vs)
	fmt.Printf("\n%v: %s parameters, %v\n", variant.Name, humanize.Comma(total), net.Decoder())

	h, w := variant.InputSize[0], variant.InputSize[1]
	size := []int64{1, 3, h, w}
	if err := net.ValidateInput(size); err != nil {
		klog.Fatal(err)
	}

	x := ts.MustZeros(size, gotch.Float, Device)
	ts.NoGrad(func() {
		enc := net.Forward(x, pspnet.ModeEncode, false)
		full := net.Forward(x, pspnet.ModeFull, false)
		fmt.Printf("input: %v\tencode: %v\tfull: %v\n", size, enc.MustSize(), full.MustSize())
		enc.MustDrop()
		full.MustDrop()
	})
	x.MustDrop()
}
