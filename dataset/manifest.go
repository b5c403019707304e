package dataset

import (
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// Sample is an image file and its label file.
type Sample struct {
	Image string
	Label string
}

// ReadManifest reads a CSV file with `image` and `label` columns. Relative
// paths are resolved against the manifest directory.
func ReadManifest(filename string) ([]Sample, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open manifest %q", filename)
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.DetectTypes(false))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "read manifest %q", filename)
	}

	df = df.Select([]string{"image", "label"})
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "manifest %q needs 'image' and 'label' columns", filename)
	}

	dir := filepath.Dir(filename)
	images := df.Col("image").Records()
	labels := df.Col("label").Records()

	samples := make([]Sample, len(images))
	for i := range images {
		samples[i] = Sample{
			Image: resolve(dir, images[i]),
			Label: resolve(dir, labels[i]),
		}
	}

	return samples, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
