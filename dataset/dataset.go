package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"
)

// ImageLabel is one decoded sample: image [3 H W] float and label [h w] int64.
type ImageLabel struct {
	Image *ts.Tensor
	Label *ts.Tensor
}

// Drop frees both tensors.
func (il ImageLabel) Drop() {
	il.Image.MustDrop()
	il.Label.MustDrop()
}

// Dataset is an indexed collection of samples.
type Dataset interface {
	Len() int
	Item(idx int) (ImageLabel, error)
}

// SegDataset loads image/label pairs resized to fixed sizes.
type SegDataset struct {
	samples   []Sample
	imageSize [2]int // H, W
	labelSize [2]int // H, W
}

// NewSegDataset creates SegDataset. Images are resized to imageSize and
// labels to labelSize, both (H, W).
func NewSegDataset(samples []Sample, imageSize, labelSize [2]int) *SegDataset {
	return &SegDataset{
		samples:   samples,
		imageSize: imageSize,
		labelSize: labelSize,
	}
}

// Len implements Dataset.
func (ds *SegDataset) Len() int {
	return len(ds.samples)
}

// Item implements Dataset.
func (ds *SegDataset) Item(idx int) (ImageLabel, error) {
	if idx < 0 || idx >= len(ds.samples) {
		return ImageLabel{}, errors.Errorf("index %d out of range [0, %d)", idx, len(ds.samples))
	}
	s := ds.samples[idx]

	img, err := ReadImage(s.Image)
	if err != nil {
		return ImageLabel{}, err
	}
	lbl, err := ReadImage(s.Label)
	if err != nil {
		return ImageLabel{}, err
	}

	return ImageLabel{
		Image: ImageToTensor(img, ds.imageSize[0], ds.imageSize[1]),
		Label: LabelToTensor(lbl, ds.labelSize[0], ds.labelSize[1]),
	}, nil
}

// BatchSampler yields batches of dataset indices.
type BatchSampler struct {
	n         int
	batchSize int
	dropLast  bool
	shuffle   bool
	rng       *rand.Rand
	batches   [][]int
}

// NewBatchSampler creates BatchSampler over n items.
func NewBatchSampler(n, batchSize int, dropLast, shuffle bool, seedOpt ...int64) (*BatchSampler, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	if n < 1 {
		return nil, errors.Errorf("invalid number of items %d", n)
	}

	var seed int64 = 1
	if len(seedOpt) > 0 {
		seed = seedOpt[0]
	}

	s := &BatchSampler{
		n:         n,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	s.Reset()

	return s, nil
}

// Reset regenerates batches, reshuffling if enabled.
func (s *BatchSampler) Reset() {
	idx := make([]int, s.n)
	for i := range idx {
		idx[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}

	s.batches = s.batches[:0]
	for start := 0; start < s.n; start += s.batchSize {
		end := start + s.batchSize
		if end > s.n {
			if s.dropLast {
				break
			}
			end = s.n
		}
		s.batches = append(s.batches, idx[start:end])
	}
}

// Batches returns current batches.
func (s *BatchSampler) Batches() [][]int {
	return s.batches
}

// DataLoader iterates a Dataset batch by batch.
type DataLoader struct {
	dataset Dataset
	sampler *BatchSampler
	current int
}

// NewDataLoader creates DataLoader.
func NewDataLoader(ds Dataset, s *BatchSampler) (*DataLoader, error) {
	if ds.Len() != s.n {
		return nil, errors.Errorf("sampler covers %d items, dataset has %d", s.n, ds.Len())
	}

	return &DataLoader{dataset: ds, sampler: s}, nil
}

// HasNext reports whether a batch is left.
func (dl *DataLoader) HasNext() bool {
	return dl.current < len(dl.sampler.batches)
}

// Next loads the next batch and stacks it: images [B 3 H W], labels [B h w].
func (dl *DataLoader) Next() (*ImageLabel, error) {
	if !dl.HasNext() {
		return nil, errors.New("no more batches")
	}
	batch := dl.sampler.batches[dl.current]
	dl.current++

	var images, labels []ts.Tensor
	for _, idx := range batch {
		item, err := dl.dataset.Item(idx)
		if err != nil {
			for i := range images {
				images[i].MustDrop()
				labels[i].MustDrop()
			}
			return nil, errors.Wrapf(err, "load item %d", idx)
		}
		images = append(images, *item.Image)
		labels = append(labels, *item.Label)
	}
	klog.V(1).Infof("loaded batch %d/%d (%d items)", dl.current, len(dl.sampler.batches), len(batch))

	imgTs := ts.MustStack(images, 0)
	lblTs := ts.MustStack(labels, 0)
	for i := range images {
		images[i].MustDrop()
		labels[i].MustDrop()
	}

	return &ImageLabel{Image: imgTs, Label: lblTs}, nil
}

// Reset rewinds the loader and resamples batches.
func (dl *DataLoader) Reset() {
	dl.sampler.Reset()
	dl.current = 0
}

// Len returns number of batches per epoch.
func (dl *DataLoader) Len() int {
	return len(dl.sampler.batches)
}
