// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mnist

import (
	"image"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

var (
	_ train.Dataset                = (*Dataset)(nil)
	_ train.DatasetCustomOwnership = (*Dataset)(nil)
)

// Dataset implements train.Dataset so it can be used by a train.Loop object to train/evaluate, and offers
// a few more functionality for sampling images (as opposed to tensors).
//
// Each yielded batch holds:
//
//   - inputs[0]: images as float32 values in [0, 1] (pixel/255), shaped [batchSize, NumPixels].
//   - labels[0]: digit labels as float32, shaped [batchSize].
//
// Only full batches are yielded: a trailing partial batch is dropped.
type Dataset struct {
	name      string
	batchSize int

	images []Image
	labels []Label

	mu       sync.Mutex
	shuffle  *rand.Rand
	indices  []int
	position int
}

// NewDataset creates a train.Dataset that yields MNIST images from the files in baseDir.
//
// It takes the following arguments:
//
//   - name: name of the dataset, used in reports.
//   - baseDir: directory where the MNIST files were downloaded, see Download.
//   - mode: either Train or Test.
//   - batchSize: number of examples per batch; it must not be larger than the number of examples.
//   - shuffle: if not nil, the order of the examples is shuffled at every epoch using it. If nil,
//     examples are yielded in the file order.
func NewDataset(name, baseDir string, mode Mode, batchSize int, shuffle *rand.Rand) (*Dataset, error) {
	imagesPath, labelsPath, err := Files(baseDir, mode)
	if err != nil {
		return nil, err
	}
	images, err := LoadImages(imagesPath)
	if err != nil {
		return nil, err
	}
	labels, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	return NewDatasetFromExamples(name, images, labels, batchSize, shuffle)
}

// NewDatasetFromExamples creates a Dataset from images and labels already in memory.
// See NewDataset for a description of the arguments.
func NewDatasetFromExamples(name string, images []Image, labels []Label, batchSize int, shuffle *rand.Rand) (*Dataset, error) {
	if len(images) != len(labels) {
		return nil, errors.Errorf("MNIST dataset %q has %d images but %d labels", name, len(images), len(labels))
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("MNIST dataset %q: batch size must be > 0, got %d", name, batchSize)
	}
	if batchSize > len(images) {
		return nil, errors.Errorf("MNIST dataset %q: batch size %d is larger than the number of examples %d",
			name, batchSize, len(images))
	}
	ds := &Dataset{
		name:      name,
		batchSize: batchSize,
		images:    images,
		labels:    labels,
		shuffle:   shuffle,
	}
	ds.Reset() // Create first shuffle, if needed.
	return ds, nil
}

// WithShuffle replaces the random number generator used to shuffle the examples at every epoch, and
// resets the dataset. If shuffle is nil, examples are yielded in the file order.
func (ds *Dataset) WithShuffle(shuffle *rand.Rand) *Dataset {
	ds.mu.Lock()
	ds.shuffle = shuffle
	ds.indices = nil
	ds.mu.Unlock()
	ds.Reset()
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// BatchSize used by the dataset.
func (ds *Dataset) BatchSize() int { return ds.batchSize }

// NumExamples in the dataset.
func (ds *Dataset) NumExamples() int { return len(ds.images) }

// NumBatches yielded per epoch.
func (ds *Dataset) NumBatches() int { return len(ds.images) / ds.batchSize }

// Reset implements train.Dataset. It restarts the epoch and, if shuffling, draws a new permutation.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.position = 0
	if ds.shuffle != nil {
		ds.indices = ds.shuffle.Perm(len(ds.images))
		return
	}
	if len(ds.indices) != len(ds.images) {
		ds.indices = make([]int, len(ds.images))
		for ii := range ds.indices {
			ds.indices[ii] = ii
		}
	}
}

// Yield implements train.Dataset. It returns:
//
//   - spec: the dataset itself.
//   - inputs: the images batch, shaped [batch_size, NumPixels], with values in [0, 1].
//   - labels: the digit labels as float32, shaped [batch_size].
//
// It returns io.EOF when there are no more full batches in the epoch.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.position+ds.batchSize > len(ds.indices) {
		return nil, nil, nil, io.EOF
	}
	batchIndices := ds.indices[ds.position : ds.position+ds.batchSize]
	ds.position += ds.batchSize

	imagesData := make([]float32, 0, ds.batchSize*NumPixels)
	for _, img := range Select(ds.images, batchIndices) {
		for _, pixel := range img {
			imagesData = append(imagesData, float32(pixel)/255.0)
		}
	}
	batchLabels := Select(ds.labels, batchIndices)
	labelsData := make([]float32, len(batchLabels))
	for ii, label := range batchLabels {
		labelsData[ii] = float32(label)
	}
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(imagesData, ds.batchSize, NumPixels)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelsData, ds.batchSize)}
	return ds, inputs, labels, nil
}

// IsOwnershipTransferred implements train.DatasetCustomOwnership: every yielded tensor is
// freshly allocated, so the training loop may free them after use.
func (ds *Dataset) IsOwnershipTransferred() bool {
	return true
}

// Images returns the first n images (in the order they will be yielded in the current epoch) as image.Image.
// If n is larger than the number of examples, all images are returned.
func (ds *Dataset) Images(n int) []image.Image {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	n = min(n, len(ds.indices))
	imgs := make([]image.Image, 0, n)
	for _, img := range Select(ds.images, ds.indices[:n]) {
		imgs = append(imgs, img)
	}
	return imgs
}

// Select returns the items at the given indices. Indices out of range are skipped.
func Select[T any, I constraints.Integer](items []T, idx []I) []T {
	selItems := make([]T, 0, len(idx))
	nItems := len(items)
	for _, i := range idx {
		if i >= 0 && i < I(nItems) {
			selItems = append(selItems, items[i])
		}
	}
	return selItems
}
