// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mnist provides the MNIST database of handwritten digits: download, IDX file parsing and
// a train.Dataset that yields flattened image batches.
//
// See http://yann.lecun.com/exdb/mnist/ for the description of the files.
package mnist

import (
	"image"
	"image/color"
	"net/url"
	"path"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/vae/internal/downloader"
	"github.com/pkg/errors"
)

const (
	// Width and Height of the MNIST images.
	Width  = 28
	Height = 28

	// NumPixels is the size of a flattened image.
	NumPixels = Width * Height

	// NumClasses of the digit labels.
	NumClasses = 10

	TrainExamples = 60000
	TestExamples  = 10000

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

// DownloadURL is the base URL of the mirror from where the files are downloaded.
var DownloadURL = "https://storage.googleapis.com/cvdf-datasets/mnist"

// Mode selects one of the MNIST partitions.
type Mode string

const (
	Train Mode = "train"
	Test  Mode = "test"
)

type mnistFile struct {
	name, sha256 string
}

var (
	trainImagesFile = mnistFile{"train-images-idx3-ubyte.gz", "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"}
	trainLabelsFile = mnistFile{"train-labels-idx1-ubyte.gz", "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"}
	testImagesFile  = mnistFile{"t10k-images-idx3-ubyte.gz", "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"}
	testLabelsFile  = mnistFile{"t10k-labels-idx1-ubyte.gz", "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"}
)

// modeFiles maps a mode to its images and labels files.
var modeFiles = map[Mode][2]mnistFile{
	Train: {trainImagesFile, trainLabelsFile},
	Test:  {testImagesFile, testLabelsFile},
}

// Image represents a MNIST image. It is an array of bytes representing the color.
// 0 is black (the background) and 255 is white (the digit color).
type Image [NumPixels]byte

// Label is the digit label from 0 to 9.
type Label = int8

var _ image.Image = Image{}

// ColorModel implements the image.Image interface.
func (img Image) ColorModel() color.Model {
	return color.GrayModel
}

// Bounds implements the image.Image interface.
func (img Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// At implements the image.Image interface.
func (img Image) At(x, y int) color.Color {
	return color.Gray{Y: img[y*Width+x]}
}

// Set modifies the pixel at (x,y).
func (img *Image) Set(x, y int, v byte) {
	img[y*Width+x] = v
}

// Download the MNIST files to baseDir, if they are not there yet, and verify their checksums.
func Download(baseDir string) error {
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return err
	}
	for _, files := range [][2]mnistFile{modeFiles[Train], modeFiles[Test]} {
		for _, file := range files {
			fileURL, err := url.JoinPath(DownloadURL, file.name)
			if err != nil {
				return errors.Wrapf(err, "invalid MNIST download URL %q", DownloadURL)
			}
			if err = downloader.DownloadIfMissing(fileURL, path.Join(baseDir, file.name), file.sha256); err != nil {
				return errors.WithMessagef(err, "downloading MNIST file %q", file.name)
			}
		}
	}
	return nil
}

// Files returns the paths to the images and labels files of the given mode under baseDir.
func Files(baseDir string, mode Mode) (imagesPath, labelsPath string, err error) {
	files, found := modeFiles[mode]
	if !found {
		return "", "", errors.Errorf("invalid MNIST mode %q, valid values are %q or %q", mode, Train, Test)
	}
	baseDir, err = fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return "", "", err
	}
	return path.Join(baseDir, files[0].name), path.Join(baseDir, files[1].name), nil
}
