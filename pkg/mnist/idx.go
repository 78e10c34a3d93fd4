// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mnist

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelFileHeader struct {
	Magic     int32
	NumLabels int32
}

// openGzip opens a gzip compressed file. The returned closer closes both the gzip reader and the file.
func openGzip(filePath string) (io.Reader, func(), error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open MNIST file")
	}
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "failed to decompress MNIST file %q", filePath)
	}
	return gz, func() {
		_ = gz.Close()
		_ = f.Close()
	}, nil
}

// LoadImages opens the gzip compressed IDX images file, parses it, and returns the images in order.
func LoadImages(filePath string) ([]Image, error) {
	reader, closeFn, err := openGzip(filePath)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header imageFileHeader
	if err = binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read header of MNIST images file %q", filePath)
	}
	if header.Magic != imageMagic {
		return nil, errors.Errorf("MNIST images file %q has invalid magic number 0x%08x, expected 0x%08x",
			filePath, header.Magic, imageMagic)
	}
	if header.Width != Width || header.Height != Height {
		return nil, errors.Errorf("MNIST images file %q has images of %dx%d, expected %dx%d",
			filePath, header.Width, header.Height, Width, Height)
	}
	if header.NumImages < 0 {
		return nil, errors.Errorf("MNIST images file %q has invalid number of images %d", filePath, header.NumImages)
	}

	images := make([]Image, header.NumImages)
	for ii := range images {
		if _, err = io.ReadFull(reader, images[ii][:]); err != nil {
			return nil, errors.Wrapf(err, "failed to read image #%d of %d from %q", ii, header.NumImages, filePath)
		}
	}
	return images, nil
}

// LoadLabels opens the gzip compressed IDX labels file, parses it, and returns the labels in order.
func LoadLabels(filePath string) ([]Label, error) {
	reader, closeFn, err := openGzip(filePath)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header labelFileHeader
	if err = binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read header of MNIST labels file %q", filePath)
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("MNIST labels file %q has invalid magic number 0x%08x, expected 0x%08x",
			filePath, header.Magic, labelMagic)
	}
	if header.NumLabels < 0 {
		return nil, errors.Errorf("MNIST labels file %q has invalid number of labels %d", filePath, header.NumLabels)
	}

	labels := make([]Label, header.NumLabels)
	if err = binary.Read(reader, binary.BigEndian, labels); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d labels from %q", header.NumLabels, filePath)
	}
	for ii, label := range labels {
		if label < 0 || label >= NumClasses {
			return nil, errors.Errorf("MNIST labels file %q has invalid label %d at position %d", filePath, label, ii)
		}
	}
	return labels, nil
}
