// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagegrid tiles a batch of small images into one image, and saves it.
//
// The layout follows the usual "make grid" convention: images are placed left to right, top to bottom,
// nrow images per row, each surrounded by padding pixels of black background.
package imagegrid

import (
	"image"
	"image/color"
	"os"
	"path"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DefaultImagesPerRow and DefaultPadding used by Save.
const (
	DefaultImagesPerRow = 8
	DefaultPadding      = 2
)

// Grid tiles the images (which must all have the same size as the first one) in a grid with
// nrow images per row and padding pixels around each image.
//
// A single image is returned as is, without padding. It returns nil if images is empty.
func Grid(images []image.Image, nrow, padding int) image.Image {
	if len(images) == 0 {
		return nil
	}
	if len(images) == 1 {
		return images[0]
	}
	nrow = max(nrow, 1)
	padding = max(padding, 0)
	cellSize := images[0].Bounds().Size()
	cols := min(nrow, len(images))
	rows := (len(images) + cols - 1) / cols
	cellWidth, cellHeight := cellSize.X+padding, cellSize.Y+padding
	grid := imaging.New(cols*cellWidth+padding, rows*cellHeight+padding, color.Black)
	for ii, img := range images {
		row, col := ii/cols, ii%cols
		grid = imaging.Paste(grid, img, image.Pt(col*cellWidth+padding, row*cellHeight+padding))
	}
	return grid
}

// FromFlat converts n flattened grayscale images of width×height float values in [0, 1] to images.
// Values outside [0, 1] are clamped.
func FromFlat(flat []float32, n, width, height int) ([]image.Image, error) {
	if n < 0 || len(flat) != n*width*height {
		return nil, errors.Errorf("imagegrid.FromFlat: got %d values, expected %d images of %dx%d=%d values",
			len(flat), n, width, height, n*width*height)
	}
	images := make([]image.Image, n)
	imgSize := width * height
	for ii := range n {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for jj, v := range flat[ii*imgSize : (ii+1)*imgSize] {
			img.Pix[jj] = toByte(v)
		}
		images[ii] = img
	}
	return images, nil
}

// toByte converts a value in [0, 1] to a byte, rounding to the nearest.
func toByte(v float32) uint8 {
	if v != v || v <= 0 { // NaN or negative.
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// SavePNG saves the image to the given path, creating the directory if needed.
func SavePNG(filePath string, img image.Image) error {
	if img == nil {
		return errors.Errorf("imagegrid.SavePNG(%q): no image to save", filePath)
	}
	if err := os.MkdirAll(path.Dir(filePath), 0777); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", filePath)
	}
	if err := imaging.Save(img, filePath); err != nil {
		return errors.Wrapf(err, "failed to save image to %q", filePath)
	}
	return nil
}

// Save tiles the images with the default layout and saves them as a PNG to filePath.
func Save(filePath string, images []image.Image) error {
	return SavePNG(filePath, Grid(images, DefaultImagesPerRow, DefaultPadding))
}
