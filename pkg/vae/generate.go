// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"path"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vae/internal/imagegrid"
	"github.com/gomlx/vae/pkg/mnist"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Output file names, saved in the output directory.
const (
	OriginalImagesFile  = "orig_data.png"
	ReconstructionsFile = "reconstructions.png"
	GeneratedFile       = "generated_sample.png"
)

// Reconstruct runs the model (encoder, sampling of the latent and decoder) on the first batch of ds,
// and saves the original images and their reconstructions as image grids in outputDir.
//
// The context must hold a trained model: no new variables are created. It returns the reconstructed images,
// shaped [batch_size, x_dim].
func Reconstruct(backend backends.Backend, ctx *context.Context, ds *mnist.Dataset, outputDir string) (*tensors.Tensor, error) {
	ds.Reset()
	_, inputs, _, err := ds.Yield()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read the first batch of %q for reconstruction", ds.Name())
	}
	defer ds.Reset()
	x := inputs[0]
	batchSize := x.Shape().Dimensions[0]

	var xHat *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		reconstructExec := context.MustNewExec(backend, ctx.In(ModelScope).Reuse(),
			func(ctx *context.Context, x *Node) *Node {
				mean, logVar := Encoder(ctx, x)
				z := Reparameterize(ctx, mean, logVar)
				return Decoder(ctx, z)
			})
		xHat = reconstructExec.MustExec1(x)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to reconstruct images")
	}

	if err = saveFlatImages(path.Join(outputDir, OriginalImagesFile), x, batchSize); err != nil {
		return nil, err
	}
	if err = saveFlatImages(path.Join(outputDir, ReconstructionsFile), xHat, batchSize); err != nil {
		return nil, err
	}
	klog.Infof("Saved %d original and reconstructed images to %q", batchSize, outputDir)
	return xHat, nil
}

// Generate samples n latent vectors from the prior N(0, I), decodes them to images and saves them as
// an image grid in outputDir.
//
// The context must hold a trained model: no new variables are created. It returns the generated images,
// shaped [n, x_dim].
func Generate(backend backends.Backend, ctx *context.Context, n int, outputDir string) (*tensors.Tensor, error) {
	if n <= 0 {
		return nil, errors.Errorf("number of images to generate must be > 0, got %d", n)
	}
	var generated *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		generateExec := context.MustNewExec(backend, ctx.In(ModelScope).Reuse(),
			func(ctx *context.Context, g *Graph) *Node {
				latentDim := context.GetParamOr(ctx, ParamLatentDim, 20)
				z := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, n, latentDim))
				return Decoder(ctx, z)
			})
		generated = generateExec.MustExec1()
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to generate images")
	}
	if err = saveFlatImages(path.Join(outputDir, GeneratedFile), generated, n); err != nil {
		return nil, err
	}
	klog.Infof("Saved %d generated images to %q", n, path.Join(outputDir, GeneratedFile))
	return generated, nil
}

// saveFlatImages saves the images in the tensor shaped [n, width*height] as a grid.
func saveFlatImages(filePath string, images *tensors.Tensor, n int) error {
	flat := tensors.MustCopyFlatData[float32](images)
	imgs, err := imagegrid.FromFlat(flat, n, mnist.Width, mnist.Height)
	if err != nil {
		return err
	}
	return imagegrid.Save(filePath, imgs)
}
