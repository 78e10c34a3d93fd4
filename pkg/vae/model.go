// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// Epsilon used to clip the decoder output away from 0 and 1 before taking logarithms in the loss.
const Epsilon = 1e-7

var (
	_ train.ModelFn = ModelGraph
	_ train.LossFn  = Loss
)

// hiddenLayers applies two dense layers of hidden_dim units, each followed by a leaky ReLU.
func hiddenLayers(ctx *context.Context, x *Node) *Node {
	hiddenDim := context.GetParamOr(ctx, ParamHiddenDim, 400)
	alpha := context.GetParamOr(ctx, ParamLeakyReluAlpha, 0.2)
	for _, name := range []string{"hidden_0", "hidden_1"} {
		x = layers.Dense(ctx.In(name), x, true, hiddenDim)
		x = activations.LeakyReluWithAlpha(x, alpha)
	}
	return x
}

// Encoder maps the flattened images x, shaped [batch_size, x_dim], to the mean and log-variance of the
// approximate posterior over the latent space, both shaped [batch_size, latent_dim].
func Encoder(ctx *context.Context, x *Node) (mean, logVar *Node) {
	ctx = ctx.In("encoder")
	latentDim := context.GetParamOr(ctx, ParamLatentDim, 20)
	h := hiddenLayers(ctx, x)
	mean = layers.Dense(ctx.In("mean"), h, true, latentDim)
	logVar = layers.Dense(ctx.In("log_var"), h, true, latentDim)
	return
}

// Decoder maps latent vectors z, shaped [batch_size, latent_dim], to pixel probabilities in (0, 1),
// shaped [batch_size, x_dim].
func Decoder(ctx *context.Context, z *Node) (xHat *Node) {
	ctx = ctx.In("decoder")
	xDim := context.GetParamOr(ctx, ParamXDim, 784)
	h := hiddenLayers(ctx, z)
	xHat = layers.Dense(ctx.In("output"), h, true, xDim)
	return Sigmoid(xHat)
}

// Reparameterize samples z = mean + exp(0.5*logVar) * ε, with ε ~ N(0, I) drawn from the context
// random number generator, so gradients flow through mean and logVar.
func Reparameterize(ctx *context.Context, mean, logVar *Node) (z *Node) {
	g := mean.Graph()
	epsilon := ctx.RandomNormal(g, mean.Shape())
	stddev := Exp(MulScalar(logVar, 0.5))
	return Add(mean, Mul(stddev, epsilon))
}

// ELBOLoss returns the negative evidence lower bound averaged over the examples of the batch: the summed
// binary cross-entropy of the reconstruction plus the KL divergence of the posterior N(mean, exp(logVar))
// to the prior N(0, I).
//
// x and xHat are shaped [batch_size, x_dim], mean and logVar are shaped [batch_size, latent_dim].
func ELBOLoss(x, xHat, mean, logVar *Node) *Node {
	xHat = ClipScalar(xHat, Epsilon, 1-Epsilon)
	bce := Neg(ReduceSum(
		Add(Mul(x, Log(xHat)), Mul(OneMinus(x), Log(OneMinus(xHat)))),
		1))
	kld := MulScalar(ReduceSum(
		Sub(Sub(OnePlus(logVar), Square(mean)), Exp(logVar)),
		1), -0.5)
	return ReduceAllMean(Add(bce, kld))
}

// ModelGraph implements train.ModelFn. It takes as input the images batch, shaped [batch_size, x_dim],
// and returns:
//
//   - xHat: the reconstructed images, shaped [batch_size, x_dim].
//   - mean, logVar: the posterior parameters, shaped [batch_size, latent_dim].
//   - loss: the scalar ELBO loss, see ELBOLoss.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec // Not used.
	x := inputs[0]
	mean, logVar := Encoder(ctx, x)
	z := Reparameterize(ctx, mean, logVar)
	xHat := Decoder(ctx, z)
	loss := ELBOLoss(x, xHat, mean, logVar)
	return []*Node{xHat, mean, logVar, loss}
}

// Loss implements train.LossFn: the loss is calculated by ModelGraph, and returned as its last prediction.
func Loss(labels, predictions []*Node) *Node {
	_ = labels // Not used.
	return predictions[len(predictions)-1]
}
