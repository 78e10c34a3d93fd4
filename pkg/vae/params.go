// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vae implements a variational autoencoder (VAE) for MNIST digits: an MLP encoder that maps
// images to the mean and log-variance of a diagonal Gaussian posterior, the reparameterization trick,
// an MLP decoder back to pixel probabilities, and the ELBO loss.
//
// It also includes the training procedure, reconstruction and generation of samples, all configured
// through hyperparameters stored in a context.Context.
package vae

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Hyperparameter names, stored in the context.
const (
	ParamSeed           = "seed"
	ParamCuda           = "cuda"
	ParamBatchSize      = "batch_size"
	ParamEvalBatchSize  = "eval_batch_size"
	ParamXDim           = "x_dim"
	ParamHiddenDim      = "hidden_dim"
	ParamLatentDim      = "latent_dim"
	ParamEpochs         = "epochs"
	ParamLeakyReluAlpha = "leaky_relu_alpha"
	ParamNumCheckpoints = "num_checkpoints"
	ParamRunID          = "run_id"

	// ParamLearningRate is the name used in configuration files for optimizers.ParamLearningRate.
	ParamLearningRate = "lr"
)

// ModelScope is the context scope under which the model variables are created.
const ModelScope = "vae"

// CreateDefaultContext sets the context with default hyperparameters to use with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// seed for the random number generator used in the model (initialization, sampling) and to
		// shuffle the training data.
		ParamSeed: 123,

		// cuda selects the "xla:cuda" backend, if true.
		ParamCuda: false,

		// batch_size for training.
		ParamBatchSize: 100,

		// eval_batch_size for evaluating the loss on the test set. If 0, batch_size is used.
		ParamEvalBatchSize: 0,

		// Model dimensions: x_dim must be the number of pixels of one image.
		ParamXDim:           784,
		ParamHiddenDim:      400,
		ParamLatentDim:      20,
		ParamLeakyReluAlpha: 0.2,

		// epochs to train.
		ParamEpochs: 5,

		// num_checkpoints to keep in the checkpoint directory.
		ParamNumCheckpoints: 3,

		// run_id identifies the training run, it is set on the first run and saved in the checkpoint.
		ParamRunID: "",

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-3,
		optimizers.ParamAdamEpsilon:  1e-8,
	})
	return ctx
}

// paramAliases maps names used in configuration files to the context hyperparameter names.
var paramAliases = map[string]string{
	ParamLearningRate: optimizers.ParamLearningRate,
}

// ParamsExcludedFromLoading are hyperparameters that are not restored from a checkpoint: they are
// always taken from the current configuration.
var ParamsExcludedFromLoading = []string{ParamCuda, ParamEpochs, ParamNumCheckpoints, ParamEvalBatchSize}
