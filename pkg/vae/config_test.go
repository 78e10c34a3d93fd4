// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	filePath := path.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte(contents), 0644))
	return filePath
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := NewConfig(CreateDefaultContext())
	require.NoError(t, err)
	assert.Equal(t, int64(123), cfg.Seed)
	assert.False(t, cfg.Cuda)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 100, cfg.EvalBatchSize)
	assert.Equal(t, 784, cfg.XDim)
	assert.Equal(t, 400, cfg.HiddenDim)
	assert.Equal(t, 20, cfg.LatentDim)
	assert.Equal(t, 1e-3, cfg.LearningRate)
	assert.Equal(t, 5, cfg.Epochs)
	assert.Equal(t, "adam", context.GetParamOr(cfg.Context, optimizers.ParamOptimizer, ""))

	cfg.OutputDir = "/tmp/run"
	assert.Equal(t, "/tmp/run/trained_model", cfg.CheckpointPath())
	cfg.CheckpointDir = "/tmp/other"
	assert.Equal(t, "/tmp/other", cfg.CheckpointPath())
}

func TestLoadConfigFile(t *testing.T) {
	filePath := writeConfigFile(t, `
experiment:
  hyperparameters:
    seed: 7
    cuda: true
    batch_size: 50
    x_dim: 784
    hidden_dim: 200
    latent_dim: 2
    lr: 0.01
    epochs: 30.0
`)
	ctx := CreateDefaultContext()
	paramsSet, err := LoadConfigFile(ctx, filePath)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ParamSeed, ParamCuda, ParamBatchSize, ParamXDim, ParamHiddenDim,
		ParamLatentDim, optimizers.ParamLearningRate, ParamEpochs}, paramsSet)

	cfg, err := NewConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.True(t, cfg.Cuda)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 50, cfg.EvalBatchSize)
	assert.Equal(t, 200, cfg.HiddenDim)
	assert.Equal(t, 2, cfg.LatentDim)
	assert.Equal(t, 1e-2, cfg.LearningRate)
	assert.Equal(t, 30, cfg.Epochs)
}

func TestLoadConfigFileErrors(t *testing.T) {
	for name, contents := range map[string]string{
		"unknown hyperparameter": "experiment:\n  hyperparameters:\n    dropout: 0.1\n",
		"unknown section":        "training:\n  epochs: 3\n",
		"wrong type":             "experiment:\n  hyperparameters:\n    batch_size: lots\n",
		"fractional int":         "experiment:\n  hyperparameters:\n    epochs: 2.5\n",
		"invalid yaml":           "experiment: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfigFile(CreateDefaultContext(), writeConfigFile(t, contents))
			require.Error(t, err)
		})
	}

	_, err := LoadConfigFile(CreateDefaultContext(), path.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	for name, tc := range map[string]struct {
		param string
		value any
	}{
		"x_dim":       {ParamXDim, 100},
		"latent_dim":  {ParamLatentDim, 0},
		"hidden_dim":  {ParamHiddenDim, -1},
		"batch_size":  {ParamBatchSize, 20000},
		"epochs":      {ParamEpochs, -1},
		"lr":          {optimizers.ParamLearningRate, 0.0},
		"leaky_alpha": {ParamLeakyReluAlpha, -0.1},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := CreateDefaultContext()
			ctx.SetParam(tc.param, tc.value)
			_, err := NewConfig(ctx)
			require.Error(t, err)
		})
	}

	ctx := CreateDefaultContext()
	ctx.SetParam(ParamLatentDim, 0)
	_, err := NewConfig(ctx)
	require.ErrorContains(t, err, ParamLatentDim)
}
