// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/vae/pkg/mnist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticDigits creates n images with a bright square in one of 4 quadrants (the label), over a dark background.
func syntheticDigits(n int) ([]mnist.Image, []mnist.Label) {
	images := make([]mnist.Image, n)
	labels := make([]mnist.Label, n)
	for ii := range n {
		quadrant := ii % 4
		x0, y0 := (quadrant%2)*14+2, (quadrant/2)*14+2
		for y := y0; y < y0+10; y++ {
			for x := x0; x < x0+10; x++ {
				images[ii].Set(x, y, 255)
			}
		}
		labels[ii] = mnist.Label(quadrant)
	}
	return images, labels
}

// newSmallTrainConfig returns a configuration for a small model trained on synthetic digits.
func newSmallTrainConfig(t *testing.T, outputDir string, epochs int) *Config {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamHiddenDim:               32,
		ParamLatentDim:               2,
		ParamBatchSize:               16,
		ParamEpochs:                  epochs,
		optimizers.ParamLearningRate: 1e-2,
	})
	cfg, err := NewConfig(ctx)
	require.NoError(t, err)
	cfg.OutputDir = outputDir
	cfg.ShowProgressBar = false
	return cfg
}

func newSyntheticDatasets(t *testing.T, cfg *Config) (trainDS, testDS *mnist.Dataset) {
	return newSyntheticDatasetsWithSize(t, cfg, 64)
}

// newSyntheticDatasetsWithSize creates a train dataset with numTrain examples, and a test dataset with 32.
func newSyntheticDatasetsWithSize(t *testing.T, cfg *Config, numTrain int) (trainDS, testDS *mnist.Dataset) {
	images, labels := syntheticDigits(max(numTrain, 32))
	trainDS, err := mnist.NewDatasetFromExamples("train", images[:numTrain], labels[:numTrain], cfg.BatchSize, nil)
	require.NoError(t, err)
	testDS, err = mnist.NewDatasetFromExamples("test", images[:32], labels[:32], cfg.EvalBatchSize, nil)
	require.NoError(t, err)
	return
}

func TestTrainModel(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping training test in short mode.")
	}
	backend := graphtest.BuildTestBackend()
	outputDir := t.TempDir()

	cfg := newSmallTrainConfig(t, outputDir, 4)
	trainDS, testDS := newSyntheticDatasets(t, cfg)
	result, err := TrainModelWithDatasets(cfg, backend, trainDS, testDS)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Epochs)
	assert.Equal(t, int64(4*4), result.GlobalStep)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 32, result.TestExamples)
	require.Equal(t, []int{1, 2, 3, 4}, result.History.Epochs)
	assert.Less(t, result.History.Losses[3], result.History.Losses[0], "loss should decrease: %v", result.History.Losses)
	assert.Greater(t, result.TestLoss, 0.0)
	assert.Contains(t, result.Summary(), result.RunID)

	for _, name := range []string{HistoryFile, LossCurveFile, "trained_model"} {
		_, err := os.Stat(path.Join(outputDir, name))
		require.NoError(t, err, "%q not created", name)
	}

	// Sampling from the trained model.
	_, err = Reconstruct(backend, cfg.Context, testDS, outputDir)
	require.NoError(t, err)
	_, err = Generate(backend, cfg.Context, cfg.BatchSize, outputDir)
	require.NoError(t, err)

	// Resume with one more epoch, from a fresh context: only one epoch should be trained.
	cfg2 := newSmallTrainConfig(t, outputDir, 5)
	trainDS, testDS = newSyntheticDatasets(t, cfg2)
	result2, err := TrainModelWithDatasets(cfg2, backend, trainDS, testDS)
	require.NoError(t, err)
	assert.Equal(t, 5, result2.Epochs)
	assert.Equal(t, int64(5*4), result2.GlobalStep)
	assert.Equal(t, result.RunID, result2.RunID, "run id should be restored from the checkpoint")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, result2.History.Epochs)

	// Generating from a checkpoint only, as done by the command line with -generate.
	cfg3 := newSmallTrainConfig(t, outputDir, 5)
	checkpoint, err := LoadCheckpoint(cfg3)
	require.NoError(t, err)
	hasCheckpoints, err := checkpoint.HasCheckpoints()
	require.NoError(t, err)
	require.True(t, hasCheckpoints)
	assert.Equal(t, result.RunID, context.GetParamOr(cfg3.Context, ParamRunID, ""))
	generateDir := path.Join(outputDir, "generate")
	_, err = Generate(backend, cfg3.Context, 8, generateDir)
	require.NoError(t, err)
}

func TestTrainModelResume(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	outputDir := t.TempDir()

	// 32 examples with batch size 16: 2 steps per epoch.
	cfg := newSmallTrainConfig(t, outputDir, 1)
	trainDS, testDS := newSyntheticDatasetsWithSize(t, cfg, 32)
	result, err := TrainModelWithDatasets(cfg, backend, trainDS, testDS)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.GlobalStep)
	assert.Equal(t, 1, result.Epochs)
	assert.Equal(t, []int{1}, result.History.Epochs)

	// Resumed with one more epoch: only 2 more steps are trained.
	cfg = newSmallTrainConfig(t, outputDir, 2)
	trainDS, testDS = newSyntheticDatasetsWithSize(t, cfg, 32)
	result, err = TrainModelWithDatasets(cfg, backend, trainDS, testDS)
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.GlobalStep)
	assert.Equal(t, 2, result.Epochs)
	assert.Equal(t, []int{1, 2}, result.History.Epochs)

	// Already at the target number of epochs: nothing is trained.
	cfg = newSmallTrainConfig(t, outputDir, 2)
	trainDS, testDS = newSyntheticDatasetsWithSize(t, cfg, 32)
	result, err = TrainModelWithDatasets(cfg, backend, trainDS, testDS)
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.GlobalStep)
	assert.Equal(t, []int{1, 2}, result.History.Epochs)
}

func TestTrainModelResumeMidEpoch(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	outputDir := t.TempDir()

	// 2 steps with 2 steps per epoch.
	cfg := newSmallTrainConfig(t, outputDir, 1)
	trainDS, testDS := newSyntheticDatasetsWithSize(t, cfg, 32)
	result, err := TrainModelWithDatasets(cfg, backend, trainDS, testDS)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.GlobalStep)

	// With 48 examples there are 3 steps per epoch, so the checkpoint is in the middle of the first epoch:
	// 1 step completes it, and then one more full epoch is trained, for exactly 2*3 steps.
	cfg = newSmallTrainConfig(t, outputDir, 2)
	trainDS, testDS = newSyntheticDatasetsWithSize(t, cfg, 48)
	result, err = TrainModelWithDatasets(cfg, backend, trainDS, testDS)
	require.NoError(t, err)
	assert.Equal(t, int64(6), result.GlobalStep)
	assert.Equal(t, 2, result.Epochs)
	assert.Equal(t, []int{1, 2}, result.History.Epochs)
}

func TestTrainModelRequiresOutputDir(t *testing.T) {
	cfg := newSmallTrainConfig(t, "", 1)
	trainDS, testDS := newSyntheticDatasets(t, cfg)
	_, err := TrainModelWithDatasets(cfg, nil, trainDS, testDS)
	require.Error(t, err)
}
