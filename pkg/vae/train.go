// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"math/rand"
	"os"
	"path"
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/vae/pkg/mnist"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CheckpointPeriod is the interval between checkpoint saves during training, in addition to the saves
// at the end of every epoch.
var CheckpointPeriod = 3 * time.Minute

// Result of a training run.
type Result struct {
	RunID string

	// Epochs completed, including the ones of previous runs restored from the checkpoint.
	Epochs     int
	GlobalStep int64

	// History of the average loss per epoch.
	History *History

	// TestLoss is the mean ELBO loss over the test dataset, evaluated on TestExamples examples.
	TestLoss     float64
	TestExamples int

	CheckpointDir string
}

// CreateDatasets loads the MNIST train and test datasets from cfg.DataDir.
//
// The train dataset is shuffled at every epoch; the test dataset is yielded in file order.
func CreateDatasets(cfg *Config) (trainDS, testDS *mnist.Dataset, err error) {
	trainDS, err = mnist.NewDataset("train", cfg.DataDir, mnist.Train, cfg.BatchSize, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, nil, err
	}
	testDS, err = mnist.NewDataset("test", cfg.DataDir, mnist.Test, cfg.EvalBatchSize, nil)
	if err != nil {
		return nil, nil, err
	}
	return trainDS, testDS, nil
}

// LoadCheckpoint attaches a checkpoint handler to the context, loading the latest checkpoint from
// cfg.CheckpointPath() if there is one. Hyperparameters in cfg.ParamsSet and ParamsExcludedFromLoading
// keep their current values; the others are restored from the checkpoint and cfg is updated accordingly.
func LoadCheckpoint(cfg *Config) (*checkpoints.Handler, error) {
	excluded := append(slices.Clone(cfg.ParamsSet), ParamsExcludedFromLoading...)
	checkpoint, err := checkpoints.Build(cfg.Context).
		Dir(cfg.CheckpointPath()).
		Keep(cfg.NumCheckpoints).
		ExcludeParams(excluded...).
		Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to attach checkpoint in %q", cfg.CheckpointPath())
	}
	if err = cfg.ReadParams(); err != nil {
		return nil, errors.WithMessagef(err, "checkpoint in %q", checkpoint.Dir())
	}
	return checkpoint, nil
}

// TrainModel loads the MNIST datasets from cfg.DataDir and trains the model, see TrainModelWithDatasets.
func TrainModel(cfg *Config, backend backends.Backend) (*Result, error) {
	trainDS, testDS, err := CreateDatasets(cfg)
	if err != nil {
		return nil, err
	}
	return TrainModelWithDatasets(cfg, backend, trainDS, testDS)
}

// TrainModelWithDatasets trains the VAE for cfg.Epochs epochs over trainDS, saving checkpoints to
// cfg.CheckpointPath() and the loss history to cfg.OutputDir. At the end it evaluates the mean loss
// over testDS.
//
// If the checkpoint directory already holds a checkpoint, training resumes from it and only the remaining
// epochs are trained.
func TrainModelWithDatasets(cfg *Config, backend backends.Backend, trainDS, testDS *mnist.Dataset) (result *Result, err error) {
	if cfg.OutputDir == "" {
		return nil, errors.New("an output directory is required to train")
	}
	if err = os.MkdirAll(cfg.OutputDir, 0777); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %q", cfg.OutputDir)
	}
	var trainErr error
	err = exceptions.TryCatch[error](func() {
		result, trainErr = trainModel(cfg, backend, trainDS, testDS)
	})
	if err == nil {
		err = trainErr
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func trainModel(cfg *Config, backend backends.Backend, trainDS, testDS *mnist.Dataset) (*Result, error) {
	ctx := cfg.Context
	checkpoint, err := LoadCheckpoint(cfg)
	if err != nil {
		return nil, err
	}

	runID := context.GetParamOr(ctx, ParamRunID, "")
	if runID == "" {
		runID = uuid.NewString()
		ctx.SetParam(ParamRunID, runID)
	}
	klog.Infof("Run %s: backend %q, %s", runID, backend.Name(), cfg)

	// The optimizer keeps the global step in the trainer's scope.
	modelCtx := ctx.In(ModelScope)
	stepsPerEpoch := trainDS.NumBatches()
	globalStep := int(optimizers.GetGlobalStep(modelCtx))
	epochsDone := globalStep / stepsPerEpoch
	if globalStep == 0 {
		ctx.RngStateFromSeed(cfg.Seed)
	} else {
		klog.Infof("Resuming from checkpoint %q at global step %d (%d epochs completed)",
			checkpoint.Dir(), globalStep, epochsDone)
	}
	trainDS.WithShuffle(rand.New(rand.NewSource(cfg.Seed + int64(epochsDone))))

	history, err := LoadHistory(path.Join(cfg.OutputDir, HistoryFile))
	if err != nil {
		return nil, err
	}
	history = history.truncate(epochsDone)

	trainer := train.NewTrainer(backend, modelCtx, ModelGraph, Loss,
		optimizers.FromContext(modelCtx),
		[]metrics.Interface{}, // trainMetrics
		[]metrics.Interface{}) // evalMetrics
	if globalStep > 0 {
		trainer.SetContext(modelCtx.Reuse())
	}

	loop := train.NewLoop(trainer)
	if cfg.ShowProgressBar {
		commandline.AttachProgressBar(loop) // Attaches a progress bar to the loop.
	}
	tracker := &epochTracker{
		stepsPerEpoch: stepsPerEpoch,
		history:       history,
		checkpoint:    checkpoint,
	}
	loop.OnStep("epoch average loss", 0, tracker.onStep)
	train.PeriodicCallback(loop, CheckpointPeriod, false, "saving checkpoint", 100,
		func(loop *train.Loop, metrics []*tensors.Tensor) error {
			return checkpoint.Save()
		})

	targetStep := cfg.Epochs * stepsPerEpoch
	if globalStep < targetStep {
		err = runRemainingSteps(loop, trainDS, stepsPerEpoch, targetStep)
		klog.V(1).Infof("[Step %d] median train step: %d microseconds",
			loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		if err != nil {
			if loop.LoopStep > globalStep {
				klog.Infof("Saving checkpoint before failing at loop step %d", loop.LoopStep)
				if errSave := checkpoint.Save(); errSave != nil {
					klog.Errorf("Error while saving checkpoint before failing: %+v", errSave)
				}
			}
			return nil, errors.WithMessage(err, "training failed")
		}
		klog.Info("Finish!!")
	} else {
		klog.Infof("Target epochs=%d already reached. To train further, set a larger number of epochs.", cfg.Epochs)
	}
	if err = checkpoint.Save(); err != nil {
		return nil, errors.WithMessage(err, "failed to save the trained model")
	}
	if err = history.Save(cfg.OutputDir); err != nil {
		return nil, err
	}

	testMetrics, err := trainer.Eval(testDS)
	testDS.Reset()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to evaluate on %q", testDS.Name())
	}
	testLoss := shapes.ConvertTo[float64](testMetrics[0].Value())
	klog.Infof("Test loss (%s): %.4f", trainer.EvalMetrics()[0].Name(), testLoss)

	globalStep = int(optimizers.GetGlobalStep(modelCtx))
	return &Result{
		RunID:         runID,
		Epochs:        globalStep / stepsPerEpoch,
		GlobalStep:    int64(globalStep),
		History:       history,
		TestLoss:      testLoss,
		TestExamples:  testDS.NumBatches() * testDS.BatchSize(),
		CheckpointDir: checkpoint.Dir(),
	}, nil
}

// runRemainingSteps trains until the loop reaches targetStep, a multiple of stepsPerEpoch.
//
// A checkpoint saved in the middle of an epoch is resumed by first training the steps missing to
// complete that epoch, and then the remaining full epochs.
func runRemainingSteps(loop *train.Loop, trainDS *mnist.Dataset, stepsPerEpoch, targetStep int) error {
	if partial := loop.LoopStep % stepsPerEpoch; partial > 0 {
		if _, err := loop.RunSteps(trainDS, min(stepsPerEpoch-partial, targetStep-loop.LoopStep)); err != nil {
			return err
		}
		trainDS.Reset()
	}
	if epochs := (targetStep - loop.LoopStep) / stepsPerEpoch; epochs > 0 {
		if _, err := loop.RunEpochs(trainDS, epochs); err != nil {
			return err
		}
	}
	return nil
}

// epochTracker accumulates the batch losses of an epoch, and at the end of each epoch it logs the average,
// records it in the history and saves a checkpoint.
//
// Epochs are delimited by the global step, so an epoch resumed from a mid-epoch checkpoint is averaged over
// the steps trained since the resume.
type epochTracker struct {
	stepsPerEpoch int
	history       *History
	checkpoint    *checkpoints.Handler

	lossSum float64
	count   int
}

func (t *epochTracker) onStep(loop *train.Loop, metrics []*tensors.Tensor) error {
	t.lossSum += shapes.ConvertTo[float64](metrics[0].Value())
	t.count++
	stepsDone := loop.LoopStep + 1
	if stepsDone%t.stepsPerEpoch != 0 {
		return nil
	}
	epoch := stepsDone / t.stepsPerEpoch
	average := t.lossSum / float64(t.count)
	t.lossSum, t.count = 0, 0
	klog.Infof("Epoch %d complete! Average Loss: %.4f", epoch, average)
	t.history.Record(epoch, average)
	return t.checkpoint.Save()
}
