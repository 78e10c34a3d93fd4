// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path"
	"slices"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/vae/pkg/mnist"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// configFile is the layout of the YAML configuration file:
//
//	experiment:
//	  hyperparameters:
//	    seed: 123
//	    batch_size: 100
//	    lr: 1e-3
//	    ...
type configFile struct {
	Experiment struct {
		Hyperparameters map[string]any `yaml:"hyperparameters"`
	} `yaml:"experiment"`
}

// LoadConfigFile reads the YAML configuration file and sets the hyperparameters found in it in the context.
//
// Only hyperparameters already defined in the context (see CreateDefaultContext) are accepted, and values
// are converted to the type of the current value. It returns the names of the hyperparameters set.
func LoadConfigFile(ctx *context.Context, filePath string) (paramsSet []string, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration file")
	}
	var cfgFile configFile
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err = dec.Decode(&cfgFile); err != nil {
		return nil, errors.Wrapf(err, "failed to parse configuration file %q", filePath)
	}

	keys := make([]string, 0, len(cfgFile.Experiment.Hyperparameters))
	for key := range cfgFile.Experiment.Hyperparameters {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		name := key
		if alias, found := paramAliases[key]; found {
			name = alias
		}
		current, found := ctx.GetParam(name)
		if !found {
			return nil, errors.Errorf("configuration file %q: unknown hyperparameter %q", filePath, key)
		}
		value, err := convertToTypeOf(current, cfgFile.Experiment.Hyperparameters[key])
		if err != nil {
			return nil, errors.WithMessagef(err, "configuration file %q: hyperparameter %q", filePath, key)
		}
		ctx.SetParam(name, value)
		paramsSet = append(paramsSet, name)
	}
	return paramsSet, nil
}

// convertToTypeOf converts the value parsed from YAML to the type of the reference value.
func convertToTypeOf(reference, value any) (any, error) {
	switch reference.(type) {
	case int:
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int(v), nil
			}
		}
	case float64:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case float64:
			return v, nil
		}
	case bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case string:
		switch v := value.(type) {
		case string:
			return v, nil
		case nil:
			return "", nil
		}
	default:
		return nil, errors.Errorf("hyperparameter of type %T can't be set from a configuration file", reference)
	}
	return nil, errors.Errorf("value %v (%T) can't be converted to %T", value, value, reference)
}

// Config holds the typed hyperparameters read from the context, plus the locations of the data and outputs.
type Config struct {
	// Context holding the hyperparameters and, after training, the model variables.
	Context *context.Context

	// ParamsSet are the hyperparameters explicitly set by the user (configuration file or command line).
	// These are not overwritten by values stored in a checkpoint.
	ParamsSet []string

	Seed                     int64
	Cuda                     bool
	BatchSize, EvalBatchSize int
	XDim, HiddenDim          int
	LatentDim                int
	LeakyReluAlpha           float64
	LearningRate             float64
	Epochs                   int
	NumCheckpoints           int

	// DataDir where the MNIST files are stored.
	DataDir string

	// OutputDir where images, loss history and the checkpoint are saved.
	OutputDir string

	// CheckpointDir, if empty, defaults to "trained_model" under OutputDir.
	CheckpointDir string

	// ShowProgressBar during training.
	ShowProgressBar bool
}

// NewConfig reads the hyperparameters from the context and validates them.
func NewConfig(ctx *context.Context) (*Config, error) {
	cfg := &Config{
		Context:         ctx,
		ShowProgressBar: true,
	}
	if err := cfg.ReadParams(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadParams (re-)reads the typed hyperparameters from the context and validates them.
// It is used after a checkpoint is loaded, since it may change the values in the context.
func (cfg *Config) ReadParams() error {
	ctx := cfg.Context
	cfg.Seed = int64(context.GetParamOr(ctx, ParamSeed, 0))
	cfg.Cuda = context.GetParamOr(ctx, ParamCuda, false)
	cfg.BatchSize = context.GetParamOr(ctx, ParamBatchSize, 0)
	cfg.EvalBatchSize = context.GetParamOr(ctx, ParamEvalBatchSize, 0)
	cfg.XDim = context.GetParamOr(ctx, ParamXDim, 0)
	cfg.HiddenDim = context.GetParamOr(ctx, ParamHiddenDim, 0)
	cfg.LatentDim = context.GetParamOr(ctx, ParamLatentDim, 0)
	cfg.LeakyReluAlpha = context.GetParamOr(ctx, ParamLeakyReluAlpha, 0.2)
	cfg.LearningRate = context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0)
	cfg.Epochs = context.GetParamOr(ctx, ParamEpochs, 0)
	cfg.NumCheckpoints = context.GetParamOr(ctx, ParamNumCheckpoints, 1)
	if cfg.EvalBatchSize == 0 {
		cfg.EvalBatchSize = cfg.BatchSize
	}
	return cfg.Validate()
}

// Validate checks the invariants of the hyperparameters, returning an error naming the offending one.
func (cfg *Config) Validate() error {
	if cfg.XDim != mnist.NumPixels {
		return errors.Errorf("invalid hyperparameter %q=%d: it must be %dx%d=%d", ParamXDim, cfg.XDim,
			mnist.Width, mnist.Height, mnist.NumPixels)
	}
	for _, dim := range []struct {
		name  string
		value int
	}{
		{ParamBatchSize, cfg.BatchSize},
		{ParamEvalBatchSize, cfg.EvalBatchSize},
		{ParamHiddenDim, cfg.HiddenDim},
		{ParamLatentDim, cfg.LatentDim},
		{ParamNumCheckpoints, cfg.NumCheckpoints},
	} {
		if dim.value <= 0 {
			return errors.Errorf("invalid hyperparameter %q=%d: it must be > 0", dim.name, dim.value)
		}
	}
	if cfg.BatchSize > mnist.TestExamples || cfg.EvalBatchSize > mnist.TestExamples {
		return errors.Errorf("invalid hyperparameters %q=%d/%q=%d: they must be <= %d, the size of the test partition",
			ParamBatchSize, cfg.BatchSize, ParamEvalBatchSize, cfg.EvalBatchSize, mnist.TestExamples)
	}
	if cfg.Epochs < 0 {
		return errors.Errorf("invalid hyperparameter %q=%d: it must be >= 0", ParamEpochs, cfg.Epochs)
	}
	if !(cfg.LearningRate > 0) {
		return errors.Errorf("invalid hyperparameter %q=%g: it must be > 0", ParamLearningRate, cfg.LearningRate)
	}
	if cfg.LeakyReluAlpha < 0 {
		return errors.Errorf("invalid hyperparameter %q=%g: it must be >= 0", ParamLeakyReluAlpha, cfg.LeakyReluAlpha)
	}
	return nil
}

// CheckpointPath returns the directory where the model checkpoint is saved.
func (cfg *Config) CheckpointPath() string {
	if cfg.CheckpointDir != "" {
		return cfg.CheckpointDir
	}
	return path.Join(cfg.OutputDir, "trained_model")
}

// String implements fmt.Stringer.
func (cfg *Config) String() string {
	return fmt.Sprintf("seed=%d, cuda=%v, batch_size=%d, x_dim=%d, hidden_dim=%d, latent_dim=%d, lr=%g, epochs=%d",
		cfg.Seed, cfg.Cuda, cfg.BatchSize, cfg.XDim, cfg.HiddenDim, cfg.LatentDim, cfg.LearningRate, cfg.Epochs)
}
