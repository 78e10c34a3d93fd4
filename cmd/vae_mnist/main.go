// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// vae_mnist trains a variational autoencoder on MNIST, and samples reconstructed and generated digits.
//
//  1. With `vae_mnist -download`: downloads the MNIST files to the -data directory, if not there yet.
//  2. With `vae_mnist -train` (the default): trains the model, saves the checkpoint, the loss history,
//     reconstructions of the first test batch and a batch of generated images to the -output directory.
//  3. With `vae_mnist -train=false -generate -checkpoint=<dir>`: generates images from a previously trained model.
//
// Hyperparameters are read from the -config YAML file and can be overridden with -set, e.g.:
//
//	vae_mnist -config=config/default_config.yaml -set="epochs=10;latent_dim=2"
package main

import (
	"flag"
	"fmt"
	"path"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/vae/pkg/mnist"
	"github.com/gomlx/vae/pkg/vae"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

const defaultConfigFile = "config/default_config.yaml"

var (
	flagConfig     = flag.String("config", defaultConfigFile, "YAML configuration file with the hyperparameters under experiment.hyperparameters.")
	flagDataDir    = flag.String("data", "~/datasets/mnist", "Directory to cache downloaded dataset.")
	flagOutputDir  = flag.String("output", "", "Directory where to save the outputs. Defaults to outputs/<date>/<time>.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory of the model checkpoint. Defaults to <output>/trained_model. "+
		"Required with -train=false -generate, since a new output directory holds no trained model.")
	flagDownload   = flag.Bool("download", true, "Download the MNIST files, if not yet in the -data directory.")
	flagTrain      = flag.Bool("train", true, "Train the model, resuming from the checkpoint if there is one.")
	flagGenerate   = flag.Bool("generate", false, "Generate images from the trained model (implied by -train).")
	flagNoProgress = flag.Bool("no_progress", false, "Disable the progress bars.")
)

func main() {
	ctx := vae.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	err := exceptions.TryCatch[error](func() {
		must.M(validateFlags(*flagTrain, *flagGenerate, *flagCheckpoint))
		var paramsSet []string
		if *flagConfig != "" {
			configPath := must.M1(fsutil.ReplaceTildeInDir(*flagConfig))
			if *flagConfig != defaultConfigFile || must.M1(fsutil.FileExists(configPath)) {
				paramsSet = must.M1(vae.LoadConfigFile(ctx, configPath))
			}
		}
		paramsSet = append(paramsSet, must.M1(commandline.ParseContextSettings(ctx, *settings))...)
		if len(paramsSet) > 0 {
			klog.Infof("Hyperparameters set:\n%s", commandline.SprintModifiedContextSettings(ctx, paramsSet))
		}

		cfg := must.M1(vae.NewConfig(ctx))
		cfg.ParamsSet = paramsSet
		cfg.DataDir = must.M1(fsutil.ReplaceTildeInDir(*flagDataDir))
		cfg.OutputDir = *flagOutputDir
		if cfg.OutputDir == "" {
			now := time.Now()
			cfg.OutputDir = path.Join("outputs", now.Format("2006-01-02"), now.Format("15-04-05"))
		}
		cfg.OutputDir = must.M1(fsutil.ReplaceTildeInDir(cfg.OutputDir))
		if *flagCheckpoint != "" {
			cfg.CheckpointDir = must.M1(fsutil.ReplaceTildeInDir(*flagCheckpoint))
		}
		cfg.ShowProgressBar = !*flagNoProgress
		run(cfg)
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// validateFlags checks for combinations of flags that can't work.
func validateFlags(train, generate bool, checkpoint string) error {
	if !train && generate && checkpoint == "" {
		return errors.New("-generate without -train requires -checkpoint pointing to a trained model")
	}
	return nil
}

func run(cfg *vae.Config) {
	if *flagDownload {
		must.M(mnist.Download(cfg.DataDir))
		klog.Infof("MNIST data in %q", cfg.DataDir)
	}
	if !*flagTrain && !*flagGenerate {
		klog.Info("Nothing else to do: use -train and/or -generate")
		return
	}
	backend := newBackend(cfg)
	defer backend.Finalize()

	if *flagTrain {
		trainDS, testDS := must.M2(vae.CreateDatasets(cfg))
		result := must.M1(vae.TrainModelWithDatasets(cfg, backend, trainDS, testDS))
		fmt.Println(result.Summary())
		must.M1(vae.Reconstruct(backend, cfg.Context, testDS, cfg.OutputDir))
		must.M1(vae.Generate(backend, cfg.Context, cfg.BatchSize, cfg.OutputDir))
		return
	}

	// Generate only, from an existing checkpoint.
	checkpoint := must.M1(vae.LoadCheckpoint(cfg))
	if !must.M1(checkpoint.HasCheckpoints()) {
		exceptions.Panicf("no trained model found in %q: train it first, or set -checkpoint", checkpoint.Dir())
	}
	must.M1(vae.Generate(backend, cfg.Context, cfg.BatchSize, cfg.OutputDir))
}

// newBackend creates the backend: "xla:cuda" if the hyperparameter "cuda" is set, otherwise the default
// backend, which can be configured with the GOMLX_BACKEND environment variable.
func newBackend(cfg *vae.Config) backends.Backend {
	var backend backends.Backend
	if cfg.Cuda {
		backend = must.M1(backends.NewWithConfig("xla:cuda"))
	} else {
		backend = must.M1(backends.New())
	}
	klog.Infof("Backend %q: %s", backend.Name(), backend.Description())
	return backend
}
