// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory(t *testing.T) {
	outputDir := t.TempDir()
	h, err := LoadHistory(path.Join(outputDir, HistoryFile))
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())
	epoch, _ := h.Last()
	assert.Equal(t, 0, epoch)

	h.Record(1, 180.5)
	h.Record(2, 150.25)
	h.Record(3, 140.125)
	require.NoError(t, h.Save(outputDir))
	for _, name := range []string{HistoryFile, LossCurveFile} {
		_, err := os.Stat(path.Join(outputDir, name))
		require.NoError(t, err, "%q not created", name)
	}

	loaded, err := LoadHistory(path.Join(outputDir, HistoryFile))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, loaded.Epochs)
	assert.InDeltaSlice(t, []float64{180.5, 150.25, 140.125}, loaded.Losses, 1e-6)

	truncated := loaded.truncate(2)
	assert.Equal(t, []int{1, 2}, truncated.Epochs)
	epoch, loss := truncated.Last()
	assert.Equal(t, 2, epoch)
	assert.Equal(t, 150.25, loss)

	require.Error(t, (&History{}).SavePlot(path.Join(outputDir, "empty.png")))
}

func TestResultSummary(t *testing.T) {
	h := &History{}
	h.Record(1, 123.4567)
	r := &Result{
		RunID:         "run-1234",
		Epochs:        1,
		GlobalStep:    600,
		History:       h,
		TestLoss:      120.1,
		TestExamples:  10000,
		CheckpointDir: "/tmp/trained_model",
	}
	summary := r.Summary()
	for _, want := range []string{"run-1234", "123.4567", "120.1000", "10,000", "/tmp/trained_model"} {
		assert.Contains(t, summary, want)
	}
}
