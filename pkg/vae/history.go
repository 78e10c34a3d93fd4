// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"fmt"
	"os"
	"path"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Loss history file names, saved in the output directory.
const (
	HistoryFile   = "loss_history.csv"
	LossCurveFile = "loss_curve.png"

	epochColumn = "epoch"
	lossColumn  = "average_loss"
)

// History of the average training loss per epoch.
type History struct {
	Epochs []int
	Losses []float64
}

// LoadHistory reads the loss history from a CSV file previously saved with History.SaveCSV.
// If the file doesn't exist, it returns an empty History.
func LoadHistory(filePath string) (*History, error) {
	h := &History{}
	exists, err := fsutil.FileExists(filePath)
	if err != nil || !exists {
		return h, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open loss history")
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.WithTypes(map[string]series.Type{
		epochColumn: series.Int,
		lossColumn:  series.Float,
	}))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "failed to parse loss history %q", filePath)
	}
	h.Epochs, err = df.Col(epochColumn).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid column %q in loss history %q", epochColumn, filePath)
	}
	h.Losses = df.Col(lossColumn).Float()
	return h, nil
}

// Record the average loss of an epoch. Epochs are numbered from 1.
func (h *History) Record(epoch int, loss float64) {
	h.Epochs = append(h.Epochs, epoch)
	h.Losses = append(h.Losses, loss)
}

// Len returns the number of epochs recorded.
func (h *History) Len() int { return len(h.Epochs) }

// Last returns the last recorded epoch and loss. It returns epoch 0 if nothing was recorded.
func (h *History) Last() (epoch int, loss float64) {
	if len(h.Epochs) == 0 {
		return 0, 0
	}
	return h.Epochs[len(h.Epochs)-1], h.Losses[len(h.Losses)-1]
}

// truncate drops the recorded epochs after the given one.
func (h *History) truncate(epoch int) *History {
	out := &History{}
	for ii, e := range h.Epochs {
		if e <= epoch {
			out.Record(e, h.Losses[ii])
		}
	}
	return out
}

// DataFrame returns the history as a dataframe with the columns "epoch" and "average_loss".
func (h *History) DataFrame() dataframe.DataFrame {
	return dataframe.New(
		series.New(h.Epochs, series.Int, epochColumn),
		series.New(h.Losses, series.Float, lossColumn),
	)
}

// SaveCSV writes the history to a CSV file.
func (h *History) SaveCSV(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrap(err, "failed to create loss history file")
	}
	if err = h.DataFrame().WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write loss history to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}

// SavePlot plots the loss curve to an image file. The format is given by the file extension.
func (h *History) SavePlot(filePath string) error {
	if h.Len() == 0 {
		return errors.Errorf("no loss recorded, can't plot %q", filePath)
	}
	p := plot.New()
	p.Title.Text = "VAE training loss"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Average loss (negative ELBO)"
	points := make(plotter.XYs, h.Len())
	for ii := range points {
		points[ii].X = float64(h.Epochs[ii])
		points[ii].Y = h.Losses[ii]
	}
	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return errors.Wrap(err, "failed to plot loss curve")
	}
	p.Add(line, scatter, plotter.NewGrid())
	if err = p.Save(8*vg.Inch, 5*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save loss curve to %q", filePath)
	}
	return nil
}

// Save writes the CSV history and the loss curve plot to outputDir.
func (h *History) Save(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create output directory %q", outputDir)
	}
	if err := h.SaveCSV(path.Join(outputDir, HistoryFile)); err != nil {
		return err
	}
	if h.Len() == 0 {
		return nil
	}
	return h.SavePlot(path.Join(outputDir, LossCurveFile))
}

var (
	summaryHeaderStyle = lipgloss.NewStyle().Reverse(true).
				Padding(0, 2, 0, 2).Align(lipgloss.Center)
	summaryRowStyle = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
)

// Summary of a training run, see Result.
func (r *Result) Summary() string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("Summary", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return summaryHeaderStyle
			}
			if col == 1 {
				return summaryRowStyle.Align(lipgloss.Right)
			}
			return summaryRowStyle
		})
	table.Row("Run ID", r.RunID)
	table.Row("Epochs", humanize.Comma(int64(r.Epochs)))
	table.Row("Train steps", humanize.Comma(int64(r.GlobalStep)))
	if _, loss := r.History.Last(); r.History.Len() > 0 {
		table.Row("Train loss (last epoch)", fmt.Sprintf("%.4f", loss))
	}
	table.Row(fmt.Sprintf("Test loss (%s examples)", humanize.Comma(int64(r.TestExamples))), fmt.Sprintf("%.4f", r.TestLoss))
	table.Row("Checkpoint", r.CheckpointDir)
	return table.String()
}
