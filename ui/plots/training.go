// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"image/color"
	"path/filepath"

	"github.com/medalearn/medal/pkg/feedforward"
	"github.com/medalearn/medal/pkg/medal"
	"github.com/medalearn/medal/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Metric names collected by Collector.
const (
	MetricTrainLoss   = "Train loss"
	MetricValLoss     = "Val loss"
	MetricValAccuracy = "Val accuracy"
)

// Image sizes of the plots.
var (
	PlotWidth  = 8 * vg.Inch
	PlotHeight = 4 * vg.Inch
)

// Collector gathers the per-epoch metrics of a Trainer as plot points. The points are appended to
// TrainingPlotFileName in Dir at the end of each training, and the training curves drawn to
// training_curves.png.
type Collector struct {
	fs     afero.Fs
	dir    string
	points []Point

	// numSaved is the number of points already appended to the file.
	numSaved int
}

// HookName is the name of the hooks attached by Attach.
const HookName = "medal.ui.plots.Collector"

// Attach creates a Collector writing to dir and attaches it to the Trainer. If dir already holds
// points from a previous run (e.g. one being resumed), they are loaded first.
func Attach(tr *feedforward.Trainer, fs afero.Fs, dir string) (*Collector, error) {
	c := &Collector{fs: fs, dir: dir}
	filePath := c.PointsPath()
	exists, err := fsutil.FileExists(fs, filePath)
	if err != nil {
		return nil, err
	}
	if exists {
		if c.points, err = LoadPoints(fs, filePath); err != nil {
			return nil, err
		}
		c.numSaved = len(c.points)
		klog.V(1).Infof("loaded %d plot points from %q", len(c.points), filePath)
	}
	tr.OnEpoch(HookName, 10, c.onEpoch)
	tr.OnEnd(HookName, 10, c.onEnd)
	return c, nil
}

// PointsPath is the file where points are saved.
func (c *Collector) PointsPath() string {
	return filepath.Join(c.dir, TrainingPlotFileName)
}

// Points collected so far.
func (c *Collector) Points() []Point {
	return c.points
}

func (c *Collector) onEpoch(_ *feedforward.Trainer, _ *feedforward.Run, m feedforward.EpochMetrics) error {
	var step float64 = 1
	if len(c.points) > 0 {
		step = c.points[len(c.points)-1].Step + 1
	}
	c.points = append(c.points, Point{MetricName: MetricTrainLoss, MetricType: TypeLoss, ALIter: m.ALIter, Step: step, Value: m.TrainLoss})
	if m.HasVal {
		c.points = append(c.points,
			Point{MetricName: MetricValLoss, MetricType: TypeLoss, ALIter: m.ALIter, Step: step, Value: m.ValLoss},
			Point{MetricName: MetricValAccuracy, MetricType: TypeAccuracy, ALIter: m.ALIter, Step: step, Value: m.ValAccuracy})
	}
	return nil
}

func (c *Collector) onEnd(_ *feedforward.Trainer, _ *feedforward.Run) error {
	if err := c.Save(); err != nil {
		return err
	}
	return c.Draw(filepath.Join(c.dir, "training_curves.png"))
}

// Save appends the points not yet saved to the points file.
func (c *Collector) Save() error {
	if c.numSaved == len(c.points) {
		return nil
	}
	if err := AppendPoints(c.fs, c.PointsPath(), c.points[c.numSaved:]); err != nil {
		return err
	}
	c.numSaved = len(c.points)
	return nil
}

// Draw the loss curves to a PNG file.
func (c *Collector) Draw(filePath string) error {
	p, err := TrainingCurves(c.points, TypeLoss)
	if err != nil {
		return err
	}
	return savePlot(c.fs, p, filePath)
}

// TrainingCurves plots the points of the given metric type against their step, one line per metric.
func TrainingCurves(points []Point, metricType string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Training curves"
	p.X.Label.Text = "epochs"
	p.Y.Label.Text = metricType
	p.Add(plotter.NewGrid())

	byStep := NewPoints(points)
	var lines []any
	for _, name := range byStep.MetricsNames() {
		var xys plotter.XYs
		byStep.Map(func(pt *Point) {
			if pt.MetricName == name && pt.MetricType == metricType {
				xys = append(xys, plotter.XY{X: pt.Step, Y: pt.Value})
			}
		})
		if len(xys) > 0 {
			lines = append(lines, name, xys)
		}
	}
	if len(lines) > 0 {
		if err := plotutil.AddLinePoints(p, lines...); err != nil {
			return nil, errors.Wrap(err, "adding training curves")
		}
	}
	return p, nil
}

// LearningCurve plots the validation accuracy at the end of each active-learning iteration against
// the number of labeled points it trained on.
func LearningCurve(history []medal.IterationMetrics) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Active learning"
	p.X.Label.Text = "labeled points"
	p.Y.Label.Text = "validation accuracy"
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	var xys plotter.XYs
	for _, it := range history {
		if it.HasLast && it.Last.HasVal {
			xys = append(xys, plotter.XY{X: float64(it.Labeled), Y: it.Last.ValAccuracy})
		}
	}
	if len(xys) == 0 {
		return p, nil
	}
	line, scatter, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, errors.Wrap(err, "creating learning curve")
	}
	line.Color = color.RGBA{R: 0x70, G: 0x50, B: 0x90, A: 0xff}
	scatter.Color = line.Color
	p.Add(line, scatter)
	return p, nil
}

// SaveLearningCurve draws the LearningCurve to a PNG file.
func SaveLearningCurve(fs afero.Fs, history []medal.IterationMetrics, filePath string) error {
	p, err := LearningCurve(history)
	if err != nil {
		return err
	}
	return savePlot(fs, p, filePath)
}

// savePlot renders p as PNG to filePath in fs.
func savePlot(fs afero.Fs, p *plot.Plot, filePath string) error {
	writerTo, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return errors.Wrap(err, "rendering plot")
	}
	if err = fsutil.EnsureDir(fs, filepath.Dir(filePath)); err != nil {
		return err
	}
	f, err := fs.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating plot file %q", filePath)
	}
	if _, err = writerTo.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing plot file %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing plot file %q", filePath)
}
