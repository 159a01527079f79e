// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"testing"

	"github.com/medalearn/medal/pkg/config"
	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/feedforward"
	"github.com/medalearn/medal/pkg/medal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointsRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	points := []Point{
		{MetricName: MetricTrainLoss, MetricType: TypeLoss, Step: 1, Value: 0.7},
		{MetricName: MetricValAccuracy, MetricType: TypeAccuracy, Step: 1, Value: 0.5},
		{MetricName: MetricTrainLoss, MetricType: TypeLoss, Step: 2, Value: 0.6},
	}
	require.NoError(t, AppendPoints(fs, "/runs/x/"+TrainingPlotFileName, points[:2]))
	require.NoError(t, AppendPoints(fs, "/runs/x/"+TrainingPlotFileName, points[2:]))
	loaded, err := LoadPoints(fs, "/runs/x/"+TrainingPlotFileName)
	require.NoError(t, err)
	assert.Equal(t, points, loaded)

	byStep := NewPoints(loaded)
	assert.Len(t, byStep[1], 2)
	assert.Equal(t, []string{MetricValAccuracy, MetricTrainLoss}, byStep.MetricsNames())
	assert.Contains(t, byStep.String(), "0.600000")
}

func TestCollector(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := config.Default()
	cfg.RunID = "plots_test"
	cfg.Epochs = 3
	ds, err := data.NewSynthetic(30, 2, 0)
	require.NoError(t, err)
	run := &feedforward.Run{
		Config:      cfg,
		Classifier:  feedforward.NewClassifier(cfg, ds.NumFeatures()),
		Dataset:     ds,
		TrainLoader: feedforward.NewLoader(cfg, ds, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, true),
		ValLoader:   feedforward.NewLoader(cfg, ds, []int{20, 21, 22, 23}, false),
	}
	tr := feedforward.NewTrainer()
	collector, err := Attach(tr, fs, "/models/plots_test")
	require.NoError(t, err)
	require.NoError(t, tr.Train(run))
	assert.Len(t, collector.Points(), 3*3)

	exists, err := afero.Exists(fs, "/models/plots_test/training_curves.png")
	require.NoError(t, err)
	assert.True(t, exists)

	// A resumed run continues the steps.
	tr = feedforward.NewTrainer()
	collector, err = Attach(tr, fs, "/models/plots_test")
	require.NoError(t, err)
	assert.Len(t, collector.Points(), 9)
	cfg.Epochs = 4
	require.NoError(t, tr.Train(run))
	points := collector.Points()
	assert.Equal(t, 4.0, points[len(points)-1].Step)
	saved, err := LoadPoints(fs, collector.PointsPath())
	require.NoError(t, err)
	assert.Len(t, saved, 12)
}

func TestLearningCurve(t *testing.T) {
	history := []medal.IterationMetrics{
		{ALIter: 1, Labeled: 1, HasLast: true, Last: feedforward.EpochMetrics{HasVal: true, ValAccuracy: 0.5}},
		{ALIter: 2, Labeled: 2, HasLast: true, Last: feedforward.EpochMetrics{HasVal: true, ValAccuracy: 0.75}},
	}
	fs := afero.NewMemMapFs()
	require.NoError(t, SaveLearningCurve(fs, history, "/models/al.png"))
	info, err := fs.Stat("/models/al.png")
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
