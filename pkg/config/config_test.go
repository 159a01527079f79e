// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, filepath.Join("data", "model_checkpoints"), c.CheckpointDir)
	assert.Equal(t, filepath.Join("data", "models"), c.ModelDir)
	assert.Equal(t, "config:", c.String())
	assert.Error(t, c.Validate(), "run_id is required")
	c.RunID = "medal_logreg"
	assert.NoError(t, c.Validate())
	assert.Equal(t, "config:medal_logreg", c.String())
}

func TestDerivedDirsIgnoreOverrides(t *testing.T) {
	overrideMaps := []map[string]any{
		{},
		{"checkpoint_dir": "/elsewhere/ckpt"},
		{"model_dir": "/elsewhere/models", "base_dir": "/runs/a"},
		{"checkpoint_dir": "/x", "model_dir": "/y", "base_dir": "relative/base"},
		{"base_dir": nil, "checkpoint_dir": "/z"},
	}
	for _, overrides := range overrideMaps {
		c := Default()
		require.NoError(t, c.ApplyMap(overrides))
		assert.Equal(t, filepath.Join(c.BaseDir, CheckpointSubDir), c.CheckpointDir, "overrides=%v", overrides)
		assert.Equal(t, filepath.Join(c.BaseDir, ModelSubDir), c.ModelDir, "overrides=%v", overrides)
	}

	c := Default()
	require.NoError(t, c.Merge(Overrides{BaseDir: ptr("/runs/b"), CheckpointDir: ptr("/tmp"), ModelDir: ptr("/tmp")}))
	assert.Equal(t, "/runs/b/model_checkpoints", c.CheckpointDir)
	assert.Equal(t, "/runs/b/models", c.ModelDir)

	// Failed merges leave the configuration untouched.
	failingMaps := []map[string]any{
		{"checkpoint_dir": "/etc/evil", "zz_typo": 1},
		{"base_dir": "/runs/x", "model_dir": "/tmp/y", "seed": -1},
	}
	for _, overrides := range failingMaps {
		c := Default()
		require.Error(t, c.ApplyMap(overrides), "overrides=%v", overrides)
		assert.Equal(t, Default(), c, "overrides=%v", overrides)
	}
	fs := afero.NewMemMapFs()
	c = Default()
	_, err := ParseSettings(fs, c, "checkpoint_dir=/etc/evil;batch_size=abc")
	require.Error(t, err)
	assert.Equal(t, Default(), c)
	_, err = ParseSettings(fs, c, "base_dir=/runs/c;model_dir=/tmp/y;file:/missing.txt")
	require.Error(t, err)
	assert.Equal(t, Default(), c)
}

func TestApplyMap(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplyMap(map[string]any{
		"run_id":        "medal_squeezenet",
		"batch_size":    32,
		"epochs":        float64(5), // As decoded by JSON.
		"learning_rate": 0.1,
		"al_iters":      int64(34),
		"seed":          7,
		"nesterov":      false,
		"train_frac":    nil, // Absent: keeps the default.
	}))
	assert.Equal(t, "medal_squeezenet", c.RunID)
	assert.Equal(t, 32, c.BatchSize)
	assert.Equal(t, 5, c.Epochs)
	assert.Equal(t, 0.1, c.LearningRate)
	assert.Equal(t, 34, c.ALIters)
	assert.Equal(t, uint64(7), c.Seed)
	assert.False(t, c.Nesterov)
	assert.Equal(t, 0.8, c.TrainFrac)

	// Typos are rejected.
	err := Default().ApplyMap(map[string]any{"bacth_size": 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bacth_size")

	// Wrong types are rejected.
	assert.Error(t, Default().ApplyMap(map[string]any{"epochs": "many"}))
	assert.Error(t, Default().ApplyMap(map[string]any{"epochs": 2.5}))
	assert.Error(t, Default().ApplyMap(map[string]any{"run_id": 3}))
}

func TestParseSettings(t *testing.T) {
	fs := afero.NewMemMapFs()
	settingsFile := "/configs/settings.txt"
	require.NoError(t, afero.WriteFile(fs, settingsFile, []byte("# comment\nepochs=7\nweight_decay=0.5;momentum=0.9\n"), 0644))

	c := Default()
	set, err := ParseSettings(fs, c, "run_id=medal_test;batch_size=1_024;nesterov=false;file:"+settingsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", "batch_size", "nesterov", "epochs", "weight_decay", "momentum"}, set)
	assert.Equal(t, "medal_test", c.RunID)
	assert.Equal(t, 1024, c.BatchSize)
	assert.Equal(t, 7, c.Epochs)
	assert.Equal(t, 0.5, c.WeightDecay)
	assert.Equal(t, 0.9, c.Momentum)
	assert.False(t, c.Nesterov)

	_, err = ParseSettings(fs, Default(), "unknown=1")
	assert.Error(t, err)
	_, err = ParseSettings(fs, Default(), "epochs")
	assert.Error(t, err)
	_, err = ParseSettings(fs, Default(), "epochs=abc")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	good := "/configs/good.yaml"
	require.NoError(t, afero.WriteFile(fs, good, []byte("run_id: medal_yaml\nal_iters: 3\nbase_dir: /runs/yaml\naugment: true\n"), 0644))
	o, err := LoadFile(fs, good)
	require.NoError(t, err)
	c := Default()
	require.NoError(t, c.Merge(o))
	assert.Equal(t, "medal_yaml", c.RunID)
	assert.Equal(t, 3, c.ALIters)
	assert.Equal(t, 100, c.Epochs)
	assert.Equal(t, "/runs/yaml/model_checkpoints", c.CheckpointDir)
	assert.True(t, c.Augment)

	bad := "/configs/bad.yaml"
	require.NoError(t, afero.WriteFile(fs, bad, []byte("run_idd: typo\n"), 0644))
	_, err = LoadFile(fs, bad)
	assert.Error(t, err)
}

func TestSprint(t *testing.T) {
	c := Default()
	c.RunID = "medal_sprint"
	out := c.Sprint()
	assert.Contains(t, out, `"run_id": medal_sprint`)
	assert.Equal(t, len(Keys()), len(strings.Split(out, "\n")))
}
