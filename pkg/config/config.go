// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the parameters of a training run.
//
// A Config is built from Default, then overridden explicitly: with Config.Merge (typed Overrides),
// Config.ApplyMap (a key-value mapping, e.g. decoded from a file), ParseSettings (a command-line
// "k1=v1;k2=v2" string) or LoadFile (a YAML file). Unknown keys are always rejected.
//
// CheckpointDir and ModelDir are never set directly: they are derived from BaseDir after every merge.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/medalearn/medal/pkg/support/fsutil"
	"github.com/pkg/errors"
)

const (
	// CheckpointSubDir is the directory under BaseDir where checkpoints are stored.
	CheckpointSubDir = "model_checkpoints"

	// ModelSubDir is the directory under BaseDir where exported models are stored.
	ModelSubDir = "models"
)

// Dataset kinds understood by the command-line trainer.
const (
	DatasetSynthetic = "synthetic"
	DatasetCSV       = "csv"
	DatasetImages    = "images"
)

// Checkpoint store kinds.
const (
	StoreFile    = "file"
	StoreLevelDB = "leveldb"
)

// Config holds the scalar parameters of a run. It is treated as immutable once training starts:
// progress markers live elsewhere.
type Config struct {
	// RunID identifies the run, and names its checkpoints. Required.
	RunID string `yaml:"run_id"`

	BatchSize int `yaml:"batch_size"`
	Epochs    int `yaml:"epochs"`

	// BaseDir is the root of all files read or written by the run.
	BaseDir string `yaml:"base_dir"`

	// CheckpointDir and ModelDir are derived from BaseDir.
	CheckpointDir string `yaml:"checkpoint_dir"`
	ModelDir      string `yaml:"model_dir"`

	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	WeightDecay  float64 `yaml:"weight_decay"`
	Nesterov     bool    `yaml:"nesterov"`

	// TrainFrac is the fraction of the dataset used for training, the rest is used for validation.
	TrainFrac float64 `yaml:"train_frac"`

	// ALIters is the number of active-learning iterations. 0 means plain feed-forward training.
	ALIters int `yaml:"al_iters"`

	// InitialLabeled is the number of pool points labeled before the first iteration.
	InitialLabeled int `yaml:"initial_labeled"`

	// LabelBatchSize is the number of points labeled at the end of each iteration.
	LabelBatchSize int `yaml:"label_batch_size"`

	// CheckpointEvery saves a checkpoint every that many epochs. The last epoch of a training
	// round is always saved. 0 disables checkpointing.
	CheckpointEvery int `yaml:"checkpoint_every"`

	// CheckpointKeep is the number of checkpoints to keep per run. 0 or -1 keeps all of them.
	CheckpointKeep int `yaml:"checkpoint_keep"`

	// Store selects the checkpoint store: "file" or "leveldb".
	Store string `yaml:"store"`

	// ResumeFrom names a checkpoint to resume from. If empty the latest checkpoint of the run is used.
	ResumeFrom string `yaml:"resume_from"`

	Seed uint64 `yaml:"seed"`

	// NumWorkers preparing batches. 0 picks a value based on the number of cores.
	NumWorkers int `yaml:"num_workers"`

	// Dataset selection and its parameters.
	Dataset           string `yaml:"dataset"`
	DataCSV           string `yaml:"data_csv"`
	LabelColumn       string `yaml:"label_column"`
	ImagesDir         string `yaml:"images_dir"`
	ImageNameColumn   string `yaml:"image_name_column"`
	ImageSize         int    `yaml:"image_size"`
	ImageCacheSize    int    `yaml:"image_cache_size"`
	SyntheticSize     int    `yaml:"synthetic_size"`
	SyntheticFeatures int    `yaml:"synthetic_features"`

	// Augment takes random crops of the training images. Validation images are always center-cropped.
	Augment bool `yaml:"augment"`
}

// Default returns the default configuration. RunID is left empty and must be set.
func Default() *Config {
	c := &Config{
		BatchSize:         16,
		Epochs:            100,
		BaseDir:           "./data",
		LearningRate:      1e-3,
		Momentum:          0.5,
		WeightDecay:       0.01,
		Nesterov:          true,
		TrainFrac:         0.8,
		InitialLabeled:    1,
		LabelBatchSize:    1,
		CheckpointEvery:   1,
		CheckpointKeep:    3,
		Store:             StoreFile,
		Dataset:           DatasetSynthetic,
		LabelColumn:       "Retinopathy grade",
		ImageNameColumn:   "Image name",
		ImageSize:         64,
		ImageCacheSize:    256,
		SyntheticSize:     200,
		SyntheticFeatures: 8,
	}
	c.derivePaths()
	return c
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c2 := *c
	return &c2
}

// String implements fmt.Stringer.
func (c *Config) String() string {
	return fmt.Sprintf("config:%s", c.RunID)
}

// derivePaths sets the directories that always hang from BaseDir, whatever was given for them.
func (c *Config) derivePaths() {
	c.CheckpointDir = filepath.Join(c.BaseDir, CheckpointSubDir)
	c.ModelDir = filepath.Join(c.BaseDir, ModelSubDir)
}

// expandBaseDir replaces a leading "~" in BaseDir and re-derives the dependent paths.
func (c *Config) expandBaseDir() error {
	dir, err := fsutil.ReplaceTildeInDir(c.BaseDir)
	if err != nil {
		return err
	}
	c.BaseDir = dir
	c.derivePaths()
	return nil
}

// Validate checks that the parameters required before training are set and sane.
func (c *Config) Validate() error {
	switch {
	case c.RunID == "":
		return errors.Errorf("%s: run_id must be set", c)
	case c.BatchSize <= 0:
		return errors.Errorf("%s: batch_size must be > 0, got %d", c, c.BatchSize)
	case c.Epochs <= 0:
		return errors.Errorf("%s: epochs must be > 0, got %d", c, c.Epochs)
	case c.TrainFrac <= 0 || c.TrainFrac > 1:
		return errors.Errorf("%s: train_frac must be in (0, 1], got %g", c, c.TrainFrac)
	case c.ALIters < 0:
		return errors.Errorf("%s: al_iters must be >= 0, got %d", c, c.ALIters)
	case c.ALIters > 0 && (c.InitialLabeled <= 0 || c.LabelBatchSize <= 0):
		return errors.Errorf("%s: initial_labeled and label_batch_size must be > 0, got %d and %d",
			c, c.InitialLabeled, c.LabelBatchSize)
	case c.Store != StoreFile && c.Store != StoreLevelDB:
		return errors.Errorf("%s: unknown checkpoint store %q", c, c.Store)
	}
	return nil
}
