// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/medalearn/medal/pkg/support/fsutil"
	"github.com/medalearn/medal/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Overrides holds optional values for every configurable parameter. Nil fields are left untouched
// by Config.Merge.
type Overrides struct {
	RunID             *string  `yaml:"run_id"`
	BatchSize         *int     `yaml:"batch_size"`
	Epochs            *int     `yaml:"epochs"`
	BaseDir           *string  `yaml:"base_dir"`
	CheckpointDir     *string  `yaml:"checkpoint_dir"`
	ModelDir          *string  `yaml:"model_dir"`
	LearningRate      *float64 `yaml:"learning_rate"`
	Momentum          *float64 `yaml:"momentum"`
	WeightDecay       *float64 `yaml:"weight_decay"`
	Nesterov          *bool    `yaml:"nesterov"`
	TrainFrac         *float64 `yaml:"train_frac"`
	ALIters           *int     `yaml:"al_iters"`
	InitialLabeled    *int     `yaml:"initial_labeled"`
	LabelBatchSize    *int     `yaml:"label_batch_size"`
	CheckpointEvery   *int     `yaml:"checkpoint_every"`
	CheckpointKeep    *int     `yaml:"checkpoint_keep"`
	Store             *string  `yaml:"store"`
	ResumeFrom        *string  `yaml:"resume_from"`
	Seed              *uint64  `yaml:"seed"`
	NumWorkers        *int     `yaml:"num_workers"`
	Dataset           *string  `yaml:"dataset"`
	DataCSV           *string  `yaml:"data_csv"`
	LabelColumn       *string  `yaml:"label_column"`
	ImagesDir         *string  `yaml:"images_dir"`
	ImageNameColumn   *string  `yaml:"image_name_column"`
	ImageSize         *int     `yaml:"image_size"`
	ImageCacheSize    *int     `yaml:"image_cache_size"`
	SyntheticSize     *int     `yaml:"synthetic_size"`
	SyntheticFeatures *int     `yaml:"synthetic_features"`
	Augment           *bool    `yaml:"augment"`
}

func mergeField[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Merge sets every non-nil field of o into the configuration. CheckpointDir and ModelDir are
// re-derived from BaseDir afterward, so values given for them have no effect.
// On error the configuration is left unchanged.
func (c *Config) Merge(o Overrides) error {
	updated := c.Clone()
	updated.merge(o)
	if err := updated.expandBaseDir(); err != nil {
		return err
	}
	*c = *updated
	return nil
}

func (c *Config) merge(o Overrides) {
	mergeField(&c.RunID, o.RunID)
	mergeField(&c.BatchSize, o.BatchSize)
	mergeField(&c.Epochs, o.Epochs)
	mergeField(&c.BaseDir, o.BaseDir)
	mergeField(&c.CheckpointDir, o.CheckpointDir)
	mergeField(&c.ModelDir, o.ModelDir)
	mergeField(&c.LearningRate, o.LearningRate)
	mergeField(&c.Momentum, o.Momentum)
	mergeField(&c.WeightDecay, o.WeightDecay)
	mergeField(&c.Nesterov, o.Nesterov)
	mergeField(&c.TrainFrac, o.TrainFrac)
	mergeField(&c.ALIters, o.ALIters)
	mergeField(&c.InitialLabeled, o.InitialLabeled)
	mergeField(&c.LabelBatchSize, o.LabelBatchSize)
	mergeField(&c.CheckpointEvery, o.CheckpointEvery)
	mergeField(&c.CheckpointKeep, o.CheckpointKeep)
	mergeField(&c.Store, o.Store)
	mergeField(&c.ResumeFrom, o.ResumeFrom)
	mergeField(&c.Seed, o.Seed)
	mergeField(&c.NumWorkers, o.NumWorkers)
	mergeField(&c.Dataset, o.Dataset)
	mergeField(&c.DataCSV, o.DataCSV)
	mergeField(&c.LabelColumn, o.LabelColumn)
	mergeField(&c.ImagesDir, o.ImagesDir)
	mergeField(&c.ImageNameColumn, o.ImageNameColumn)
	mergeField(&c.ImageSize, o.ImageSize)
	mergeField(&c.ImageCacheSize, o.ImageCacheSize)
	mergeField(&c.SyntheticSize, o.SyntheticSize)
	mergeField(&c.SyntheticFeatures, o.SyntheticFeatures)
	mergeField(&c.Augment, o.Augment)
}

// params maps each parameter key to a pointer to the corresponding Config field.
func (c *Config) params() map[string]any {
	return map[string]any{
		"run_id":             &c.RunID,
		"batch_size":         &c.BatchSize,
		"epochs":             &c.Epochs,
		"base_dir":           &c.BaseDir,
		"checkpoint_dir":     &c.CheckpointDir,
		"model_dir":          &c.ModelDir,
		"learning_rate":      &c.LearningRate,
		"momentum":           &c.Momentum,
		"weight_decay":       &c.WeightDecay,
		"nesterov":           &c.Nesterov,
		"train_frac":         &c.TrainFrac,
		"al_iters":           &c.ALIters,
		"initial_labeled":    &c.InitialLabeled,
		"label_batch_size":   &c.LabelBatchSize,
		"checkpoint_every":   &c.CheckpointEvery,
		"checkpoint_keep":    &c.CheckpointKeep,
		"store":              &c.Store,
		"resume_from":        &c.ResumeFrom,
		"seed":               &c.Seed,
		"num_workers":        &c.NumWorkers,
		"dataset":            &c.Dataset,
		"data_csv":           &c.DataCSV,
		"label_column":       &c.LabelColumn,
		"images_dir":         &c.ImagesDir,
		"image_name_column":  &c.ImageNameColumn,
		"image_size":         &c.ImageSize,
		"image_cache_size":   &c.ImageCacheSize,
		"synthetic_size":     &c.SyntheticSize,
		"synthetic_features": &c.SyntheticFeatures,
		"augment":            &c.Augment,
	}
}

// Keys returns the sorted list of known parameter keys.
func Keys() []string {
	return xslices.SortedKeys(Default().params())
}

// ApplyMap merges an override mapping into the configuration. Entries with a nil value are
// considered absent and skipped. Unknown keys, or values that can't be converted to the parameter
// type, return an error and leave the configuration unchanged.
func (c *Config) ApplyMap(overrides map[string]any) error {
	updated := c.Clone()
	params := updated.params()
	for _, key := range xslices.SortedKeys(overrides) {
		value := overrides[key]
		if value == nil {
			continue
		}
		ref, found := params[key]
		if !found {
			return errors.Errorf("%s: unknown parameter %q, known parameters are %v", c, key, Keys())
		}
		if err := assign(ref, value); err != nil {
			return errors.WithMessagef(err, "%s: parameter %q", c, key)
		}
	}
	if err := updated.expandBaseDir(); err != nil {
		return err
	}
	*c = *updated
	return nil
}

// assign value to the field pointed by ref, converting numeric types where no precision is lost.
func assign(ref any, value any) error {
	switch ptr := ref.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return errors.Errorf("expected string, got %T", value)
		}
		*ptr = v
	case *bool:
		v, ok := value.(bool)
		if !ok {
			return errors.Errorf("expected bool, got %T", value)
		}
		*ptr = v
	case *int:
		v, err := toInt(value)
		if err != nil {
			return err
		}
		*ptr = v
	case *uint64:
		v, err := toInt(value)
		if err != nil {
			return err
		}
		if v < 0 {
			return errors.Errorf("expected non-negative value, got %d", v)
		}
		*ptr = uint64(v)
	case *float64:
		switch v := value.(type) {
		case float64:
			*ptr = v
		case float32:
			*ptr = float64(v)
		case int:
			*ptr = float64(v)
		case int64:
			*ptr = float64(v)
		default:
			return errors.Errorf("expected float, got %T", value)
		}
	default:
		return errors.Errorf("don't know how to set parameter of type %T", ref)
	}
	return nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("expected integer, got %g", v)
		}
		return int(v), nil
	default:
		return 0, errors.Errorf("expected integer, got %T", value)
	}
}

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "batch_size=32;epochs=5;...".
//
// An entry like "file:settings.txt" reads the settings from the file in fs, with new-lines working as ";"
// and lines starting with "#" considered comments.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// It returns the keys that were set, in the order given. On error c is left unchanged.
func ParseSettings(fs afero.Fs, c *Config, settings string) (paramsSet []string, err error) {
	updated := c.Clone()
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(fs, updated, setting, paramsSet)
		if err != nil {
			return nil, err
		}
	}
	if err = updated.expandBaseDir(); err != nil {
		return nil, err
	}
	*c = *updated
	return
}

func parseSetting(fs afero.Fs, c *Config, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		filePath := fsutil.MustReplaceTildeInDir(strings.TrimPrefix(setting, "file:"))
		var contents []byte
		contents, err = afero.ReadFile(fs, filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(fs, c, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	key, valueStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	ref, found := c.params()[key]
	if !found {
		err = errors.Errorf("can't set parameter %q because it is not known, known parameters are %v", key, Keys())
		return
	}
	switch v := ref.(type) {
	case *int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), v)
	case *uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), v)
	case *float64:
		err = json.Unmarshal([]byte(valueStr), v)
	case *bool:
		err = json.Unmarshal([]byte(valueStr), v)
	case *string:
		*v = valueStr
	default:
		err = fmt.Errorf("don't know how to parse type %T for setting parameter %q", ref, setting)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q", valueStr, key)
		return
	}
	newParamsSet = append(newParamsSet, key)
	return
}

// LoadFile reads Overrides from a YAML file in fs. Unknown keys are reported as errors.
func LoadFile(fs afero.Fs, path string) (Overrides, error) {
	var o Overrides
	contents, err := afero.ReadFile(fs, fsutil.MustReplaceTildeInDir(path))
	if err != nil {
		return o, errors.Wrapf(err, "failed to read configuration file %q", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err = dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return o, errors.Wrapf(err, "failed to parse configuration file %q", path)
	}
	return o, nil
}

// Sprint pretty-prints the current values of all parameters, one per line.
func (c *Config) Sprint() string {
	params := c.params()
	parts := make([]string, 0, len(params))
	for _, key := range xslices.SortedKeys(params) {
		parts = append(parts, fmt.Sprintf("\t%q: %v", key, deref(params[key])))
	}
	return strings.Join(parts, "\n")
}

func deref(ref any) any {
	switch v := ref.(type) {
	case *string:
		return *v
	case *int:
		return *v
	case *uint64:
		return *v
	case *float64:
		return *v
	case *bool:
		return *v
	}
	return ref
}
