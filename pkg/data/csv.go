// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// readTable reads a CSV file with a header into a DataFrame.
func readTable(fs afero.Fs, path string) (dataframe.DataFrame, error) {
	f, err := fs.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f)
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "failed to parse CSV %q", path)
	}
	return df, nil
}

// binaryLabels reads a numeric label column: any non-zero value (e.g. a retinopathy grade > 0) is
// the positive class.
func binaryLabels(df dataframe.DataFrame, column string) ([]float64, error) {
	col := df.Col(column)
	if col.Err != nil {
		return nil, errors.Wrapf(col.Err, "label column %q", column)
	}
	if col.Type() != series.Int && col.Type() != series.Float && col.Type() != series.Bool {
		return nil, errors.Errorf("label column %q is of type %s, expected a numeric type", column, col.Type())
	}
	labels := col.Float()
	for ii, v := range labels {
		if v != 0 {
			labels[ii] = 1
		}
	}
	return labels, nil
}

// NewCSVDataset loads a CSV file with a header, where labelColumn holds the label and every other
// column a numeric feature.
func NewCSVDataset(fs afero.Fs, path, labelColumn string) (*InMemory, error) {
	df, err := readTable(fs, path)
	if err != nil {
		return nil, err
	}
	labels, err := binaryLabels(df, labelColumn)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", path)
	}
	features := df.Drop(labelColumn)
	if features.Err != nil {
		return nil, errors.Wrapf(features.Err, "dataset %q", path)
	}
	if features.Ncol() == 0 {
		return nil, errors.Errorf("dataset %q has no feature columns besides %q", path, labelColumn)
	}
	inputs := make([][]float64, df.Nrow())
	for ii := range inputs {
		inputs[ii] = make([]float64, features.Ncol())
	}
	for jj, name := range features.Names() {
		col := features.Col(name)
		if col.Type() != series.Int && col.Type() != series.Float && col.Type() != series.Bool {
			return nil, errors.Errorf("dataset %q: feature column %q is of type %s, expected a numeric type",
				path, name, col.Type())
		}
		for ii, v := range col.Float() {
			inputs[ii][jj] = v
		}
	}
	klog.V(1).Infof("Loaded %q: %d examples, %d features", path, len(inputs), features.Ncol())
	return NewInMemory(filepath.Base(path), inputs, labels)
}
