// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainTestSplit(t *testing.T) {
	train, test, err := TrainTestSplit(100, 0.8, 0)
	require.NoError(t, err)
	assert.Len(t, train, 80)
	assert.Len(t, test, 20)
	all := append(slices.Clone(train), test...)
	slices.Sort(all)
	for ii, idx := range all {
		require.Equal(t, ii, idx)
	}

	// Deterministic.
	train2, _, err := TrainTestSplit(100, 0.8, 0)
	require.NoError(t, err)
	assert.Equal(t, train, train2)

	train, test, err = TrainTestSplit(3, 0.1, 7)
	require.NoError(t, err)
	assert.Len(t, train, 1)
	assert.Len(t, test, 2)

	train, test, err = TrainTestSplit(5, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, train)
	assert.Empty(t, test)

	_, _, err = TrainTestSplit(5, 0, 7)
	assert.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	ds, err := NewSynthetic(10, 3, 42)
	require.NoError(t, err)
	assert.Equal(t, 10, ds.Len())
	assert.Equal(t, 3, ds.NumFeatures())
	input, label, err := ds.Example(3)
	require.NoError(t, err)
	assert.Len(t, input, 3)
	assert.Equal(t, 1.0, label)

	other, err := NewSynthetic(10, 3, 42)
	require.NoError(t, err)
	otherInput, _, _ := other.Example(3)
	assert.Equal(t, input, otherInput)

	_, _, err = ds.Example(10)
	assert.Error(t, err)
	_, err = NewSynthetic(0, 3, 42)
	assert.Error(t, err)
}

// failingDataset fails reading the example at index fail.
type failingDataset struct {
	*InMemory
	fail int
}

func (ds *failingDataset) Example(index int) ([]float64, float64, error) {
	if index == ds.fail {
		return nil, 0, errors.New("broken example")
	}
	return ds.InMemory.Example(index)
}

// slowDataset counts and delays the examples read.
type slowDataset struct {
	*InMemory
	delay   time.Duration
	numRead atomic.Int32
}

func (ds *slowDataset) Example(index int) ([]float64, float64, error) {
	time.Sleep(ds.delay)
	ds.numRead.Add(1)
	return ds.InMemory.Example(index)
}

func indexedDataset(t *testing.T, n int) *InMemory {
	inputs := make([][]float64, n)
	labels := make([]float64, n)
	for ii := range inputs {
		inputs[ii] = []float64{float64(ii)}
		labels[ii] = float64(ii % 2)
	}
	ds, err := NewInMemory("indexed", inputs, labels)
	require.NoError(t, err)
	return ds
}

func readEpoch(t *testing.T, loader *Loader) (batches []*Batch) {
	for {
		batch, err := loader.Yield()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

func TestLoader(t *testing.T) {
	ds := indexedDataset(t, 50)
	subset := []int{1, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31}

	t.Run("InOrder", func(t *testing.T) {
		loader := NewLoader(ds, subset, 4).Parallelism(3).Start()
		assert.Equal(t, 3, loader.NumBatches())
		batches := readEpoch(t, loader)
		require.Len(t, batches, 3)
		assert.Equal(t, []int{1, 3, 5, 7}, batches[0].Indices)
		assert.Equal(t, []int{31}, batches[2].Indices)
		assert.Equal(t, [][]float64{{31}}, batches[2].Inputs)
		assert.Equal(t, []float64{1}, batches[2].Labels)

		// EOF until Reset.
		_, err := loader.Yield()
		assert.Equal(t, io.EOF, err)
		loader.Reset()
		assert.Len(t, readEpoch(t, loader), 3)
	})

	t.Run("Shuffle", func(t *testing.T) {
		loader := NewLoader(ds, subset, 2).Shuffle(7).Parallelism(2).Buffer(1).Start()
		var epochs [][]int
		for range 3 {
			var seen []int
			for _, batch := range readEpoch(t, loader) {
				for ii, idx := range batch.Indices {
					assert.Equal(t, float64(idx), batch.Inputs[ii][0])
				}
				seen = append(seen, batch.Indices...)
			}
			epochs = append(epochs, seen)
			loader.Reset()
		}
		for _, seen := range epochs {
			sorted := slices.Clone(seen)
			slices.Sort(sorted)
			assert.Equal(t, subset, sorted, "every epoch must cover exactly the subset")
		}
		assert.NotEqual(t, epochs[0], epochs[1], "epochs should be reshuffled")

		// Same seed, same sequence.
		again := NewLoader(ds, subset, 2).Shuffle(7).Start()
		var seen []int
		for _, batch := range readEpoch(t, again) {
			seen = append(seen, batch.Indices...)
		}
		assert.Equal(t, epochs[0], seen)
	})

	t.Run("ResetMidEpoch", func(t *testing.T) {
		loader := NewLoader(ds, subset, 1).Parallelism(2).Start()
		_, err := loader.Yield()
		require.NoError(t, err)
		loader.Reset()
		assert.Len(t, readEpoch(t, loader), len(subset))
	})

	t.Run("ResetStopsWorkers", func(t *testing.T) {
		slow := &slowDataset{InMemory: ds, delay: 2 * time.Millisecond}
		loader := NewLoader(slow, subset, 1).Parallelism(2).Buffer(4).Start()
		_, err := loader.Yield()
		require.NoError(t, err)
		loader.Reset()
		numRead := slow.numRead.Load()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, numRead, slow.numRead.Load(), "examples read after Reset returned")
		assert.Len(t, readEpoch(t, loader), len(subset))
	})

	t.Run("Empty", func(t *testing.T) {
		loader := NewLoader(ds, nil, 4).Start()
		_, err := loader.Yield()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("Errors", func(t *testing.T) {
		loader := NewLoader(&failingDataset{InMemory: ds, fail: 5}, subset, 4).Start()
		_, err := loader.Yield()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken example")
	})

	t.Run("Preconditions", func(t *testing.T) {
		err := exceptions.TryCatch[error](func() { NewLoader(ds, subset, 4).Yield() })
		assert.Error(t, err)
		err = exceptions.TryCatch[error](func() { NewLoader(ds, subset, 0) })
		assert.Error(t, err)
		err = exceptions.TryCatch[error](func() { NewLoader(ds, []int{50}, 1) })
		assert.Error(t, err)
		err = exceptions.TryCatch[error](func() { NewLoader(ds, subset, 4).Start().Shuffle(1) })
		assert.Error(t, err)
	})

	t.Run("Collect", func(t *testing.T) {
		loader := NewLoader(ds, subset, 4).Start()
		all, err := Collect(loader)
		require.NoError(t, err)
		assert.Equal(t, subset, all.Indices)
		assert.Equal(t, len(subset), all.Size())
	})
}

func TestCSVDataset(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/table.csv", []byte(
		"a,b,grade\n1,2.5,0\n3,4,2\n-1,0,1\n"), 0o660))
	ds, err := NewCSVDataset(fs, "/data/table.csv", "grade")
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, ds.NumFeatures())
	input, label, err := ds.Example(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, input)
	assert.Equal(t, 1.0, label)

	_, err = NewCSVDataset(fs, "/data/table.csv", "missing")
	assert.Error(t, err)
	_, err = NewCSVDataset(fs, "/data/nothere.csv", "grade")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/data/text.csv", []byte(
		"name,grade\nx,0\ny,1\n"), 0o660))
	_, err = NewCSVDataset(fs, "/data/text.csv", "grade")
	assert.Error(t, err)
}

func writePNG(t *testing.T, fs afero.Fs, path string, w, h int, gray uint8) {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: gray})
		}
	}
	f, err := fs.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestImageDataset(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := "Image name,Retinopathy grade\n"
	for ii := range 4 {
		name := fmt.Sprintf("img%d.png", ii)
		table += fmt.Sprintf("%s,%d\n", name, ii)
		writePNG(t, fs, "/messidor/base1/"+name, 40, 30, uint8(50*ii))
	}
	table += "lost.png,3\n"
	require.NoError(t, afero.WriteFile(fs, "/messidor/labels.csv", []byte(table), 0o660))

	cfg := ImageConfig{
		LabelsCSV:   "/messidor/labels.csv",
		ImagesDir:   "/messidor",
		NameColumn:  "Image name",
		LabelColumn: "Retinopathy grade",
		Size:        8,
		CacheSize:   2,
	}
	ds, err := NewImageDataset(fs, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len(), "missing image should be skipped")
	assert.Equal(t, 64, ds.NumFeatures())

	input, label, err := ds.Example(2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, label)
	require.Len(t, input, 64)
	for _, v := range input {
		assert.InDelta(t, 100.0/255.0, v, 0.02)
	}
	_, label, err = ds.Example(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, label)

	augmented := ds.Augmented()
	assert.True(t, augmented.cfg.Augment)
	assert.False(t, ds.cfg.Augment, "Augmented must not change the original dataset")
	assert.Equal(t, ds.Len(), augmented.Len())
	loader := NewLoader(augmented, []int{0, 1, 2, 3}, 2).Parallelism(2).Start()
	all, err := Collect(loader)
	require.NoError(t, err)
	assert.Len(t, all.Inputs, 4)
	assert.Len(t, all.Inputs[3], 64)

	cfg.ImagesDir = "/empty"
	require.NoError(t, fs.MkdirAll("/empty", 0o770))
	_, err = NewImageDataset(fs, cfg)
	assert.Error(t, err)
}
