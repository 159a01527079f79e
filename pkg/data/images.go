// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// cropFraction is the side of the (random or central) crop relative to the cached base image.
const cropFraction = 0.64

// ImageConfig configures NewImageDataset.
type ImageConfig struct {
	// LabelsCSV is the table with one row per image.
	LabelsCSV string
	// ImagesDir is searched recursively for the images named in the table.
	ImagesDir string
	// NameColumn holds the image file name, LabelColumn its grade. Non-zero grades are the positive class.
	NameColumn, LabelColumn string
	// Size is the side of the square grayscale image returned, flattened, as the input vector.
	Size int
	// CacheSize is the number of decoded base images kept in memory.
	CacheSize int
	// Augment selects a random crop for each example instead of the central one.
	Augment bool
}

// ImageDataset reads retinal fundus images listed in a labels table (Messidor style).
//
// Each image is center-cropped to a square, resized and converted to grayscale; that base image is
// cached. Examples are then cropped (randomly if augmenting) and resized to Size x Size.
type ImageDataset struct {
	fs     afero.Fs
	cfg    ImageConfig
	paths  []string
	labels []float64
	cache  *lru.Cache
}

// NewImageDataset reads the labels table and locates the images. Rows whose image can't be found are
// skipped with a warning.
func NewImageDataset(fs afero.Fs, cfg ImageConfig) (*ImageDataset, error) {
	if cfg.Size <= 0 {
		return nil, errors.Errorf("image dataset requires Size > 0, got %d", cfg.Size)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1
	}
	df, err := readTable(fs, cfg.LabelsCSV)
	if err != nil {
		return nil, err
	}
	names := df.Col(cfg.NameColumn)
	if names.Err != nil {
		return nil, errors.Wrapf(names.Err, "image name column %q in %q", cfg.NameColumn, cfg.LabelsCSV)
	}
	labels, err := binaryLabels(df, cfg.LabelColumn)
	if err != nil {
		return nil, errors.WithMessagef(err, "labels table %q", cfg.LabelsCSV)
	}

	found := make(map[string]string)
	err = afero.Walk(fs, cfg.ImagesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			found[strings.ToLower(filepath.Base(path))] = path
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list images in %q", cfg.ImagesDir)
	}

	ds := &ImageDataset{fs: fs, cfg: cfg}
	for ii, name := range names.Records() {
		path, ok := found[strings.ToLower(filepath.Base(name))]
		if !ok {
			klog.Warningf("Image %q listed in %q not found under %q, skipping", name, cfg.LabelsCSV, cfg.ImagesDir)
			continue
		}
		ds.paths = append(ds.paths, path)
		ds.labels = append(ds.labels, labels[ii])
	}
	if len(ds.paths) == 0 {
		return nil, errors.Errorf("no images listed in %q found under %q", cfg.LabelsCSV, cfg.ImagesDir)
	}
	ds.cache, err = lru.New(cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image cache")
	}
	klog.V(1).Infof("Image dataset %q: %d images", cfg.ImagesDir, len(ds.paths))
	return ds, nil
}

// Augmented returns a view of the dataset that takes random crops. It shares the images and the
// cache of ds.
func (ds *ImageDataset) Augmented() *ImageDataset {
	augmented := *ds
	augmented.cfg.Augment = true
	return &augmented
}

// Name implements Dataset.
func (ds *ImageDataset) Name() string { return filepath.Base(ds.cfg.ImagesDir) }

// Len implements Dataset.
func (ds *ImageDataset) Len() int { return len(ds.paths) }

// NumFeatures implements Dataset.
func (ds *ImageDataset) NumFeatures() int { return ds.cfg.Size * ds.cfg.Size }

// baseSide is the side of the cached base image, such that a crop of cropFraction of it has Size pixels.
func (ds *ImageDataset) baseSide() int {
	return int(float64(ds.cfg.Size)/cropFraction + 0.5)
}

// base returns the cached base image for index, decoding it if needed.
func (ds *ImageDataset) base(index int) (image.Image, error) {
	if img, found := ds.cache.Get(index); found {
		return img.(image.Image), nil
	}
	path := ds.paths[index]
	f, err := ds.fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", path)
	}
	defer func() { _ = f.Close() }()
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	bounds := img.Bounds()
	side := min(bounds.Dx(), bounds.Dy())
	baseSide := ds.baseSide()
	var base image.Image = imaging.CropCenter(img, side, side)
	base = imaging.Resize(base, baseSide, baseSide, imaging.Lanczos)
	base = imaging.Grayscale(base)
	ds.cache.Add(index, base)
	return base, nil
}

// Example implements Dataset. The input holds the Size x Size gray levels in row-major order, scaled to [0, 1].
func (ds *ImageDataset) Example(index int) ([]float64, float64, error) {
	if index < 0 || index >= len(ds.paths) {
		return nil, 0, errors.Errorf("image dataset: index %d out of range [0, %d)", index, len(ds.paths))
	}
	base, err := ds.base(index)
	if err != nil {
		return nil, 0, err
	}
	baseSide := base.Bounds().Dx()
	cropSide := max(1, int(float64(baseSide)*cropFraction+0.5))
	var cropped *image.NRGBA
	if ds.cfg.Augment && baseSide > cropSide {
		x0, y0 := rand.IntN(baseSide-cropSide+1), rand.IntN(baseSide-cropSide+1)
		cropped = imaging.Crop(base, image.Rect(x0, y0, x0+cropSide, y0+cropSide))
	} else {
		cropped = imaging.CropCenter(base, cropSide, cropSide)
	}
	size := ds.cfg.Size
	if cropSide != size {
		cropped = imaging.Resize(cropped, size, size, imaging.Lanczos)
	}
	input := make([]float64, 0, size*size)
	for y := 0; y < size; y++ {
		row := cropped.Pix[y*cropped.Stride : y*cropped.Stride+4*size]
		for x := 0; x < size; x++ {
			// Grayscale: R, G and B are equal.
			input = append(input, float64(row[4*x])/255.0)
		}
	}
	return input, ds.labels[index], nil
}
