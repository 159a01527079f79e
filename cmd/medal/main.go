// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// medal trains a binary classifier either on the full training set (baseline) or with the MedAL
// active-learning loop, checkpointing its progress so that an interrupted run can be resumed.
//
// Example:
//
//	medal -data=~/work/medal -run=synthetic_al -mode=medal -set="al_iters=10;epochs=20"
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/janpfeifer/must"
	"github.com/medalearn/medal/pkg/checkpoints"
	"github.com/medalearn/medal/pkg/config"
	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/feedforward"
	"github.com/medalearn/medal/pkg/medal"
	"github.com/medalearn/medal/ui/commandline"
	"github.com/medalearn/medal/ui/plots"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// Values of the -mode flag.
const (
	modeMedal    = "medal"
	modeBaseline = "baseline"
)

var (
	flagDataDir = flag.String("data", "", "Base directory of the run: checkpoints and plots are saved under it. "+
		"Overrides base_dir.")
	flagRunID   = flag.String("run", "", "Run id, used to name checkpoints. Overrides run_id.")
	flagMode    = flag.String("mode", modeMedal, "Training mode: \"medal\" (active learning) or \"baseline\" (all training points).")
	flagDataset = flag.String("dataset", "", "Dataset: \"synthetic\", \"csv\" or \"images\". Overrides dataset.")
	flagConfig  = flag.String("config", "", "YAML file with configuration parameters.")
	flagSet     = flag.String("set", "", "Parameters to set, applied after -config. "+
		"E.g.: \"batch_size=32;epochs=5\". Use \"file:<path>\" to read them from a file.")
	flagResume  = flag.Bool("resume", false, "Resume from the latest checkpoint of the run, or from resume_from if set.")
	flagNoBar   = flag.Bool("no_progress_bar", false, "Disable the progress bar.")
	flagVerbose = flag.Int("verbosity", 0, "Log verbosity, same as -v.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagVerbose > 0 {
		must.M(flag.Set("v", fmt.Sprint(*flagVerbose)))
	}
	fs := afero.NewOsFs()
	cfg, err := buildConfig(fs)
	if err != nil {
		klog.Exitf("Invalid configuration: %+v", err)
	}
	klog.V(1).Infof("%s parameters:\n%s", cfg, cfg.Sprint())

	ds := must.M1(openDataset(fs, cfg))
	klog.Infof("%s: dataset %q with %d examples of %d features", cfg, ds.Name(), ds.Len(), ds.NumFeatures())
	trainIdx, valIdx := must.M2(data.TrainTestSplit(ds.Len(), cfg.TrainFrac, cfg.Seed))

	nameFn := checkpoints.ActiveLearningName
	if *flagMode == modeBaseline {
		nameFn = checkpoints.FeedForwardName
	}
	store, closeStore := must.M2(openStore(fs, cfg))
	defer closeStore()

	run := &feedforward.Run{
		Config:      cfg,
		Classifier:  feedforward.NewClassifier(cfg, ds.NumFeatures()),
		Dataset:     ds,
		Checkpoints: checkpoints.NewHandler(store, nameFn).Keep(cfg.CheckpointKeep),
	}
	if cfg.Augment {
		if images, ok := ds.(*data.ImageDataset); ok {
			run.TrainDataset = images.Augmented()
		} else {
			klog.Warningf("%s: augment is only supported by the %q dataset, ignoring it", cfg, config.DatasetImages)
		}
	}
	if len(valIdx) > 0 {
		run.ValLoader = feedforward.NewLoader(cfg, ds, valIdx, false)
	}

	switch *flagMode {
	case modeBaseline:
		baseline(fs, run, trainIdx)
	case modeMedal:
		activeLearning(fs, run, trainIdx)
	default:
		klog.Exitf("Unknown -mode=%q, valid values are %q or %q", *flagMode, modeMedal, modeBaseline)
	}
}

// buildConfig applies, in order: defaults, -config file, -data/-run/-dataset flags and -set.
func buildConfig(fs afero.Fs) (*config.Config, error) {
	cfg := config.Default()
	if *flagConfig != "" {
		overrides, err := config.LoadFile(fs, *flagConfig)
		if err != nil {
			return nil, err
		}
		if err = cfg.Merge(overrides); err != nil {
			return nil, err
		}
	}
	var flags config.Overrides
	if *flagDataDir != "" {
		flags.BaseDir = flagDataDir
	}
	if *flagRunID != "" {
		flags.RunID = flagRunID
	}
	if *flagDataset != "" {
		flags.Dataset = flagDataset
	}
	if err := cfg.Merge(flags); err != nil {
		return nil, err
	}
	if _, err := config.ParseSettings(fs, cfg, *flagSet); err != nil {
		return nil, err
	}
	if *flagMode == modeMedal && cfg.ALIters == 0 {
		cfg.ALIters = 1
		klog.Warningf("%s: al_iters not set for -mode=medal, running a single iteration", cfg)
	}
	return cfg, cfg.Validate()
}

func openDataset(fs afero.Fs, cfg *config.Config) (data.Dataset, error) {
	switch cfg.Dataset {
	case config.DatasetSynthetic:
		return data.NewSynthetic(cfg.SyntheticSize, cfg.SyntheticFeatures, cfg.Seed)
	case config.DatasetCSV:
		return data.NewCSVDataset(fs, cfg.DataCSV, cfg.LabelColumn)
	case config.DatasetImages:
		return data.NewImageDataset(fs, data.ImageConfig{
			LabelsCSV:   cfg.DataCSV,
			ImagesDir:   cfg.ImagesDir,
			NameColumn:  cfg.ImageNameColumn,
			LabelColumn: cfg.LabelColumn,
			Size:        cfg.ImageSize,
			CacheSize:   cfg.ImageCacheSize,
		})
	}
	return nil, fmt.Errorf("unknown dataset %q", cfg.Dataset)
}

func openStore(fs afero.Fs, cfg *config.Config) (checkpoints.Store, func(), error) {
	if cfg.Store == config.StoreLevelDB {
		store, err := checkpoints.OpenLevelDBStore(filepath.Join(cfg.CheckpointDir, "leveldb"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				klog.Errorf("closing %s: %+v", store, err)
			}
		}, nil
	}
	store, err := checkpoints.NewFileStore(fs, cfg.CheckpointDir)
	return store, func() {}, err
}

func attachUI(fs afero.Fs, tr *feedforward.Trainer, cfg *config.Config, extraMetrics ...commandline.ExtraMetricFn) {
	if !*flagNoBar {
		commandline.AttachProgressBar(tr, extraMetrics...)
	}
	_ = must.M1(plots.Attach(tr, fs, filepath.Join(cfg.ModelDir, cfg.RunID)))
}

func baseline(fs afero.Fs, run *feedforward.Run, trainIdx []int) {
	cfg := run.Config
	run.TrainLoader = feedforward.NewLoader(cfg, run.TrainingDataset(), trainIdx, true)
	if *flagResume {
		_ = must.M1(run.LoadCheckpoint())
	}
	tr := feedforward.NewTrainer()
	attachUI(fs, tr, cfg)
	if err := tr.Train(run); err != nil {
		klog.Fatalf("Training failed: %+v", err)
	}
	fmt.Println(commandline.EpochsTable(run.History))
	report(run)
}

func activeLearning(fs afero.Fs, run *feedforward.Run, pool []int) {
	cfg := run.Config
	selector := medal.NewRandomSelector(cfg.InitialLabeled, cfg.LabelBatchSize, cfg.Seed)
	learner := must.M1(medal.New(run, pool, selector))
	if *flagResume {
		_ = must.M1(learner.LoadCheckpoint(true))
	}
	attachUI(fs, learner.Trainer, cfg, func() (string, string) {
		return "Labeled", fmt.Sprintf("%d / %d", learner.Mask.Count(), learner.Mask.Len())
	})
	if err := learner.Run(); err != nil {
		klog.Fatalf("Active learning failed: %+v", err)
	}
	must.M(plots.SaveLearningCurve(fs, learner.History, filepath.Join(cfg.ModelDir, cfg.RunID, "learning_curve.png")))
	fmt.Println(commandline.IterationsTable(learner.History, learner.Mask.Len()))
	report(run)
}

func report(run *feedforward.Run) {
	if run.ValLoader == nil {
		return
	}
	must.M(commandline.ReportEval(os.Stdout, run.Classifier, run.ValLoader))
}
