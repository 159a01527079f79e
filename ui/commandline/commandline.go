// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/feedforward"
	"github.com/medalearn/medal/pkg/medal"
	"github.com/medalearn/medal/pkg/model"
)

// ReportEval reports on w the loss and accuracy of the classifier on each of the loaders.
func ReportEval(w io.Writer, clf *model.Classifier, loaders ...*data.Loader) error {
	for _, loader := range loaders {
		loss, accuracy, err := feedforward.Evaluate(clf, loader)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "Results on %s:\n\tloss: %.4f\n\taccuracy: %.2f%%\n", loader.Name(), loss, 100*accuracy)
		if err != nil {
			return err
		}
	}
	return nil
}

func formatAccuracy(m feedforward.EpochMetrics) string {
	if !m.HasVal {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", 100*m.ValAccuracy)
}

// EpochsTable renders the per-epoch metrics of a feed-forward run.
func EpochsTable(history []feedforward.EpochMetrics) string {
	table := newTable().Headers("Epoch", "Train loss", "Val loss", "Val accuracy")
	for _, m := range history {
		valLoss := "-"
		if m.HasVal {
			valLoss = fmt.Sprintf("%.4f", m.ValLoss)
		}
		table.Row(strconv.Itoa(m.Epoch), fmt.Sprintf("%.4f", m.TrainLoss), valLoss, formatAccuracy(m))
	}
	return table.String()
}

// IterationsTable renders the summary of each active-learning iteration: how many points it trained on,
// its final metrics, and how many points it selected.
func IterationsTable(history []medal.IterationMetrics, poolSize int) string {
	table := newTable().Headers("AL iter", "Labeled", "Train loss", "Val accuracy", "Selected")
	for _, it := range history {
		trainLoss, accuracy := "-", "-"
		if it.HasLast {
			trainLoss = fmt.Sprintf("%.4f", it.Last.TrainLoss)
			accuracy = formatAccuracy(it.Last)
		}
		table.Row(
			strconv.Itoa(it.ALIter),
			fmt.Sprintf("%s of %s", humanize.Comma(int64(it.Labeled)), humanize.Comma(int64(poolSize))),
			trainLoss, accuracy,
			strconv.Itoa(len(it.Selected)))
	}
	return table.String()
}
