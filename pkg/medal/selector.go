// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package medal

import (
	"math/rand/v2"
	"sort"

	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/model"
	"github.com/medalearn/medal/pkg/support/sets"
	"github.com/pkg/errors"
)

// ErrSelectionViolation is returned when a selection round returns an empty set, positions out of
// range, repeated positions or positions already labeled.
var ErrSelectionViolation = errors.New("selection violation")

// LoaderFn creates a loader over the given pool positions. The loader must not shuffle: batches
// follow the order of positions.
type LoaderFn func(positions []int) *data.Loader

// Selector picks the pool positions to label.
type Selector interface {
	// SelectInitial picks the positions labeled before the first iteration, with no trained model.
	SelectInitial(mask *Mask) ([]int, error)

	// SelectRound picks the positions to label at the end of an iteration. It must return a non-empty
	// set of currently unlabeled positions.
	SelectRound(clf *model.Classifier, newLoader LoaderFn, mask *Mask) ([]int, error)
}

// RandomSelector draws positions uniformly among the unlabeled ones. A literal RandomSelector uses
// the sequence of seed 0; use NewRandomSelector to choose the seed.
type RandomSelector struct {
	// Initial is the number of positions selected by SelectInitial.
	Initial int

	// BatchSize is the number of positions selected by SelectRound.
	BatchSize int

	rng *rand.Rand
}

var _ Selector = (*RandomSelector)(nil)

// NewRandomSelector creates a RandomSelector with a random sequence determined by seed.
func NewRandomSelector(initial, batchSize int, seed uint64) *RandomSelector {
	return &RandomSelector{Initial: initial, BatchSize: batchSize, rng: rand.New(rand.NewPCG(seed, 3))}
}

// draw n distinct unlabeled positions, or all of them if there are fewer.
func (s *RandomSelector) draw(mask *Mask, n int) []int {
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(0, 3))
	}
	unlabeled := mask.Unlabeled()
	n = min(n, len(unlabeled))
	// Partial Fisher-Yates: the first n are a uniform sample.
	for ii := 0; ii < n; ii++ {
		jj := ii + s.rng.IntN(len(unlabeled)-ii)
		unlabeled[ii], unlabeled[jj] = unlabeled[jj], unlabeled[ii]
	}
	return unlabeled[:n]
}

// SelectInitial implements Selector.
func (s *RandomSelector) SelectInitial(mask *Mask) ([]int, error) {
	return s.draw(mask, s.Initial), nil
}

// SelectRound implements Selector. The classifier is not used.
func (s *RandomSelector) SelectRound(_ *model.Classifier, _ LoaderFn, mask *Mask) ([]int, error) {
	return s.draw(mask, s.BatchSize), nil
}

// ScoreFn scores each unlabeled point given the feature embeddings of the labeled and the unlabeled
// points. Higher scores are selected first.
type ScoreFn func(labeled, unlabeled [][]float64) ([]float64, error)

// EmbeddingSelector selects the unlabeled points with the highest score computed on the classifier
// feature embeddings. The initial selection, with no trained model, is delegated to Initial.
type EmbeddingSelector struct {
	// Initial selects the positions labeled before the first iteration. Required.
	Initial Selector

	// BatchSize is the number of positions selected by SelectRound.
	BatchSize int

	// Score is the selection criterion. Required: if nil, SelectRound returns model.ErrNotImplemented.
	Score ScoreFn
}

var _ Selector = (*EmbeddingSelector)(nil)

// SelectInitial implements Selector.
func (s *EmbeddingSelector) SelectInitial(mask *Mask) ([]int, error) {
	if s.Initial == nil {
		return nil, errors.New("EmbeddingSelector.Initial is not set")
	}
	return s.Initial.SelectInitial(mask)
}

// SelectRound implements Selector.
func (s *EmbeddingSelector) SelectRound(clf *model.Classifier, newLoader LoaderFn, mask *Mask) ([]int, error) {
	if s.Score == nil {
		return nil, errors.Wrap(model.ErrNotImplemented, "EmbeddingSelector: no scoring function")
	}
	unlabeled := mask.Unlabeled()
	if len(unlabeled) == 0 {
		return nil, nil
	}
	labeledEmbeddings, err := embed(clf, newLoader, mask.Labeled())
	if err != nil {
		return nil, err
	}
	unlabeledEmbeddings, err := embed(clf, newLoader, unlabeled)
	if err != nil {
		return nil, err
	}
	scores, err := s.Score(labeledEmbeddings, unlabeledEmbeddings)
	if err != nil {
		return nil, errors.WithMessage(err, "EmbeddingSelector: scoring")
	}
	if len(scores) != len(unlabeled) {
		return nil, errors.Errorf("EmbeddingSelector: got %d scores for %d unlabeled points", len(scores), len(unlabeled))
	}
	order := make([]int, len(unlabeled))
	for ii := range order {
		order[ii] = ii
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	selected := make([]int, min(s.BatchSize, len(order)))
	for ii := range selected {
		selected[ii] = unlabeled[order[ii]]
	}
	return selected, nil
}

// embed returns the embeddings of the points at positions, in the same order.
func embed(clf *model.Classifier, newLoader LoaderFn, positions []int) ([][]float64, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	all, err := data.Collect(newLoader(positions))
	if err != nil {
		return nil, err
	}
	return clf.Embed(all.Inputs)
}

// checkSelection verifies selected is a non-empty set of unlabeled positions.
func checkSelection(selected []int, mask *Mask) error {
	if len(selected) == 0 {
		return errors.Wrap(ErrSelectionViolation, "empty selection")
	}
	seen := sets.Make[int](len(selected))
	for _, pos := range selected {
		if pos < 0 || pos >= mask.Len() {
			return errors.Wrapf(ErrSelectionViolation, "position %d out of range for pool of %d", pos, mask.Len())
		}
		if seen.Has(pos) {
			return errors.Wrapf(ErrSelectionViolation, "position %d selected twice", pos)
		}
		seen.Insert(pos)
	}
	if overlap := seen.Intersect(mask.LabeledSet()); len(overlap) > 0 {
		return errors.Wrapf(ErrSelectionViolation, "positions %v are already labeled", sets.Sorted(overlap))
	}
	return nil
}
