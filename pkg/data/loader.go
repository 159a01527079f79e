// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/medalearn/medal/internal/workerspool"
	"github.com/pkg/errors"
)

// Loader yields batches of a Dataset restricted to a subset of its indices.
//
// Batches are prepared in parallel by a bounded pool of workers and delivered in order.
// It follows the Reset/Yield protocol: Yield returns io.EOF at the end of each epoch, and Reset starts
// the next one (reshuffling, if shuffling is enabled).
//
// Configure it with the cascading methods and then call Start. Example:
//
//	loader := data.NewLoader(ds, labeledIndices, cfg.BatchSize).Shuffle(cfg.Seed).Parallelism(cfg.NumWorkers).Start()
//	for {
//		batch, err := loader.Yield()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
//
// A Loader is not safe for concurrent use: one goroutine consumes it.
type Loader struct {
	ds        Dataset
	indices   []int
	batchSize int

	shuffle     bool
	seed        uint64
	parallelism int
	buffer      int

	pool       *workerspool.Pool
	epochCount uint64
	epoch      *loaderEpoch
}

type batchResult struct {
	batch *Batch
	err   error
}

// loaderEpoch holds the state of one pass over the indices.
type loaderEpoch struct {
	results []chan batchResult
	next    int
	ahead   chan struct{} // One slot per batch prepared and not yet consumed.
	stop    chan struct{}
	done    chan struct{} // Closed when no more batches will be scheduled.
}

// NewLoader creates a Loader over the given indices of ds. The indices are copied.
// It panics if batchSize <= 0 or if an index is out of range.
//
// It returns a Loader to be further configured, and Start must be called before use.
func NewLoader(ds Dataset, indices []int, batchSize int) *Loader {
	if batchSize <= 0 {
		exceptions.Panicf("data.NewLoader(%q): batch size must be > 0, got %d", ds.Name(), batchSize)
	}
	checkIndices(ds, indices)
	return &Loader{
		ds:        ds,
		indices:   slices.Clone(indices),
		batchSize: batchSize,
	}
}

// Shuffle the order of the indices at every epoch, with a sequence determined by seed.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader) Shuffle(seed uint64) *Loader {
	l.mustNotBeStarted()
	l.shuffle = true
	l.seed = seed
	return l
}

// Parallelism sets the number of workers preparing batches. If 0 (the default) it uses
// workerspool.DefaultParallelism.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader) Parallelism(n int) *Loader {
	l.mustNotBeStarted()
	l.parallelism = n
	return l
}

// Buffer sets how many batches can be prepared ahead of consumption. If 0 (the default) it is the
// same as the parallelism.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader) Buffer(n int) *Loader {
	l.mustNotBeStarted()
	l.buffer = n
	return l
}

func (l *Loader) mustNotBeStarted() {
	if l.pool != nil {
		exceptions.Panicf("data.Loader(%q): configuration changed after Start", l.ds.Name())
	}
}

// Start finishes the configuration. After Start the Loader can be used, and it can no longer be configured.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader) Start() *Loader {
	l.mustNotBeStarted()
	l.pool = workerspool.New(l.parallelism)
	if l.buffer <= 0 {
		l.buffer = max(1, l.pool.MaxParallelism())
	}
	return l
}

// Name of the loader, derived from the dataset name.
func (l *Loader) Name() string {
	return fmt.Sprintf("%s [%d examples]", l.ds.Name(), len(l.indices))
}

// Dataset the loader reads from.
func (l *Loader) Dataset() Dataset { return l.ds }

// Len is the number of examples per epoch.
func (l *Loader) Len() int { return len(l.indices) }

// NumBatches is the number of batches per epoch. The last batch may be smaller than the batch size.
func (l *Loader) NumBatches() int {
	return (len(l.indices) + l.batchSize - 1) / l.batchSize
}

// BatchSize configured for the loader.
func (l *Loader) BatchSize() int { return l.batchSize }

// Indices returns a copy of the dataset indices the loader is restricted to.
func (l *Loader) Indices() []int { return slices.Clone(l.indices) }

// Reset stops the current epoch, if any, and makes the next Yield start a new one.
// It returns once no worker is preparing batches of the stopped epoch.
func (l *Loader) Reset() {
	if l.pool == nil {
		exceptions.Panicf("data.Loader(%q).Reset called before Start", l.ds.Name())
	}
	if l.epoch == nil {
		return
	}
	close(l.epoch.stop)
	<-l.epoch.done
	l.pool.Wait()
	l.epoch = nil
	l.epochCount++
}

// Yield returns the next batch of the epoch, or io.EOF at its end. Errors reading the dataset are
// returned wrapped.
func (l *Loader) Yield() (*Batch, error) {
	if l.pool == nil {
		exceptions.Panicf("data.Loader(%q).Yield called before Start", l.ds.Name())
	}
	if l.epoch == nil {
		l.startEpoch()
	}
	e := l.epoch
	if e.next >= len(e.results) {
		return nil, io.EOF
	}
	result := <-e.results[e.next]
	e.next++
	<-e.ahead
	if result.err != nil {
		return nil, errors.WithMessagef(result.err, "loader %q", l.Name())
	}
	return result.batch, nil
}

// order returns the positions of the indices in the order of the current epoch.
func (l *Loader) order() []int {
	order := make([]int, len(l.indices))
	copy(order, l.indices)
	if l.shuffle {
		rng := rand.New(rand.NewPCG(l.seed, l.epochCount))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

func (l *Loader) startEpoch() {
	order := l.order()
	numBatches := l.NumBatches()
	e := &loaderEpoch{
		results: make([]chan batchResult, numBatches),
		ahead:   make(chan struct{}, l.buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for ii := range e.results {
		e.results[ii] = make(chan batchResult, 1)
	}
	l.epoch = e
	ds, pool, batchSize := l.ds, l.pool, l.batchSize
	go func() {
		defer close(e.done)
		for ii := 0; ii < numBatches; ii++ {
			select {
			case <-e.stop:
				return
			default:
			}
			select {
			case e.ahead <- struct{}{}:
			case <-e.stop:
				return
			}
			start := ii * batchSize
			end := min(start+batchSize, len(order))
			indices := order[start:end]
			result := e.results[ii]
			pool.WaitToStart(func() {
				batch, err := prepareBatch(ds, indices)
				result <- batchResult{batch: batch, err: err}
			})
		}
	}()
}

func prepareBatch(ds Dataset, indices []int) (*Batch, error) {
	batch := &Batch{
		Indices: slices.Clone(indices),
		Inputs:  make([][]float64, len(indices)),
		Labels:  make([]float64, len(indices)),
	}
	for ii, idx := range indices {
		input, label, err := ds.Example(idx)
		if err != nil {
			return nil, errors.WithMessagef(err, "preparing example %d", idx)
		}
		batch.Inputs[ii] = input
		batch.Labels[ii] = label
	}
	return batch, nil
}

// Collect reads all remaining batches of the current epoch and concatenates them into one Batch.
// Used for evaluation and for scoring unlabeled points.
func Collect(l *Loader) (*Batch, error) {
	all := &Batch{}
	for {
		batch, err := l.Yield()
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all.Indices = append(all.Indices, batch.Indices...)
		all.Inputs = append(all.Inputs, batch.Inputs...)
		all.Labels = append(all.Labels, batch.Labels...)
	}
}
