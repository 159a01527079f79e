// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultParallelism(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultParallelism(), 1)
	assert.Equal(t, DefaultParallelism(), New(0).MaxParallelism())
}

func TestPool_Limit(t *testing.T) {
	const limit = 3
	pool := New(limit)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for ii := 0; ii < 20; ii++ {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	pool.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(limit))
}

func TestPool_Wait(t *testing.T) {
	pool := New(2)
	var finished atomic.Int32
	for ii := 0; ii < 5; ii++ {
		pool.WaitToStart(func() {
			time.Sleep(5 * time.Millisecond)
			finished.Add(1)
		})
	}
	pool.Wait()
	assert.Equal(t, int32(5), finished.Load())

	unlimited := New(-1)
	assert.Equal(t, -1, unlimited.MaxParallelism())
	release := make(chan struct{})
	for ii := 0; ii < 10; ii++ {
		unlimited.WaitToStart(func() {
			<-release
			finished.Add(1)
		})
	}
	close(release)
	unlimited.Wait()
	assert.Equal(t, int32(15), finished.Load())
}
