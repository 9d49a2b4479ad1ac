// Copyright 2026 The VexFS Authors
// This file is part of the VexFS core library.
//
// The VexFS core library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The VexFS core library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the VexFS core library. If not, see <http://www.gnu.org/licenses/>.

package lfqueue

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New[int]()
	require.True(t, q.IsEmpty())

	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	require.False(t, q.IsEmpty())

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	require.True(t, q.IsEmpty())

	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestIsEmptyNonDestructive(t *testing.T) {
	q := New[int]()
	q.Enqueue(42)

	require.False(t, q.IsEmpty())
	require.False(t, q.IsEmpty())

	v, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestConcurrentProducersThenSequentialDrain(t *testing.T) {
	q := New[int]()
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(base*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	var got []int
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, v)
	}

	require.Len(t, got, producers*perProducer)
	sort.Ints(got)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestConcurrentProducersAndConsumers(t *testing.T) {
	q := New[int]()
	const total = 4000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Enqueue(i)
		}
	}()

	results := make(chan int, total)
	var consumers sync.WaitGroup
	consumers.Add(4)
	var drained int
	var mu sync.Mutex
	stop := make(chan struct{})
	for c := 0; c < 4; c++ {
		go func() {
			defer consumers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if v, ok := q.Dequeue(); ok {
					results <- v
					mu.Lock()
					drained++
					mu.Unlock()
				}
			}
		}()
	}

	wg.Wait()
	for {
		mu.Lock()
		n := drained
		mu.Unlock()
		if n >= total {
			break
		}
	}
	close(stop)
	consumers.Wait()
	close(results)

	seen := make(map[int]bool, total)
	for v := range results {
		require.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
	require.Len(t, seen, total)
}
