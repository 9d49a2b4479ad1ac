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

package semanticlog

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "semanticlog"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendReadAllRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seq1, err := s.Append(Event{Kind: KindCreateFile, TargetID: 1})
	require.NoError(t, err)
	seq2, err := s.Append(Event{Kind: KindWriteVector, TargetID: 1, Predecessors: []uint64{seq1}})
	require.NoError(t, err)

	events, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, seq1, events[0].Seq)
	require.Equal(t, seq2, events[1].Seq)
}

func TestReplaySequentialOrder(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Append(Event{Kind: KindWriteVector, TargetID: 1})
		require.NoError(t, err)
	}

	var got []uint64
	err := NewReplayEngine(s).Replay(0, func(ctx ReplayContext, ev Event) error {
		got = append(got, ev.Seq)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2, 3, 4}, got)
}

func TestReplayAgentVisibleFilter(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(Event{Kind: KindWriteVector, AgentVisible: true})
	require.NoError(t, err)
	_, err = s.Append(Event{Kind: KindWriteVector, AgentVisible: false})
	require.NoError(t, err)

	var count int
	err = NewReplayEngine(s).Replay(FlagAgentVisible, func(ctx ReplayContext, ev Event) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestReplayCausalityOrderRespectsPredecessors(t *testing.T) {
	s := openTestStore(t)
	// Event 1 names event 0 as its predecessor; with causality ordering
	// and validation on, replay must deliver the predecessor first.
	first, err := s.Append(Event{Kind: KindCreateFile, TargetID: 1})
	require.NoError(t, err)
	second, err := s.Append(Event{Kind: KindWriteVector, TargetID: 1, Predecessors: []uint64{first}})
	require.NoError(t, err)

	var got []uint64
	err = NewReplayEngine(s).Replay(FlagCausalityOrder|FlagValidate, func(ctx ReplayContext, ev Event) error {
		got = append(got, ev.Seq)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{first, second}, got)
}

func TestReplayValidateCatchesMissingPredecessor(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(Event{Kind: KindWriteVector, Predecessors: []uint64{999}})
	require.NoError(t, err)

	err = NewReplayEngine(s).Replay(FlagValidate, func(ctx ReplayContext, ev Event) error {
		return nil
	})
	require.Error(t, err)
}

func TestReplayStopOnError(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Append(Event{Kind: KindWriteVector})
		require.NoError(t, err)
	}

	var calls int
	err := NewReplayEngine(s).Replay(FlagStopOnError, func(ctx ReplayContext, ev Event) error {
		calls++
		if ev.Seq == 1 {
			return fmt.Errorf("boom")
		}
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 2, calls, "replay must stop after the failing event, not continue to seq=2")
}

func TestReplayParallelShardsByTarget(t *testing.T) {
	s := openTestStore(t)
	for target := uint64(0); target < 4; target++ {
		for i := 0; i < 10; i++ {
			_, err := s.Append(Event{Kind: KindWriteVector, TargetID: target})
			require.NoError(t, err)
		}
	}

	var mu sync.Mutex
	counts := map[uint64]int{}
	err := NewReplayEngine(s).Replay(FlagParallel, func(ctx ReplayContext, ev Event) error {
		mu.Lock()
		counts[ev.TargetID]++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, counts, 4)
	for _, c := range counts {
		require.Equal(t, 10, c)
	}
}
