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

package alloclog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexfs/vexfscore/vexerr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "alloclog"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	g, err := NewGroup(0, 0, 64, 0, 16)
	require.NoError(t, err)
	m.AddGroup(g)
	return m
}

func TestAllocateAndFreeBlocks(t *testing.T) {
	m := newTestManager(t)

	start, err := m.AllocateBlocks(1, 8, 1, FirstFit)
	require.NoError(t, err)
	require.EqualValues(t, 0, start)

	require.NoError(t, m.FreeBlocks(1, start, 8))
	require.EqualValues(t, 0, m.groups[0].Blocks.Popcount())
}

func TestAllocateHonorsAlignment(t *testing.T) {
	m := newTestManager(t)

	// Dirty the first 4 blocks so an 8-aligned request must skip past them.
	_, err := m.AllocateBlocks(1, 4, 1, FirstFit)
	require.NoError(t, err)

	start, err := m.AllocateBlocks(1, 4, 8, VectorOptimized)
	require.NoError(t, err)
	require.EqualValues(t, 8, start)
}

func TestAllocateOutOfSpace(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AllocateBlocks(1, 1000, 1, FirstFit)
	require.ErrorIs(t, err, vexerr.ErrOutOfSpace)
}

func TestFreeBlocksRejectsRangeOutsideAnyGroup(t *testing.T) {
	m := newTestManager(t)
	err := m.FreeBlocks(1, 1000, 1)
	require.Error(t, err)
}

func TestAllocateBlocksRejectsNonPowerOfTwoAlignment(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AllocateBlocks(1, 4, 3, FirstFit)
	require.ErrorIs(t, err, vexerr.ErrInvalidArgument)
}

func TestFreeBlocksReportsPartialFree(t *testing.T) {
	m := newTestManager(t)
	start, err := m.AllocateBlocks(1, 4, 1, FirstFit)
	require.NoError(t, err)

	// Clear one of the four bits out from under the subjournal so the
	// free below finds a bit that's already clear.
	require.NoError(t, m.groups[0].Blocks.Clear(start))

	err = m.FreeBlocks(1, start, 4)
	require.ErrorIs(t, err, vexerr.ErrPartialFree)
	require.EqualValues(t, 0, m.groups[0].Blocks.Popcount())
}

func TestAllocateFreeInode(t *testing.T) {
	m := newTestManager(t)

	id, err := m.AllocateInode(1)
	require.NoError(t, err)
	require.EqualValues(t, 0, id)

	require.NoError(t, m.FreeInode(1, id))
	require.EqualValues(t, 0, m.groups[0].Inodes.Popcount())
}

func TestOrphanSweep(t *testing.T) {
	m := newTestManager(t)
	m.Orphans().Add(5)
	m.Orphans().Add(3)
	require.Equal(t, 2, m.Orphans().Len())

	var swept []uint64
	require.NoError(t, m.Orphans().Sweep(func(id uint64) error {
		swept = append(swept, id)
		return nil
	}))
	require.Equal(t, []uint64{3, 5}, swept)
	require.Equal(t, 0, m.Orphans().Len())
}

func TestBestFitPrefersTighterGroup(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "alloclog"))
	require.NoError(t, err)
	defer m.Close()

	roomy, err := NewGroup(0, 0, 64, 0, 1)
	require.NoError(t, err)
	tight, err := NewGroup(1, 64, 16, 0, 1)
	require.NoError(t, err)
	m.AddGroup(roomy)
	m.AddGroup(tight)
	// Leave the tight group with exactly 4 free blocks.
	for i := uint64(0); i < 12; i++ {
		require.NoError(t, tight.Blocks.Set(i))
	}

	start, err := m.AllocateBlocks(1, 4, 1, BestFit)
	require.NoError(t, err)
	require.GreaterOrEqual(t, start, tight.BlockStart)
	require.Less(t, start, tight.BlockStart+tight.BlockCount)
}
