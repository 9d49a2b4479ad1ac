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

package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vexfs/vexfscore/vexerr"
)

func TestSetClearTestPopcount(t *testing.T) {
	b, err := New(128)
	require.NoError(t, err)

	require.NoError(t, b.Set(5))
	require.NoError(t, b.Set(5)) // idempotent
	require.NoError(t, b.Set(10))
	require.EqualValues(t, 2, b.Popcount())

	set, err := b.Test(5)
	require.NoError(t, err)
	require.True(t, set)

	require.NoError(t, b.Clear(5))
	require.EqualValues(t, 1, b.Popcount())
	require.NoError(t, b.Verify())
}

func TestOutOfBounds(t *testing.T) {
	b, err := New(8)
	require.NoError(t, err)
	require.ErrorIs(t, b.Set(8), vexerr.ErrInvalidArgument)
}

func TestFindFirstZero(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, b.Set(i))
	}
	require.EqualValues(t, 4, b.FindFirstZero(0))
	require.EqualValues(t, End, b.FindFirstZero(16))
}

func TestFindNextZeroRunAlignment(t *testing.T) {
	b, err := New(64)
	require.NoError(t, err)
	// Dirty bits [0,8) so an 8-aligned search must skip to 8.
	for i := uint64(0); i < 8; i++ {
		require.NoError(t, b.Set(i))
	}
	start, err := b.FindNextZeroRun(0, 8, 8)
	require.NoError(t, err)
	require.EqualValues(t, 8, start)
}

func TestFindNextZeroRunInvalidAlignment(t *testing.T) {
	b, err := New(64)
	require.NoError(t, err)
	_, err = b.FindNextZeroRun(0, 1, 3)
	require.Error(t, err)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	b, err := New(32)
	require.NoError(t, err)
	require.NoError(t, b.Set(1))
	require.NoError(t, b.Set(30))
	snap := b.Snapshot()

	require.NoError(t, b.Set(15))
	require.EqualValues(t, 3, b.Popcount())

	require.NoError(t, b.Restore(snap))
	require.EqualValues(t, 2, b.Popcount())
	require.NoError(t, b.Verify())
}

func TestChecksumCachedUntilMutation(t *testing.T) {
	b, err := New(32)
	require.NoError(t, err)
	c1 := b.Checksum()
	c2 := b.Checksum()
	require.Equal(t, c1, c2)

	require.NoError(t, b.Set(3))
	c3 := b.Checksum()
	require.NotEqual(t, c1, c3)
}
