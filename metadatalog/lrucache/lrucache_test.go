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

package lrucache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	k := Key{TargetID: 1, Kind: 0}
	c.Put(k, []byte("inode-1"))

	v, ok := c.Get(k)
	require.True(t, ok)
	require.Equal(t, []byte("inode-1"), v)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	a, b, d := Key{TargetID: 1}, Key{TargetID: 2}, Key{TargetID: 3}
	c.Put(a, []byte("a"))
	c.Put(b, []byte("b"))
	_, _ = c.Get(a) // touch a, making b the LRU entry
	c.Put(d, []byte("d"))

	_, ok := c.Get(b)
	require.False(t, ok, "b should have been evicted as least recently used")

	_, ok = c.Get(a)
	require.True(t, ok)
	_, ok = c.Get(d)
	require.True(t, ok)

	_, _, evictions := c.Stats()
	require.EqualValues(t, 1, evictions)
}

func TestCorruptedEntryTreatedAsMiss(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)
	k := Key{TargetID: 7}
	c.Put(k, []byte("value"))

	i := c.index[k]
	c.entries[i].value[0] ^= 0xff // corrupt without updating the checksum

	_, ok := c.Get(k)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestInvalidate(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)
	k := Key{TargetID: 1}
	c.Put(k, []byte("x"))
	c.Invalidate(k)

	_, ok := c.Get(k)
	require.False(t, ok)
}
