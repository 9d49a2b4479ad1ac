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

package metadatalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexfs/vexfscore/metadatalog/lrucache"
	"github.com/vexfs/vexfscore/vexerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metadatalog"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(1, KindInode, []byte("inode-payload")))

	got, err := s.Get(1, KindInode)
	require.NoError(t, err)
	require.Equal(t, []byte("inode-payload"), got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(99, KindInode)
	require.ErrorIs(t, err, vexerr.ErrNotFound)
}

func TestDeleteRemovesFromCacheAndDisk(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(2, KindVectorDescriptor, []byte("v")))
	require.NoError(t, s.Delete(2, KindVectorDescriptor))

	_, err := s.Get(2, KindVectorDescriptor)
	require.ErrorIs(t, err, vexerr.ErrNotFound)
}

func TestScanVisitsOnlyMatchingKind(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(1, KindInode, []byte("a")))
	require.NoError(t, s.Put(2, KindInode, []byte("b")))
	require.NoError(t, s.Put(1, KindDirEntry, []byte("c")))

	seen := map[uint64][]byte{}
	require.NoError(t, s.Scan(KindInode, func(targetID uint64, payload []byte) error {
		seen[targetID] = payload
		return nil
	}))
	require.Len(t, seen, 2)
	require.Equal(t, []byte("a"), seen[1])
	require.Equal(t, []byte("b"), seen[2])
}

func TestGetReadsFromDiskAfterCacheInvalidation(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(5, KindInode, []byte("original")))

	// Force a second lookup to bypass any in-memory cache state by
	// invalidating it directly, simulating a cold read path.
	s.cache.Invalidate(lrucache.Key{TargetID: 5, Kind: uint8(KindInode)})

	got, err := s.Get(5, KindInode)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)
}
