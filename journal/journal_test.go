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

package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal")
	j, err := Open(path, 4, 5*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendCommitRecoverRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	const txnID = uint64(1)
	_, err := j.Start(txnID)
	require.NoError(t, err)
	_, err = j.DirtyMetadata(txnID, 7, []byte("inode-7-before"))
	require.NoError(t, err)
	_, err = j.GetWriteAccess(txnID, 42, []byte("block-42-before"))
	require.NoError(t, err)
	require.NoError(t, j.Commit(txnID))

	records, err := j.Recover()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, KindMetadataDirty, records[0].Header.Kind)
	require.Equal(t, KindCommit, records[3].Header.Kind)
	for i, r := range records {
		require.EqualValues(t, i, r.Header.Seq)
		require.Equal(t, txnID, r.Header.TxnID)
	}
}

func TestAbortRecorded(t *testing.T) {
	j := openTestJournal(t)
	require.NoError(t, j.Abort(9))

	records, err := j.Recover()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, KindAbort, records[0].Header.Kind)
}

func TestForceCommitFlushesImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := Open(path, 1000, time.Hour) // batch threshold and ticker both far away
	require.NoError(t, err)
	defer j.Close()

	done := make(chan error, 1)
	go func() {
		_, e := j.DirtyMetadata(3, 1, []byte("x"))
		done <- e
	}()
	// ForceCommit only flushes records enqueued before it is called.
	for j.queue.Len() == 0 {
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, j.ForceCommit())
	require.NoError(t, <-done)
}

func TestTruncateDropsOldRecords(t *testing.T) {
	j := openTestJournal(t)
	for i := uint64(0); i < 5; i++ {
		_, err := j.DirtyMetadata(i, i, nil)
		require.NoError(t, err)
	}
	count, err := j.Truncate(3)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	records, err := j.Recover()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.EqualValues(t, 3, records[0].Header.Seq)
}

func TestReopenResumesSequenceNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := Open(path, 4, 5*time.Millisecond)
	require.NoError(t, err)
	seq, err := j.DirtyMetadata(1, 1, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, seq)
	require.NoError(t, j.Close())

	j2, err := Open(path, 4, 5*time.Millisecond)
	require.NoError(t, err)
	defer j2.Close()
	seq2, err := j2.DirtyMetadata(1, 2, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, seq2)
}
