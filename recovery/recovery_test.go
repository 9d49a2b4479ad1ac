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

package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vexfs/vexfscore/block"
	"github.com/vexfs/vexfscore/config"
	"github.com/vexfs/vexfscore/journal"
	"github.com/vexfs/vexfscore/recovery/checkpoint"
	"github.com/vexfs/vexfscore/txn"
)

const testBlockSize = 512

func blockOf(b byte) []byte {
	buf := make([]byte, testBlockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func newTestRig(t *testing.T) (*block.Device, *journal.Journal, *txn.Manager, *checkpoint.Manager) {
	t.Helper()
	dir := t.TempDir()

	dev, err := block.Open(filepath.Join(dir, "dev.img"), testBlockSize, 16)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	j, err := journal.Open(filepath.Join(dir, "journal"), 8, 5*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	ckpt, err := checkpoint.New(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)

	cfg := config.Default()
	mgr := txn.NewManager(cfg, j)
	return dev, j, mgr, ckpt
}

func TestRecoverUndoesAbortedTransaction(t *testing.T) {
	dev, j, mgr, ckpt := newTestRig(t)

	require.NoError(t, dev.WriteBlock(5, blockOf('b')))

	tx, err := mgr.Begin(config.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, mgr.AddOperation(tx, txn.OpDataWrite, 5, blockOf('b')))
	require.NoError(t, dev.WriteBlock(5, blockOf('a')))
	require.NoError(t, mgr.Abort(tx, nil))
	require.NoError(t, j.ForceCommit())

	cfg := config.Default()
	eng := New(cfg, dev, j, ckpt, nil, nil)
	report, err := eng.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, report.Aborted)
	require.Equal(t, 1, report.BlocksUndone)
	require.Equal(t, StateComplete, eng.State())

	got, err := dev.ReadBlock(5)
	require.NoError(t, err)
	require.Equal(t, blockOf('b'), got, "aborted write must be undone to its before-image")
}

func TestRecoverLeavesCommittedTransactionAlone(t *testing.T) {
	dev, j, mgr, ckpt := newTestRig(t)

	require.NoError(t, dev.WriteBlock(7, blockOf('b')))

	tx, err := mgr.Begin(config.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, mgr.AddOperation(tx, txn.OpDataWrite, 7, blockOf('b')))
	require.NoError(t, dev.WriteBlock(7, blockOf('c')))
	require.NoError(t, mgr.Commit(tx, nil))
	require.NoError(t, j.ForceCommit())

	cfg := config.Default()
	eng := New(cfg, dev, j, ckpt, nil, nil)
	report, err := eng.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, report.Committed)
	require.Equal(t, 0, report.BlocksUndone)

	got, err := dev.ReadBlock(7)
	require.NoError(t, err)
	require.Equal(t, blockOf('c'), got, "committed write must survive recovery untouched")
}

func TestRecoverUndoesInFlightTransaction(t *testing.T) {
	dev, j, mgr, ckpt := newTestRig(t)

	require.NoError(t, dev.WriteBlock(2, blockOf('b')))

	tx, err := mgr.Begin(config.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, mgr.AddOperation(tx, txn.OpDataWrite, 2, blockOf('b')))
	require.NoError(t, dev.WriteBlock(2, blockOf('x')))
	require.NoError(t, j.ForceCommit()) // crash before commit or abort ever lands

	cfg := config.Default()
	eng := New(cfg, dev, j, ckpt, nil, nil)
	report, err := eng.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, report.InFlight)
	require.Equal(t, 1, report.BlocksUndone)

	got, err := dev.ReadBlock(2)
	require.NoError(t, err)
	require.Equal(t, blockOf('b'), got)
}

func TestRecoverWritesCheckpointAfterRun(t *testing.T) {
	dev, j, mgr, ckpt := newTestRig(t)

	tx, err := mgr.Begin(config.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(tx, nil))
	require.NoError(t, j.ForceCommit())

	cfg := config.Default()
	eng := New(cfg, dev, j, ckpt, nil, nil)
	_, err = eng.Recover()
	require.NoError(t, err)

	manifest, ok, err := ckpt.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, j.LatestSeq(), manifest.JournalSeq)
}

func TestRecoverSecondRunStartsFromCheckpoint(t *testing.T) {
	dev, j, mgr, ckpt := newTestRig(t)

	tx, err := mgr.Begin(config.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, mgr.AddOperation(tx, txn.OpDataWrite, 3, blockOf('b')))
	require.NoError(t, mgr.Commit(tx, nil))
	require.NoError(t, j.ForceCommit())

	cfg := config.Default()
	eng := New(cfg, dev, j, ckpt, nil, nil)
	first, err := eng.Recover()
	require.NoError(t, err)
	require.Equal(t, uint64(0), first.FromCheckpointSeq)

	tx2, err := mgr.Begin(config.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(tx2, nil))
	require.NoError(t, j.ForceCommit())

	second, err := eng.Recover()
	require.NoError(t, err)
	require.Greater(t, second.FromCheckpointSeq, uint64(0), "second run must resume past the first checkpoint")
}
