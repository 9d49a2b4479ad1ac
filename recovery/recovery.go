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

// Package recovery implements C10: the fast recovery engine. On mount, it
// locates the most recent checkpoint, replays the journal forward from
// that point, classifies every in-flight transaction, and undoes any
// partial write left by a transaction that never committed. Redo is not
// this engine's job: the write-ahead journal records before-images for
// undo, and every commit-phase apply downstream of a durable journal
// commit is idempotent, so a crash after commit never needs WAL replay to
// repair it (see DESIGN.md).
package recovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vexfs/vexfscore/alloclog"
	"github.com/vexfs/vexfscore/block"
	"github.com/vexfs/vexfscore/config"
	"github.com/vexfs/vexfscore/journal"
	"github.com/vexfs/vexfscore/recovery/checkpoint"
	"github.com/vexfs/vexfscore/semanticlog"
	"github.com/vexfs/vexfscore/txn"
)

// State is the recovery engine's position in its run, reported so a
// mount tool can surface progress for a large journal.
type State uint8

const (
	StateIdle State = iota
	StateInitializing
	StateReplaying
	StateResolving
	StateFinalizing
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateReplaying:
		return "replaying"
	case StateResolving:
		return "resolving"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Report summarizes what a Recover call found and fixed.
type Report struct {
	FromCheckpointSeq uint64
	RecordsScanned    int
	Committed         int
	Aborted           int
	InFlight          int
	BlocksUndone      int
	Duration          time.Duration
	Parallel          bool
}

// Engine drives recovery against a substrate's already-open components.
// It does not own their lifecycle; callers open and close the device,
// journal and subjournals around a call to Recover.
type Engine struct {
	cfg   *config.Config
	dev   *block.Device
	j     *journal.Journal
	ckpt  *checkpoint.Manager
	alloc *alloclog.Manager
	sem   *semanticlog.Store

	mu    sync.Mutex
	state State
}

// New constructs a recovery engine. alloc and sem are only used to read
// their current sequence numbers when writing the post-recovery
// checkpoint, and a nil one leaves its sequence at zero in the manifest.
// Pass a nil ckpt to skip checkpointing (e.g. in a fsck-only run).
func New(cfg *config.Config, dev *block.Device, j *journal.Journal, ckpt *checkpoint.Manager, alloc *alloclog.Manager, sem *semanticlog.Store) *Engine {
	return &Engine{cfg: cfg, dev: dev, j: j, ckpt: ckpt, alloc: alloc, sem: sem}
}

// State reports the engine's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Recover runs the full recovery sequence: find the last checkpoint,
// replay the journal from it, classify every transaction touched since,
// undo anything left by a transaction that didn't commit, and write a
// fresh checkpoint marking the substrate consistent as of now.
func (e *Engine) Recover() (*Report, error) {
	start := time.Now()
	e.setState(StateInitializing)
	log.Info("vexfs recovery: starting")

	var fromSeq uint64
	if e.ckpt != nil {
		manifest, ok, err := e.ckpt.Latest()
		if err != nil {
			e.setState(StateError)
			return nil, fmt.Errorf("read latest checkpoint: %w", err)
		}
		if ok {
			fromSeq = manifest.JournalSeq
		}
	}

	e.setState(StateReplaying)
	all, err := e.j.Recover()
	if err != nil {
		e.setState(StateError)
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	records := make([]journal.Record, 0, len(all))
	for _, r := range all {
		if r.Header.Seq >= fromSeq {
			records = append(records, r)
		}
	}
	log.Info("vexfs recovery: replayed journal", "fromSeq", fromSeq, "records", len(records))

	e.setState(StateResolving)
	outcomes := txn.RecoverPartialWrites(records)
	report := &Report{FromCheckpointSeq: fromSeq, RecordsScanned: len(records)}
	for _, outcome := range outcomes {
		switch outcome {
		case txn.OutcomeCommitted:
			report.Committed++
		case txn.OutcomeAborted:
			report.Aborted++
		case txn.OutcomeInFlight:
			report.InFlight++
		}
	}

	byTxn := groupDataWritesByTxn(records)
	report.Parallel = len(records) > e.cfg.ParallelRecoveryThreshold
	undone, err := e.undoUnresolved(byTxn, outcomes, report.Parallel)
	if err != nil {
		e.setState(StateError)
		return nil, fmt.Errorf("undo partial writes: %w", err)
	}
	report.BlocksUndone = undone

	e.setState(StateFinalizing)
	if e.ckpt != nil {
		manifest := checkpoint.Manifest{
			JournalSeq:    e.j.LatestSeq(),
			CreatedAtUnix: uint64(time.Now().Unix()),
		}
		if e.alloc != nil {
			manifest.AllocLogSeq = e.alloc.LatestSeq()
		}
		if e.sem != nil {
			manifest.SemanticSeq = e.sem.LatestSeq()
		}
		if err := e.ckpt.Write(manifest); err != nil {
			e.setState(StateError)
			return nil, fmt.Errorf("write post-recovery checkpoint: %w", err)
		}
	}

	report.Duration = time.Since(start)
	e.setState(StateComplete)
	log.Info("vexfs recovery: complete", "committed", report.Committed, "aborted", report.Aborted,
		"inFlight", report.InFlight, "blocksUndone", report.BlocksUndone, "took", report.Duration)
	return report, nil
}

// undoneWrite is a decoded KindDataWrite payload: the block to restore
// and the image to restore it to.
type undoneWrite struct {
	seq         uint64
	blockID     uint64
	beforeImage []byte
}

func groupDataWritesByTxn(records []journal.Record) map[uint64][]undoneWrite {
	byTxn := make(map[uint64][]undoneWrite)
	for _, r := range records {
		if r.Header.Kind != journal.KindDataWrite {
			continue
		}
		if len(r.Payload) < 8 {
			log.Warn("vexfs recovery: short data-write payload, skipping", "txn", r.Header.TxnID, "seq", r.Header.Seq)
			continue
		}
		blockID := binary.BigEndian.Uint64(r.Payload[:8])
		byTxn[r.Header.TxnID] = append(byTxn[r.Header.TxnID], undoneWrite{
			seq: r.Header.Seq, blockID: blockID, beforeImage: r.Payload[8:],
		})
	}
	return byTxn
}

// undoUnresolved restores the before-image of every data write made by a
// transaction that did not commit, applying each transaction's own writes
// from newest to oldest so an earlier overwrite within the same
// transaction is never clobbered by a later one's before-image.
func (e *Engine) undoUnresolved(byTxn map[uint64][]undoneWrite, outcomes map[uint64]txn.Outcome, parallel bool) (int, error) {
	var txnIDs []uint64
	for id, outcome := range outcomes {
		if outcome == txn.OutcomeCommitted {
			continue
		}
		if _, ok := byTxn[id]; ok {
			txnIDs = append(txnIDs, id)
		}
	}
	sort.Slice(txnIDs, func(i, j int) bool { return txnIDs[i] < txnIDs[j] })

	var undone int64
	undoOne := func(txnID uint64) error {
		writes := byTxn[txnID]
		sort.Slice(writes, func(i, j int) bool { return writes[i].seq > writes[j].seq })
		for _, w := range writes {
			if err := e.dev.WriteBlock(w.blockID, w.beforeImage); err != nil {
				return fmt.Errorf("undo txn %d block %d: %w", txnID, w.blockID, err)
			}
			atomic.AddInt64(&undone, 1)
		}
		return nil
	}

	if e.dev == nil {
		return 0, nil
	}

	if !parallel || len(txnIDs) <= 1 {
		for _, id := range txnIDs {
			if err := undoOne(id); err != nil {
				return int(undone), err
			}
		}
		if undone > 0 {
			if err := e.dev.Barrier(); err != nil {
				return int(undone), fmt.Errorf("barrier after undo: %w", err)
			}
		}
		return int(undone), nil
	}

	workers := e.cfg.MaxRecoveryWorkers
	if workers <= 0 {
		workers = 1
	}

	var resolved int64
	total := int64(len(txnIDs))
	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-ticker.C:
				log.Info("vexfs recovery: undo progress", "resolved", atomic.LoadInt64(&resolved), "total", total)
			}
		}
	}()
	defer close(progressDone)

	sem := semaphore.NewWeighted(int64(workers))
	g := new(errgroup.Group)
	for _, id := range txnIDs {
		id := id
		if err := sem.Acquire(context.Background(), 1); err != nil {
			return int(undone), fmt.Errorf("acquire recovery worker slot: %w", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			defer atomic.AddInt64(&resolved, 1)
			return undoOne(id)
		})
	}
	if err := g.Wait(); err != nil {
		return int(undone), err
	}
	if undone > 0 {
		if err := e.dev.Barrier(); err != nil {
			return int(undone), fmt.Errorf("barrier after undo: %w", err)
		}
	}
	return int(undone), nil
}
