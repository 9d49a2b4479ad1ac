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

package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/vexfs/vexfscore/alloclog"
	"github.com/vexfs/vexfscore/config"
	"github.com/vexfs/vexfscore/journal"
	"github.com/vexfs/vexfscore/metadatalog"
	"github.com/vexfs/vexfscore/semanticlog"
	"github.com/vexfs/vexfscore/txn"
	"github.com/vexfs/vexfscore/vexerr"
)

// Coordinator drives two-phase commit across the metadata, allocation,
// and semantic subjournals behind a single root transaction commit, and
// owns the deadlock detector and periodic consistency scan.
type Coordinator struct {
	cfg   *config.Config
	txns  *txn.Manager
	j     *journal.Journal
	meta  *metadatalog.Store
	alloc *alloclog.Manager
	sem   *semanticlog.Store
	locks *LockManager

	stopDeadlock chan struct{}
	stopScan     chan struct{}
	wg           sync.WaitGroup
}

// New constructs a coordinator wiring together every subjournal.
func New(cfg *config.Config, txns *txn.Manager, j *journal.Journal, meta *metadatalog.Store, alloc *alloclog.Manager, sem *semanticlog.Store) *Coordinator {
	return &Coordinator{cfg: cfg, txns: txns, j: j, meta: meta, alloc: alloc, sem: sem, locks: NewLockManager()}
}

// MetadataWrite describes one metadata subjournal apply to perform as
// part of a transaction's commit phase.
type MetadataWrite struct {
	TargetID uint64
	Kind     metadatalog.Kind
	Payload  []byte
}

// SemanticEvent describes one semantic log entry to append at commit.
type SemanticEvent struct {
	Kind         semanticlog.Kind
	TargetID     uint64
	Payload      []byte
	Predecessors []uint64
	AgentVisible bool
}

// AllocOpKind selects which allocation subsystem call an AllocationOp
// drives during a transaction's commit phase.
type AllocOpKind uint8

const (
	AllocateBlocksOp AllocOpKind = iota
	FreeBlocksOp
	AllocateInodeOp
	FreeInodeOp
)

// AllocationOp stages one allocation-subsystem action to run as part of a
// transaction's commit phase, alongside its metadata writes, instead of
// being applied out-of-band before the root transaction's commit record
// lands. TargetID addresses the object involved in the op where it
// matters (FreeBlocksOp: global block number; FreeInodeOp: inode number).
type AllocationOp struct {
	Kind      AllocOpKind
	Count     uint64
	Alignment uint64
	Strategy  alloclog.Strategy
	TargetID  uint64
}

// AllocationResult carries back the block or inode number an
// AllocateBlocksOp/AllocateInodeOp produced. It is zero for free
// operations, which produce nothing to report.
type AllocationResult struct {
	ID uint64
}

// TwoPhaseCommit runs prepare (durably commit the root transaction to the
// journal) then commit (apply the transaction's staged metadata writes,
// run its staged allocation operations, and append its semantic event) in
// the spec's metadata → allocation → semantic order, so a crash between
// phases always resolves as "committed, apply pending" on recovery rather
// than ever resolving as "applied but not committed". Because none of the
// three subjournals are touched until the root transaction's commit
// record is already durable, an allocation staged here can never become
// durable independently of the cross-layer commit the way a caller
// invoking alloclog directly, ahead of commit, could.
func (c *Coordinator) TwoPhaseCommit(t *txn.Txn, writes []MetadataWrite, allocs []AllocationOp, event *SemanticEvent) ([]AllocationResult, error) {
	if err := c.txns.Commit(t, nil); err != nil {
		return nil, fmt.Errorf("prepare phase (journal commit): %w", err)
	}

	for _, w := range writes {
		if err := c.meta.Put(w.TargetID, w.Kind, w.Payload); err != nil {
			// The journal commit is already durable; metadata apply is
			// idempotent (Put overwrites), so recovery can simply redo
			// this step rather than unwind the commit.
			return nil, fmt.Errorf("commit phase (metadata apply) for txn %d: %w", t.ID, err)
		}
	}

	results := make([]AllocationResult, len(allocs))
	for i, op := range allocs {
		id, err := c.applyAllocationOp(t.ID, op)
		if err != nil {
			return results, fmt.Errorf("commit phase (allocation apply) for txn %d: %w", t.ID, err)
		}
		results[i] = AllocationResult{ID: id}
	}

	if event != nil {
		if _, err := c.sem.Append(semanticlog.Event{
			TxnID: t.ID, Kind: event.Kind, TargetID: event.TargetID, Payload: event.Payload,
			Predecessors: event.Predecessors, AgentVisible: event.AgentVisible,
			Timestamp: uint64(time.Now().Unix()),
		}); err != nil {
			return results, fmt.Errorf("commit phase (semantic append) for txn %d: %w", t.ID, err)
		}
	}

	c.locks.ReleaseAll(t.ID)
	return results, nil
}

func (c *Coordinator) applyAllocationOp(txnID uint64, op AllocationOp) (uint64, error) {
	switch op.Kind {
	case AllocateBlocksOp:
		return c.alloc.AllocateBlocks(txnID, op.Count, op.Alignment, op.Strategy)
	case FreeBlocksOp:
		return 0, c.alloc.FreeBlocks(txnID, op.TargetID, op.Count)
	case AllocateInodeOp:
		return c.alloc.AllocateInode(txnID)
	case FreeInodeOp:
		return 0, c.alloc.FreeInode(txnID, op.TargetID)
	default:
		return 0, fmt.Errorf("%w: unknown allocation op kind %d", vexerr.ErrInvalidArgument, op.Kind)
	}
}

// Abort releases t's locks and drives it to Aborted via the transaction
// manager. A transaction that reaches Abort never reached TwoPhaseCommit's
// prepare step, so none of its metadata, allocation, or semantic writes
// were ever applied; the spec's reverse ordering on abort falls out of
// TwoPhaseCommit never running those three steps until after prepare has
// already durably committed, rather than requiring a separate undo pass.
func (c *Coordinator) Abort(t *txn.Txn) error {
	defer c.locks.ReleaseAll(t.ID)
	return c.txns.Abort(t, nil)
}

// StartDeadlockDetector periodically scans the wait-for graph, aborting
// the youngest transaction in any cycle it finds.
func (c *Coordinator) StartDeadlockDetector(resolve func(txnID uint64)) {
	c.stopDeadlock = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.DeadlockCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopDeadlock:
				return
			case <-ticker.C:
				if victim, found := c.locks.DetectDeadlock(); found {
					deadlocksDetected.Inc(1)
					log.Warn("vexfs coordinator: deadlock detected, aborting youngest transaction", "victim", victim)
					resolve(victim)
				}
			}
		}
	}()
}

// StartConsistencyScan periodically scans every metadata kind in the
// metadata subjournal, which verifies each record's stored checksum, and
// counts and logs each kind whose scan fails. It does not check
// allocation group bitmaps or references between subjournals.
func (c *Coordinator) StartConsistencyScan() {
	c.stopScan = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.ConsistencyCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopScan:
				return
			case <-ticker.C:
				c.runConsistencyScan()
			}
		}
	}()
}

func (c *Coordinator) runConsistencyScan() {
	for _, kind := range []metadatalog.Kind{metadatalog.KindInode, metadatalog.KindDirEntry, metadatalog.KindVectorDescriptor, metadatalog.KindBitmapUpdate} {
		if err := c.meta.Scan(kind, func(uint64, []byte) error { return nil }); err != nil {
			consistencyFailures.Inc(1)
			log.Error("vexfs coordinator: metadata consistency scan failed", "kind", kind, "err", err)
		}
	}
}

// Stop halts the deadlock detector and consistency scan goroutines.
func (c *Coordinator) Stop() {
	if c.stopDeadlock != nil {
		close(c.stopDeadlock)
	}
	if c.stopScan != nil {
		close(c.stopScan)
	}
	c.wg.Wait()
}

// Locks exposes the coordinator's lock manager so a caller can acquire a
// lock on a target before staging operations against it.
func (c *Coordinator) Locks() *LockManager { return c.locks }
