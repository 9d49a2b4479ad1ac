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
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/vexfs/vexfscore/bitmap"
	"github.com/vexfs/vexfscore/vexerr"
)

// OpKind distinguishes an allocation-intent record from a free-intent one.
type OpKind uint8

const (
	OpAllocateBlocks OpKind = iota
	OpFreeBlocks
	OpAllocateInode
	OpFreeInode
)

type intentRecord struct {
	Seq      uint64
	TxnID    uint64
	Kind     uint8
	GroupID  uint32
	Start    uint64
	Count    uint64
	Before   []byte // snapshot of the group's whole bitmap before mutation
	AfterSum uint32 // crc32 of the group's whole bitmap after mutation, for §8.3 verification
}

// Manager is the allocation subjournal: a set of allocation groups plus a
// durable log of allocation/free intent records used to detect and
// resolve partial allocations on crash recovery.
type Manager struct {
	mu     sync.Mutex
	groups []*Group
	orphan *OrphanIndex

	db      *leveldb.DB
	nextSeq uint64

	stopCheck chan struct{}
	checkWG   sync.WaitGroup
}

// Open opens the allocation subjournal's intent log at path. Allocation
// groups are registered afterward via AddGroup, since their layout comes
// from the superblock rather than from this store.
func Open(path string) (*Manager, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open allocation subjournal at %s: %w", path, err)
	}
	return &Manager{
		db:     db,
		orphan: NewOrphanIndex(),
	}, nil
}

// AddGroup registers an allocation group with the manager.
func (m *Manager) AddGroup(g *Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = append(m.groups, g)
}

// StartConsistencyChecker launches a background goroutine that verifies
// every group's bitmap invariants on the given interval, logging and
// counting any violation it finds rather than crashing the process.
func (m *Manager) StartConsistencyChecker(interval time.Duration) {
	m.stopCheck = make(chan struct{})
	m.checkWG.Add(1)
	go func() {
		defer m.checkWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCheck:
				return
			case <-ticker.C:
				m.checkConsistency()
			}
		}
	}()
}

func (m *Manager) checkConsistency() {
	m.mu.Lock()
	groups := append([]*Group(nil), m.groups...)
	m.mu.Unlock()

	for _, g := range groups {
		if err := g.Blocks.Verify(); err != nil {
			consistencyViolations.Inc(1)
			log.Error("vexfs alloclog: block bitmap consistency violation", "group", g.ID, "err", err)
		}
		if err := g.Inodes.Verify(); err != nil {
			consistencyViolations.Inc(1)
			log.Error("vexfs alloclog: inode bitmap consistency violation", "group", g.ID, "err", err)
		}
	}
}

// StopConsistencyChecker stops the background checker started by
// StartConsistencyChecker, if one is running.
func (m *Manager) StopConsistencyChecker() {
	if m.stopCheck == nil {
		return
	}
	close(m.stopCheck)
	m.checkWG.Wait()
}

// writeIntent durably logs rec before any bitmap mutation, assigning it
// the next sequence number, and returns that sequence so the caller can
// complete the record with an after-checksum once the mutation lands.
func (m *Manager) writeIntent(rec intentRecord) (uint64, error) {
	m.mu.Lock()
	rec.Seq = m.nextSeq
	m.nextSeq++
	m.mu.Unlock()

	if err := m.putIntent(rec); err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

// completeIntent overwrites the intent record at seq with the checksum of
// the group's whole bitmap after mutation, so invariant §8.3 (before and
// after state are both checkable from the durable record) holds even
// though the mutation itself happens after the intent's initial write.
func (m *Manager) completeIntent(seq uint64, rec intentRecord, after []byte) error {
	rec.Seq = seq
	rec.AfterSum = crc32.ChecksumIEEE(after)
	return m.putIntent(rec)
}

func (m *Manager) putIntent(rec intentRecord) error {
	data, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("encode allocation intent: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, rec.Seq)
	if err := m.db.Put(key, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write allocation intent: %w", err)
	}
	return nil
}

// AllocateBlocks runs the nine-step allocation protocol: pick a
// candidate group by strategy (1), find a free run honoring alignment
// (2-3), snapshot the affected bitmap region (4), durably log the intent
// before mutating anything (5), set the bits (6), re-verify the bitmap's
// own invariants (7), update metrics (8), and return the allocated
// global block number (9). Returns ErrOutOfSpace if no group has room.
func (m *Manager) AllocateBlocks(txnID, count, alignment uint64, strategy Strategy) (uint64, error) {
	if count == 0 {
		return 0, vexerr.ErrInvalidArgument
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return 0, fmt.Errorf("%w: alignment %d is not a power of two", vexerr.ErrInvalidArgument, alignment)
	}
	m.mu.Lock()
	order := groupOrder(m.groups, strategy, count)
	groups := m.groups
	m.mu.Unlock()

	for _, idx := range order {
		g := groups[idx]
		g.Lock()
		start, ok, err := findRun(g, count, alignment)
		if err != nil {
			g.Unlock()
			return 0, err
		}
		if !ok {
			g.Unlock()
			continue
		}

		before := g.Blocks.Snapshot()
		rec := intentRecord{
			TxnID: txnID, Kind: uint8(OpAllocateBlocks), GroupID: g.ID,
			Start: start, Count: count, Before: before,
		}
		seq, err := m.writeIntent(rec)
		if err != nil {
			g.Unlock()
			return 0, err
		}

		for i := uint64(0); i < count; i++ {
			if err := g.Blocks.Set(start + i); err != nil {
				g.Unlock()
				return 0, fmt.Errorf("set block bit: %w", err)
			}
		}
		if err := g.Blocks.Verify(); err != nil {
			g.Unlock()
			return 0, fmt.Errorf("post-allocation bitmap verify: %w", err)
		}
		after := g.Blocks.Snapshot()
		g.Unlock()

		if err := m.completeIntent(seq, rec, after); err != nil {
			return 0, err
		}
		blocksAllocated.Inc(int64(count))
		return g.BlockStart + start, nil
	}
	return 0, vexerr.ErrOutOfSpace
}

// FreeBlocks is the symmetric inverse of AllocateBlocks: it durably logs
// the free intent before clearing any bits, so a crash between the two
// leaves a record recovery can finish applying. Freeing a range that
// contains already-clear bits is tolerated per Open Question #1: the
// clear still proceeds, but the call returns ErrPartialFree so a caller
// (or its metrics) can tell a clean free from a partial one.
func (m *Manager) FreeBlocks(txnID, globalStart, count uint64) error {
	m.mu.Lock()
	g, localStart, err := m.locateBlockGroup(globalStart, count)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	g.Lock()
	defer g.Unlock()

	before := g.Blocks.Snapshot()
	rec := intentRecord{
		TxnID: txnID, Kind: uint8(OpFreeBlocks), GroupID: g.ID,
		Start: localStart, Count: count, Before: before,
	}
	seq, err := m.writeIntent(rec)
	if err != nil {
		return err
	}

	var alreadyClear int
	for i := uint64(0); i < count; i++ {
		wasSet, err := g.Blocks.Test(localStart + i)
		if err != nil {
			return fmt.Errorf("test block bit: %w", err)
		}
		if !wasSet {
			alreadyClear++
		}
		if err := g.Blocks.Clear(localStart + i); err != nil {
			return fmt.Errorf("clear block bit: %w", err)
		}
	}
	if err := g.Blocks.Verify(); err != nil {
		return fmt.Errorf("post-free bitmap verify: %w", err)
	}
	after := g.Blocks.Snapshot()
	if err := m.completeIntent(seq, rec, after); err != nil {
		return err
	}
	blocksFreed.Inc(int64(count))

	if alreadyClear > 0 {
		log.Warn("vexfs alloclog: free touched already-clear bits", "group", g.ID,
			"start", localStart, "count", count, "alreadyClear", alreadyClear)
		return vexerr.ErrPartialFree
	}
	return nil
}

func (m *Manager) locateBlockGroup(globalStart, count uint64) (*Group, uint64, error) {
	for _, g := range m.groups {
		if globalStart >= g.BlockStart && globalStart+count <= g.BlockStart+g.BlockCount {
			return g, globalStart - g.BlockStart, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: block range [%d,%d) spans no allocation group", vexerr.ErrInvalidArgument, globalStart, globalStart+count)
}

// AllocateInode finds and marks a free inode number in the first group
// with room, logging the intent before mutating the inode bitmap.
func (m *Manager) AllocateInode(txnID uint64) (uint64, error) {
	m.mu.Lock()
	groups := m.groups
	m.mu.Unlock()

	for _, g := range groups {
		g.Lock()
		idx := g.Inodes.FindFirstZero(0)
		if idx == bitmap.End {
			g.Unlock()
			continue
		}
		before := g.Inodes.Snapshot()
		rec := intentRecord{TxnID: txnID, Kind: uint8(OpAllocateInode), GroupID: g.ID, Start: idx, Count: 1, Before: before}
		seq, err := m.writeIntent(rec)
		if err != nil {
			g.Unlock()
			return 0, err
		}
		if err := g.Inodes.Set(idx); err != nil {
			g.Unlock()
			return 0, err
		}
		after := g.Inodes.Snapshot()
		g.Unlock()

		if err := m.completeIntent(seq, rec, after); err != nil {
			return 0, err
		}
		inodesAllocated.Inc(1)
		return g.InodeStart + idx, nil
	}
	return 0, vexerr.ErrOutOfSpace
}

// FreeInode clears inodeID's bit, and removes it from the orphan index if
// it had been tracked there.
func (m *Manager) FreeInode(txnID, inodeID uint64) error {
	m.mu.Lock()
	var target *Group
	var local uint64
	for _, g := range m.groups {
		if inodeID >= g.InodeStart && inodeID < g.InodeStart+g.InodeCount {
			target = g
			local = inodeID - g.InodeStart
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return fmt.Errorf("%w: inode %d in no allocation group", vexerr.ErrInvalidArgument, inodeID)
	}

	target.Lock()
	defer target.Unlock()

	before := target.Inodes.Snapshot()
	rec := intentRecord{TxnID: txnID, Kind: uint8(OpFreeInode), GroupID: target.ID, Start: local, Count: 1, Before: before}
	seq, err := m.writeIntent(rec)
	if err != nil {
		return err
	}
	if err := target.Inodes.Clear(local); err != nil {
		return err
	}
	after := target.Inodes.Snapshot()
	if err := m.completeIntent(seq, rec, after); err != nil {
		return err
	}
	m.orphan.Remove(inodeID)
	inodesFreed.Inc(1)
	return nil
}

// Orphans exposes the manager's orphan index for the coordinator's
// periodic sweep.
func (m *Manager) Orphans() *OrphanIndex { return m.orphan }

// LatestSeq returns the next intent sequence the manager would assign,
// i.e. one past the highest durable intent record. Recovery checkpoints
// record this so a restart knows how far the allocation log had advanced.
func (m *Manager) LatestSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeq
}

// Close stops any running consistency checker and closes the intent log.
func (m *Manager) Close() error {
	m.StopConsistencyChecker()
	return m.db.Close()
}
