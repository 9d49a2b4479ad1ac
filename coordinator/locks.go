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

// Package coordinator implements C9: the cross-layer coordinator that
// drives two-phase commit across the metadata, allocation, and semantic
// subjournals, detects deadlocks among transactions contending for the
// same target, and runs the filesystem's periodic consistency scan.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/vexfs/vexfscore/vexerr"
)

// LockManager tracks which transaction holds or waits for a lock on each
// target ID and builds a wait-for graph on demand to find deadlocks.
type LockManager struct {
	mu       sync.Mutex
	holders  map[uint64]uint64            // targetID -> holding txn ID
	waiters  map[uint64]map[uint64]bool   // targetID -> set of waiting txn IDs
	waitsFor map[uint64]uint64            // txnID -> targetID it is blocked on
	started  map[uint64]time.Time         // txnID -> when it began, for victim selection
}

// NewLockManager returns an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		holders:  make(map[uint64]uint64),
		waiters:  make(map[uint64]map[uint64]bool),
		waitsFor: make(map[uint64]uint64),
		started:  make(map[uint64]time.Time),
	}
}

// Register records a transaction's start time, used to pick the youngest
// transaction as the deadlock victim.
func (l *LockManager) Register(txnID uint64, startedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started[txnID] = startedAt
}

// Acquire grants txnID the lock on targetID if free, or records txnID as
// a waiter and returns ErrBusy if held by another transaction.
func (l *LockManager) Acquire(txnID, targetID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, held := l.holders[targetID]; held {
		if holder == txnID {
			return nil
		}
		if l.waiters[targetID] == nil {
			l.waiters[targetID] = make(map[uint64]bool)
		}
		l.waiters[targetID][txnID] = true
		l.waitsFor[txnID] = targetID
		return fmt.Errorf("%w: target %d held by txn %d", vexerr.ErrBusy, targetID, holder)
	}
	l.holders[targetID] = txnID
	delete(l.waitsFor, txnID)
	return nil
}

// Release drops txnID's lock on targetID and promotes one waiter, if any.
func (l *LockManager) Release(txnID, targetID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[targetID] != txnID {
		return
	}
	delete(l.holders, targetID)

	waiters := l.waiters[targetID]
	if len(waiters) == 0 {
		return
	}
	for waiter := range waiters {
		l.holders[targetID] = waiter
		delete(waiters, waiter)
		delete(l.waitsFor, waiter)
		break
	}
	if len(waiters) == 0 {
		delete(l.waiters, targetID)
	}
}

// ReleaseAll drops every lock txnID holds, used on commit and abort.
func (l *LockManager) ReleaseAll(txnID uint64) {
	l.mu.Lock()
	held := make([]uint64, 0)
	for target, holder := range l.holders {
		if holder == txnID {
			held = append(held, target)
		}
	}
	delete(l.started, txnID)
	delete(l.waitsFor, txnID)
	l.mu.Unlock()

	for _, target := range held {
		l.Release(txnID, target)
	}
}

// DetectDeadlock walks the wait-for graph for a cycle. If one exists, it
// returns the youngest transaction in the cycle (by start time) as the
// victim to abort.
func (l *LockManager) DetectDeadlock() (victim uint64, found bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	waitsFor := make(map[uint64]uint64, len(l.waitsFor))
	for k, v := range l.waitsFor {
		waitsFor[k] = v
	}
	holders := l.holders

	for start := range waitsFor {
		path := []uint64{start}
		visited := map[uint64]bool{start: true}
		cur := start
		for {
			target, waiting := waitsFor[cur]
			if !waiting {
				break
			}
			holder, held := holders[target]
			if !held {
				break
			}
			if holder == start {
				return youngestIn(path, l.started), true
			}
			if visited[holder] {
				break // cycle not involving start; another start will find it
			}
			visited[holder] = true
			path = append(path, holder)
			cur = holder
		}
	}
	return 0, false
}

func youngestIn(cycle []uint64, started map[uint64]time.Time) uint64 {
	victim := cycle[0]
	youngest := started[victim]
	for _, id := range cycle[1:] {
		if t := started[id]; t.After(youngest) {
			victim, youngest = id, t
		}
	}
	return victim
}
