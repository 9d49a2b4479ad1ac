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

package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/vexfs/vexfscore/config"
	"github.com/vexfs/vexfscore/journal"
	"github.com/vexfs/vexfscore/vexerr"
)

// Manager owns every live transaction and is the sole writer of commit
// and abort markers to the journal.
type Manager struct {
	mu sync.Mutex

	cfg *config.Config
	j   *journal.Journal

	arena    []*Txn // slot -> txn, nil when free
	freeList []int
	nextID   uint64
	active   int // count of non-terminal transactions, for MaxConcurrentTransactions
}

// NewManager constructs a transaction manager writing through j.
func NewManager(cfg *config.Config, j *journal.Journal) *Manager {
	return &Manager{cfg: cfg, j: j, nextID: 1}
}

func (m *Manager) allocSlot(t *Txn) int {
	if n := len(m.freeList); n > 0 {
		slot := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		m.arena[slot] = t
		return slot
	}
	m.arena = append(m.arena, t)
	return len(m.arena) - 1
}

func (m *Manager) freeSlot(slot int) {
	m.arena[slot] = nil
	m.freeList = append(m.freeList, slot)
}

// Begin starts a new root transaction under the given isolation level.
func (m *Manager) Begin(isolation config.IsolationLevel) (*Txn, error) {
	return m.begin(nil, isolation)
}

// BeginNested starts a transaction under parent. Its operations are
// journaled at once under the root transaction's ID, and only the root
// transaction ever writes a commit marker, so recovery counts a nested
// transaction's writes as committed only once the outermost ancestor has
// committed.
func (m *Manager) BeginNested(parent *Txn) (*Txn, error) {
	if parent == nil {
		return nil, vexerr.ErrInvalidArgument
	}
	return m.begin(parent, parent.Isolation)
}

func (m *Manager) begin(parent *Txn, isolation config.IsolationLevel) (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active >= m.cfg.MaxConcurrentTransactions {
		return nil, fmt.Errorf("%w: %d transactions already active", vexerr.ErrBusy, m.active)
	}
	if parent != nil {
		if err := validateState(parent, StateRunning); err != nil {
			return nil, err
		}
		if parent.depth+1 >= m.cfg.MaxTransactionNestingDepth {
			return nil, fmt.Errorf("%w: nesting depth %d exceeds limit", vexerr.ErrInvalidArgument, parent.depth+1)
		}
		parent.children++
	}

	id := m.nextID
	m.nextID++
	t := &Txn{
		ID:        id,
		Isolation: isolation,
		State:     StateRunning,
		StartedAt: time.Now(),
	}
	if parent != nil {
		t.ParentID = parent.ID
		t.RootID = parent.RootID
		t.depth = parent.depth + 1
	} else {
		t.RootID = id
		if _, err := m.j.Start(id); err != nil {
			return nil, fmt.Errorf("journal start: %w", err)
		}
	}
	t.slot = m.allocSlot(t)
	m.active++
	return t, nil
}

// AddOperation journals a data-write or metadata-dirty operation under t.
// Nested transactions write through the same journal under their root's
// ID (t.RootID), so recovery classifies their records with the root's
// outcome.
func (m *Manager) AddOperation(t *Txn, kind OpKind, targetID uint64, payload []byte) error {
	m.mu.Lock()
	if err := validateState(t, StateRunning); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(t.Ops) >= m.cfg.MaxOpsPerTransaction {
		m.mu.Unlock()
		return fmt.Errorf("%w: txn %d exceeds max ops", vexerr.ErrInvalidArgument, t.ID)
	}
	m.mu.Unlock()

	var seq uint64
	var err error
	switch kind {
	case OpDataWrite:
		seq, err = m.j.GetWriteAccess(t.RootID, targetID, payload)
	case OpMetadataDirty:
		seq, err = m.j.DirtyMetadata(t.RootID, targetID, payload)
	default:
		return vexerr.ErrInvalidArgument
	}
	if err != nil {
		return fmt.Errorf("journal write for txn %d: %w", t.ID, err)
	}

	m.mu.Lock()
	t.Ops = append(t.Ops, Operation{Kind: kind, TargetID: targetID, Seq: seq})
	m.mu.Unlock()
	return nil
}

// Commit drives t through Preparing -> Prepared -> Committing ->
// Committed. A nested transaction's commit only folds its operations
// into the parent's visible set; only a root commit writes a journal
// commit marker. Both free the transaction's slot.
func (m *Manager) Commit(t *Txn, parent *Txn) error {
	m.mu.Lock()
	if err := validateState(t, StateRunning); err != nil {
		m.mu.Unlock()
		return err
	}
	t.State = StatePreparing
	t.State = StatePrepared
	t.State = StateCommitting
	m.mu.Unlock()

	if t.IsNested() {
		if parent == nil {
			return fmt.Errorf("%w: nested commit requires parent handle", vexerr.ErrInvalidArgument)
		}
		m.mu.Lock()
		parent.Ops = append(parent.Ops, t.Ops...)
		parent.children--
		t.State = StateCommitted
		m.freeSlot(t.slot)
		m.active--
		m.mu.Unlock()
		return nil
	}

	if err := m.j.Commit(t.ID); err != nil {
		m.mu.Lock()
		t.State = StateAborting
		m.mu.Unlock()
		return fmt.Errorf("journal commit for txn %d: %w", t.ID, err)
	}

	m.mu.Lock()
	t.State = StateCommitted
	m.freeSlot(t.slot)
	m.active--
	m.mu.Unlock()
	log.Debug("vexfs txn committed", "id", t.ID, "ops", len(t.Ops))
	return nil
}

// Abort drives t to Aborted, recording an abort marker in the journal
// for a root transaction so recovery never replays its operations. A
// nested transaction's abort simply discards its buffered ops; it never
// reached the journal's commit path so nothing needs undoing there.
func (m *Manager) Abort(t *Txn, parent *Txn) error {
	m.mu.Lock()
	if err := validateState(t, StateRunning, StatePreparing, StatePrepared); err != nil {
		m.mu.Unlock()
		return err
	}
	t.State = StateAborting
	m.mu.Unlock()

	if !t.IsNested() {
		if err := m.j.Abort(t.ID); err != nil {
			return fmt.Errorf("journal abort for txn %d: %w", t.ID, err)
		}
	} else if parent != nil {
		m.mu.Lock()
		parent.children--
		m.mu.Unlock()
	}

	m.mu.Lock()
	t.State = StateAborted
	m.freeSlot(t.slot)
	m.active--
	m.mu.Unlock()
	return nil
}

// Outcome classifies what happened to a root transaction ID as observed
// in the journal's record stream.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeAborted
	OutcomeInFlight // neither commit nor abort record was found: crashed mid-transaction
)

// RecoverPartialWrites groups journal records by root transaction ID and
// classifies each one, for the fast recovery engine to decide what to
// undo or leave alone.
func RecoverPartialWrites(records []journal.Record) map[uint64]Outcome {
	outcomes := make(map[uint64]Outcome)
	for _, r := range records {
		if _, ok := outcomes[r.Header.TxnID]; !ok {
			outcomes[r.Header.TxnID] = OutcomeInFlight
		}
		switch r.Header.Kind {
		case journal.KindCommit:
			outcomes[r.Header.TxnID] = OutcomeCommitted
		case journal.KindAbort:
			outcomes[r.Header.TxnID] = OutcomeAborted
		}
	}
	return outcomes
}
