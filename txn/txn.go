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

// Package txn implements C5: the atomic transaction manager. Transactions
// are held in a flat arena indexed by integer slot rather than linked by
// pointer, the same structural choice the teacher makes for its
// outbox/consumer bookkeeping, so a transaction never outlives its slot
// and there are no ownership cycles between parent and nested children.
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/vexfs/vexfscore/config"
	"github.com/vexfs/vexfscore/vexerr"
)

// State is a transaction's position in the commit/abort state machine.
type State uint8

const (
	StateRunning State = iota
	StatePreparing
	StatePrepared
	StateCommitting
	StateCommitted
	StateAborting
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateAborting:
		return "aborting"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// OpKind identifies what an Operation recorded.
type OpKind uint8

const (
	OpDataWrite OpKind = iota
	OpMetadataDirty
)

// Operation is one journaled mutation performed under a transaction.
type Operation struct {
	Kind     OpKind
	TargetID uint64
	Seq      uint64
}

// Txn is a single transaction. Fields are only safe to read while holding
// the owning Manager's lock, except ID and ParentID which never change.
type Txn struct {
	ID        uint64
	ParentID  uint64 // 0 for a root transaction
	RootID    uint64 // equal to ID for a root transaction
	Isolation config.IsolationLevel
	State     State
	StartedAt time.Time
	Ops       []Operation
	children  int // count of still-open nested children
	depth     int // nesting depth, 0 for a root transaction
	slot      int // arena index, for recycling on terminal state
}

// IsNested reports whether this transaction was begun under a parent.
func (t *Txn) IsNested() bool { return t.ParentID != 0 }

func validateState(t *Txn, allowed ...State) error {
	for _, s := range allowed {
		if t.State == s {
			return nil
		}
	}
	return fmt.Errorf("%w: txn %d in state %s", vexerr.ErrInvalidState, t.ID, t.State)
}

// context key used to thread the active transaction through call chains
// that don't take a *Txn parameter explicitly, mirroring how the teacher
// plumbs request-scoped values.
type ctxKey struct{}

// WithTxn returns a context carrying txn for downstream lookups via FromContext.
func WithTxn(ctx context.Context, t *Txn) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext retrieves the transaction stashed by WithTxn, if any.
func FromContext(ctx context.Context) (*Txn, bool) {
	t, ok := ctx.Value(ctxKey{}).(*Txn)
	return t, ok
}
