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

package semanticlog

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vexfs/vexfscore/vexerr"
)

// ReplayFlags controls how ReplayEngine.Replay processes a batch of
// events. They compose: a caller validating a dry run of an
// agent-visible subset in causal order sets DryRun|AgentVisible|
// CausalityOrder|Validate together.
type ReplayFlags uint16

const (
	FlagDryRun ReplayFlags = 1 << iota
	FlagVerbose
	FlagStopOnError
	FlagAgentVisible
	FlagParallel
	FlagCausalityOrder
	FlagValidate
)

func (f ReplayFlags) has(bit ReplayFlags) bool { return f&bit != 0 }

// Handler processes one event during replay. A DryRun replay still calls
// Handler, and Handler is expected to honor ctx-equivalent dry-run intent
// itself by inspecting replayed via the ReplayContext it receives.
type Handler func(ctx ReplayContext, ev Event) error

// ReplayContext carries per-call replay state down to Handler.
type ReplayContext struct {
	DryRun bool
}

// ReplayEngine drives deterministic replay of a Store's events.
type ReplayEngine struct {
	store *Store
}

// NewReplayEngine constructs a replay engine reading from store.
func NewReplayEngine(store *Store) *ReplayEngine {
	return &ReplayEngine{store: store}
}

// Replay reads every event (filtered to AgentVisible ones if that flag is
// set), orders them, and dispatches each to handler.
func (r *ReplayEngine) Replay(flags ReplayFlags, handler Handler) error {
	events, err := r.store.ReadAll()
	if err != nil {
		return err
	}
	if flags.has(FlagAgentVisible) {
		filtered := events[:0]
		for _, ev := range events {
			if ev.AgentVisible {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	if flags.has(FlagCausalityOrder) {
		events, err = topoSort(events)
		if err != nil {
			return err
		}
	}
	if flags.has(FlagValidate) {
		if err := validatePredecessors(events); err != nil {
			return err
		}
	}

	ctx := ReplayContext{DryRun: flags.has(FlagDryRun)}
	if flags.has(FlagParallel) {
		return r.replayParallel(ctx, events, handler, flags)
	}
	return r.replaySequential(ctx, events, handler, flags)
}

func (r *ReplayEngine) replaySequential(ctx ReplayContext, events []Event, handler Handler, flags ReplayFlags) error {
	var firstErr error
	for _, ev := range events {
		if err := handler(ctx, ev); err != nil {
			wrapped := fmt.Errorf("replay event seq=%d kind=%s: %w", ev.Seq, ev.Kind, err)
			if flags.has(FlagStopOnError) {
				return wrapped
			}
			if firstErr == nil {
				firstErr = wrapped
			}
		}
	}
	return firstErr
}

// replayParallel shards events by TargetID so that operations on the
// same target are always handled by the same shard and therefore stay in
// their relative (already causality-sorted, if requested) order, while
// independent targets are dispatched concurrently.
func (r *ReplayEngine) replayParallel(ctx ReplayContext, events []Event, handler Handler, flags ReplayFlags) error {
	shards := make(map[uint64][]Event)
	for _, ev := range events {
		shards[ev.TargetID] = append(shards[ev.TargetID], ev)
	}

	g := new(errgroup.Group)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			return r.replaySequential(ctx, shard, handler, flags)
		})
	}
	return g.Wait()
}

// topoSort orders events so that every predecessor appears before its
// dependents, failing on a cycle (which should never occur for honestly
// produced events, but recovery must not trust that).
func topoSort(events []Event) ([]Event, error) {
	bySeq := make(map[uint64]Event, len(events))
	for _, ev := range events {
		bySeq[ev.Seq] = ev
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[uint64]int, len(events))
	var order []Event

	var visit func(seq uint64) error
	visit = func(seq uint64) error {
		switch state[seq] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: causality cycle through event seq=%d", vexerr.ErrCorruptRecord, seq)
		}
		ev, ok := bySeq[seq]
		if !ok {
			return nil // predecessor not in this replay set (e.g. filtered out); skip
		}
		state[seq] = visiting
		preds := append([]uint64(nil), ev.Predecessors...)
		sort.Slice(preds, func(i, j int) bool { return preds[i] < preds[j] })
		for _, p := range preds {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[seq] = done
		order = append(order, ev)
		return nil
	}

	seqs := make([]uint64, 0, len(events))
	for _, ev := range events {
		seqs = append(seqs, ev.Seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		if err := visit(seq); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func validatePredecessors(events []Event) error {
	seen := make(map[uint64]bool, len(events))
	for _, ev := range events {
		seen[ev.Seq] = true
	}
	for _, ev := range events {
		for _, p := range ev.Predecessors {
			if !seen[p] {
				return fmt.Errorf("%w: event seq=%d declares missing predecessor seq=%d", vexerr.ErrCorruptRecord, ev.Seq, p)
			}
		}
	}
	return nil
}
