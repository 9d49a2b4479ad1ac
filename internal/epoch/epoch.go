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

// Package epoch provides a minimal epoch-based reclamation scheme for the
// lock-free queue in package lfqueue. Spec.md §9 Design Notes calls out
// that the original C source frees dequeued nodes immediately, which is
// unsafe under concurrent enqueue; this package exists so lfqueue never
// does that.
package epoch

import "sync/atomic"

// Registry tracks a global epoch counter and the most recent epoch each
// registered participant announced. A node retired at epoch E is safe to
// free once every participant has announced an epoch >= E (or announced
// "not in a critical section").
type Registry struct {
	global    atomic.Uint64
	announced []atomic.Uint64 // per-participant; 0 means "not active"
}

const inactive = 0

// NewRegistry creates a registry sized for up to maxParticipants
// concurrent readers/writers (callers obtain a slot via Join).
func NewRegistry(maxParticipants int) *Registry {
	r := &Registry{announced: make([]atomic.Uint64, maxParticipants)}
	r.global.Store(1)
	return r
}

// Guard is a participant's handle into the registry.
type Guard struct {
	r    *Registry
	slot int
}

// Join reserves a participant slot. Safe to call once per goroutine that
// will call Enter/Exit.
func (r *Registry) Join(slot int) *Guard { return &Guard{r: r, slot: slot} }

// Enter announces the current global epoch, marking this participant as
// active; callers must call Exit when leaving the critical section.
func (g *Guard) Enter() uint64 {
	e := g.r.global.Load()
	g.r.announced[g.slot].Store(e)
	return e
}

// Exit marks this participant inactive (not observing any epoch).
func (g *Guard) Exit() { g.r.announced[g.slot].Store(inactive) }

// Advance bumps the global epoch and returns the new value.
func (r *Registry) Advance() uint64 { return r.global.Add(1) }

// SafeToReclaim reports whether every active participant has announced an
// epoch at or after retiredAt, meaning no one can still hold a reference
// to a node retired at that epoch.
func (r *Registry) SafeToReclaim(retiredAt uint64) bool {
	for i := range r.announced {
		e := r.announced[i].Load()
		if e != inactive && e < retiredAt {
			return false
		}
	}
	return true
}
