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
	"sort"
	"sync"
)

// OrphanIndex tracks inodes that were unlinked while still referenced by
// an open handle (or left dangling by a crash mid-unlink). It is kept as
// an ordered slice rather than a balanced tree: the sweep operation only
// ever needs an in-order walk, and entries are added and removed far less
// often than blocks are allocated, so the O(n) insert this implies is not
// on any hot path.
type OrphanIndex struct {
	mu  sync.Mutex
	ids []uint64
}

// NewOrphanIndex returns an empty orphan index.
func NewOrphanIndex() *OrphanIndex {
	return &OrphanIndex{}
}

// Add records inodeID as orphaned, if not already present.
func (o *OrphanIndex) Add(inodeID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := sort.Search(len(o.ids), func(i int) bool { return o.ids[i] >= inodeID })
	if i < len(o.ids) && o.ids[i] == inodeID {
		return
	}
	o.ids = append(o.ids, 0)
	copy(o.ids[i+1:], o.ids[i:])
	o.ids[i] = inodeID
}

// Remove clears inodeID from the index, if present.
func (o *OrphanIndex) Remove(inodeID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := sort.Search(len(o.ids), func(i int) bool { return o.ids[i] >= inodeID })
	if i < len(o.ids) && o.ids[i] == inodeID {
		o.ids = append(o.ids[:i], o.ids[i+1:]...)
	}
}

// Sweep calls free for every orphaned inode, in ascending ID order, and
// removes each one for which free returns nil.
func (o *OrphanIndex) Sweep(free func(inodeID uint64) error) error {
	o.mu.Lock()
	pending := make([]uint64, len(o.ids))
	copy(pending, o.ids)
	o.mu.Unlock()

	for _, id := range pending {
		if err := free(id); err != nil {
			return err
		}
		o.Remove(id)
	}
	return nil
}

// Len reports the number of currently tracked orphans.
func (o *OrphanIndex) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ids)
}
