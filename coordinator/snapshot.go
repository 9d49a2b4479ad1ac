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

	"github.com/google/uuid"

	"github.com/vexfs/vexfscore/alloclog"
)

// Snapshot is a point-in-time capture of every allocation group's bitmap
// state, identified by an externally-facing UUID rather than an internal
// sequence number, since snapshots are referenced from outside the
// substrate (by fsck tooling, by an operator rolling back).
type Snapshot struct {
	ID          string
	GroupBitmap map[uint32][]byte // group ID -> block bitmap snapshot
	GroupInodes map[uint32][]byte // group ID -> inode bitmap snapshot
}

// CreateSnapshot forces every pending journal record to stable storage,
// then captures every allocation group's bitmap state. The journal flush
// happens first so the snapshot never reflects allocation state for a
// transaction whose commit record isn't durable yet.
func (c *Coordinator) CreateSnapshot(groups []*alloclog.Group) (*Snapshot, error) {
	if err := c.j.ForceCommit(); err != nil {
		return nil, fmt.Errorf("flush journal before snapshot: %w", err)
	}
	snap := &Snapshot{
		ID:          uuid.NewString(),
		GroupBitmap: make(map[uint32][]byte, len(groups)),
		GroupInodes: make(map[uint32][]byte, len(groups)),
	}
	for _, g := range groups {
		snap.GroupBitmap[g.ID] = g.Blocks.Snapshot()
		snap.GroupInodes[g.ID] = g.Inodes.Snapshot()
	}
	snapshotsCreated.Inc(1)
	return snap, nil
}

// RestoreSnapshot overwrites every allocation group's bitmap state from
// snap. Callers must ensure no transaction is concurrently allocating
// against these groups while a restore is in progress.
func (c *Coordinator) RestoreSnapshot(snap *Snapshot, groups []*alloclog.Group) error {
	for _, g := range groups {
		if data, ok := snap.GroupBitmap[g.ID]; ok {
			if err := g.Blocks.Restore(data); err != nil {
				return fmt.Errorf("restore group %d block bitmap: %w", g.ID, err)
			}
		}
		if data, ok := snap.GroupInodes[g.ID]; ok {
			if err := g.Inodes.Restore(data); err != nil {
				return fmt.Errorf("restore group %d inode bitmap: %w", g.ID, err)
			}
		}
	}
	snapshotsRestored.Inc(1)
	return nil
}
