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

// Package alloclog implements C7: the allocation subjournal. Free space
// is partitioned into fixed-size allocation groups, each with its own
// checksummed bitmap (package bitmap), so that concurrent allocators
// contend only within a group rather than on a single filesystem-wide
// lock.
package alloclog

import (
	"sync"

	"github.com/vexfs/vexfscore/bitmap"
)

// Group is one allocation group: a contiguous block range backed by its
// own bitmap and a per-inode allocation bitmap.
type Group struct {
	ID         uint32
	BlockStart uint64
	BlockCount uint64
	Blocks     *bitmap.Bitmap
	InodeStart uint64
	InodeCount uint64
	Inodes     *bitmap.Bitmap

	// allocMu is the group's alloc_mutex: at most one allocator runs the
	// find-run/log-intent/set-bits sequence against this group at a time.
	allocMu sync.Mutex
}

// Lock acquires the group's alloc_mutex, serializing every allocator
// that touches this group's bitmaps.
func (g *Group) Lock() { g.allocMu.Lock() }

// Unlock releases the group's alloc_mutex.
func (g *Group) Unlock() { g.allocMu.Unlock() }

// NewGroup allocates a fresh, fully-free allocation group.
func NewGroup(id uint32, blockStart, blockCount, inodeStart, inodeCount uint64) (*Group, error) {
	blocks, err := bitmap.New(blockCount)
	if err != nil {
		return nil, err
	}
	inodes, err := bitmap.New(inodeCount)
	if err != nil {
		return nil, err
	}
	return &Group{
		ID:         id,
		BlockStart: blockStart,
		BlockCount: blockCount,
		Blocks:     blocks,
		InodeStart: inodeStart,
		InodeCount: inodeCount,
		Inodes:     inodes,
	}, nil
}

// FreeBlocks returns the group's current count of unallocated blocks.
func (g *Group) FreeBlocks() uint64 {
	return g.BlockCount - uint64(g.Blocks.Popcount())
}

// FreeInodes returns the group's current count of unallocated inodes.
func (g *Group) FreeInodes() uint64 {
	return g.InodeCount - uint64(g.Inodes.Popcount())
}
