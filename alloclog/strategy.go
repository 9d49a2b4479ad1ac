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

import "github.com/vexfs/vexfscore/bitmap"

// Strategy selects the order in which allocation groups are tried for a
// block request. The search within a group is the same for every
// strategy: the first free run that starts on a multiple of the
// request's alignment.
type Strategy uint8

const (
	// FirstFit takes the first group with enough free space and the
	// first run within it, favoring allocation latency.
	FirstFit Strategy = iota
	// BestFit tries only the groups with at least the requested number
	// of free blocks, fewest free blocks first, favoring fragmentation
	// avoidance.
	BestFit
	// VectorOptimized tries groups in the same order as FirstFit; its
	// run starts on a vector-record boundary only through the alignment
	// argument, which every strategy honors.
	VectorOptimized
)

// groupOrder returns group indices to try, in the order the strategy
// prescribes.
func groupOrder(groups []*Group, strategy Strategy, count uint64) []int {
	order := make([]int, 0, len(groups))
	switch strategy {
	case BestFit:
		type cand struct {
			idx  int
			free uint64
		}
		cands := make([]cand, 0, len(groups))
		for i, g := range groups {
			if g.FreeBlocks() >= count {
				cands = append(cands, cand{i, g.FreeBlocks()})
			}
		}
		// Selection sort by ascending free space is fine here: the
		// number of allocation groups touched by one request is small.
		for len(cands) > 0 {
			best := 0
			for i := 1; i < len(cands); i++ {
				if cands[i].free < cands[best].free {
					best = i
				}
			}
			order = append(order, cands[best].idx)
			cands = append(cands[:best], cands[best+1:]...)
		}
	default: // FirstFit and VectorOptimized both scan in group order
		for i := range groups {
			order = append(order, i)
		}
	}
	return order
}

// findRun locates a free block run of length count in group g, honoring
// alignment (1 means unaligned). Callers validate count and alignment up
// front; a non-nil error here means the bitmap rejected the request
// outright and must not be mistaken for an ordinary out-of-space miss.
func findRun(g *Group, count, alignment uint64) (uint64, bool, error) {
	start, err := g.Blocks.FindNextZeroRun(0, count, alignment)
	if err != nil {
		return 0, false, err
	}
	if start == bitmap.End {
		return 0, false, nil
	}
	return start, true, nil
}
