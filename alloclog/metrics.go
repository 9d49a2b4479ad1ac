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

import "github.com/ethereum/go-ethereum/metrics"

var (
	blocksAllocated        = metrics.NewRegisteredCounter("vexfs/alloclog/blocks/allocated", nil)
	blocksFreed            = metrics.NewRegisteredCounter("vexfs/alloclog/blocks/freed", nil)
	inodesAllocated        = metrics.NewRegisteredCounter("vexfs/alloclog/inodes/allocated", nil)
	inodesFreed            = metrics.NewRegisteredCounter("vexfs/alloclog/inodes/freed", nil)
	consistencyViolations  = metrics.NewRegisteredCounter("vexfs/alloclog/consistency/violations", nil)
)
