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

// Package semanticlog implements C8: the semantic event log, a durable,
// replayable record of the filesystem-level (rather than block-level)
// operations an agent or user performed, each one optionally declaring
// the prior events it causally depends on.
package semanticlog

// Kind identifies the class of filesystem-level operation an Event
// represents.
type Kind string

const (
	KindCreateFile   Kind = "create_file"
	KindWriteVector  Kind = "write_vector"
	KindDeleteFile   Kind = "delete_file"
	KindCreateDir    Kind = "create_dir"
	KindRename       Kind = "rename"
	KindSetXattr     Kind = "set_xattr"
	KindIndexRebuild Kind = "index_rebuild"
)

// Event is one semantic operation, durably appended to the log.
type Event struct {
	Seq          uint64
	TxnID        uint64
	Kind         Kind
	TargetID     uint64
	Payload      []byte
	Predecessors []uint64 // Seq numbers of events this one causally depends on
	Timestamp    uint64
	AgentVisible bool
}
