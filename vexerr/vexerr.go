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

// Package vexerr defines the closed error taxonomy shared across every
// component of the storage substrate. Errors are sentinel values, wrapped
// with fmt.Errorf("...: %w", ...) at the call site that surfaces them.
package vexerr

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfSpace      = errors.New("out of space")
	ErrBusy            = errors.New("busy")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrCorruptRecord   = errors.New("corrupt record")
	ErrIO              = errors.New("i/o failure")
	ErrDeadlockVictim  = errors.New("deadlock victim")
	ErrInvalidState    = errors.New("invalid state")

	// ErrPartialFree is a diagnostic, not a hard failure: the spec tolerates
	// freeing a range that contains already-clear bits, but distinguishes
	// that case from a clean free so callers and metrics can tell them apart.
	ErrPartialFree = errors.New("partial free: some bits were already clear")
)

// Is reports whether err (or any error it wraps) matches target, exactly
// the stdlib errors.Is contract. Re-exported so callers need only import
// this package when checking substrate error kinds.
func Is(err, target error) bool { return errors.Is(err, target) }
