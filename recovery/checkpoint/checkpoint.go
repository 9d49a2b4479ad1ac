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

// Package checkpoint persists the manifest the fast recovery engine reads
// on startup to find the most recent consistent snapshot and the journal
// sequence number it needs to replay from. Manifest writes follow the
// write-to-temp, fsync, rename pattern, so a crash mid-write never leaves
// a half-written manifest where the real one used to be.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/rlp"
)

const manifestFileName = "manifest.rlp"

// Manifest records the state needed to resume after a checkpoint: which
// snapshot is current and which sequence each subjournal had reached.
type Manifest struct {
	SnapshotID    string
	JournalSeq    uint64
	AllocLogSeq   uint64
	SemanticSeq   uint64
	CreatedAtUnix uint64
}

// Manager reads and writes checkpoint manifests under a root directory,
// keeping one numbered subdirectory per checkpoint so an in-progress
// write never clobbers the last good one.
type Manager struct {
	root string
}

// New returns a checkpoint manager rooted at dir (typically
// filepath.Join(cfg.DataDir, "checkpoints")).
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint root %s: %w", dir, err)
	}
	return &Manager{root: dir}, nil
}

func (m *Manager) dirFor(seq uint64) string {
	return filepath.Join(m.root, fmt.Sprintf("%020d", seq))
}

// Write durably records manifest as the checkpoint at manifest.JournalSeq.
func (m *Manager) Write(manifest Manifest) error {
	dir := m.dirFor(manifest.JournalSeq)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := rlp.EncodeToBytes(&manifest)
	if err != nil {
		return fmt.Errorf("encode checkpoint manifest: %w", err)
	}
	path := filepath.Join(dir, manifestFileName)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename manifest into place: %w", err)
	}
	return nil
}

// Latest returns the manifest with the highest journal sequence number,
// or ok=false if no checkpoint has ever been written.
func (m *Manager) Latest() (manifest Manifest, ok bool, err error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("list checkpoint dir: %w", err)
	}
	var seqs []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if seq, convErr := strconv.ParseUint(e.Name(), 10, 64); convErr == nil {
			seqs = append(seqs, seq)
		}
	}
	if len(seqs) == 0 {
		return Manifest{}, false, nil
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })

	path := filepath.Join(m.dirFor(seqs[0]), manifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read latest manifest: %w", err)
	}
	var man Manifest
	if err := rlp.DecodeBytes(data, &man); err != nil {
		return Manifest{}, false, fmt.Errorf("decode latest manifest: %w", err)
	}
	return man, true, nil
}

// Prune removes every checkpoint directory except the one at keepSeq.
func (m *Manager) Prune(keepSeq uint64) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("list checkpoint dir: %w", err)
	}
	keep := fmt.Sprintf("%020d", keepSeq)
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			return fmt.Errorf("prune checkpoint %s: %w", e.Name(), err)
		}
	}
	return nil
}
