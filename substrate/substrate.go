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

// Package substrate wires C1 through C10 into a single mountable handle.
// Nothing here is a package-level singleton: every caller gets its own
// Substrate built from its own Config, the way the teacher's node wires a
// fresh stack of services per instance rather than relying on init-time
// globals.
package substrate

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/vexfs/vexfscore/alloclog"
	"github.com/vexfs/vexfscore/block"
	"github.com/vexfs/vexfscore/config"
	"github.com/vexfs/vexfscore/coordinator"
	"github.com/vexfs/vexfscore/journal"
	"github.com/vexfs/vexfscore/metadatalog"
	"github.com/vexfs/vexfscore/recovery"
	"github.com/vexfs/vexfscore/recovery/checkpoint"
	"github.com/vexfs/vexfscore/semanticlog"
	"github.com/vexfs/vexfscore/txn"
)

// Layout describes how a device's blocks and inodes are carved into
// allocation groups. It is persisted in the superblock so Open can
// reconstruct it without the caller repeating it at every mount.
type Layout struct {
	TotalBlocks    uint64
	GroupCount     uint32
	InodesPerGroup uint32
}

// Substrate is the mounted handle a filesystem driver holds: every
// subsystem the spec names, already wired together and recovered.
type Substrate struct {
	cfg *config.Config

	Device       *block.Device
	Journal      *journal.Journal
	Txns         *txn.Manager
	Metadata     *metadatalog.Store
	Alloc        *alloclog.Manager
	Semantic     *semanticlog.Store
	Coordinator  *coordinator.Coordinator
	Checkpoints  *checkpoint.Manager
	RecoveryLast *recovery.Report

	groups []*alloclog.Group
}

func dataPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.DataDir, name)
}

// Format initializes a brand new device with the given layout, writes its
// superblock, and mounts it. Used once, at filesystem creation time.
func Format(cfg *config.Config, layout Layout) (*Substrate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	dev, err := block.Open(dataPath(cfg, "device.img"), cfg.BlockSize, layout.TotalBlocks)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	sb := &block.Superblock{
		Magic:                block.SuperblockMagic,
		BlockSize:            uint32(cfg.BlockSize),
		TotalBlocks:          layout.TotalBlocks,
		AllocationGroupCount: layout.GroupCount,
		InodesPerGroup:       layout.InodesPerGroup,
	}
	if err := dev.WriteSuperblock(sb); err != nil {
		dev.Close()
		return nil, fmt.Errorf("write superblock: %w", err)
	}
	return mount(cfg, dev, layout, true)
}

// Open mounts an already-formatted device, reading its layout from the
// superblock, then runs the fast recovery engine before returning.
func Open(cfg *config.Config) (*Substrate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	dev, err := block.Open(dataPath(cfg, "device.img"), cfg.BlockSize, 0)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	sb, err := dev.ReadSuperblock()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	layout := Layout{TotalBlocks: sb.TotalBlocks, GroupCount: sb.AllocationGroupCount, InodesPerGroup: sb.InodesPerGroup}
	return mount(cfg, dev, layout, false)
}

func mount(cfg *config.Config, dev *block.Device, layout Layout, fresh bool) (*Substrate, error) {
	j, err := journal.Open(dataPath(cfg, "journal"), cfg.BatchSize, cfg.CommitTimeout)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	meta, err := metadatalog.Open(dataPath(cfg, "metadatalog"), cfg.MetadataCacheCapacity)
	if err != nil {
		j.Close()
		dev.Close()
		return nil, fmt.Errorf("open metadata log: %w", err)
	}
	alloc, err := alloclog.Open(dataPath(cfg, "alloclog"))
	if err != nil {
		meta.Close()
		j.Close()
		dev.Close()
		return nil, fmt.Errorf("open allocation log: %w", err)
	}
	sem, err := semanticlog.Open(dataPath(cfg, "semanticlog"))
	if err != nil {
		alloc.Close()
		meta.Close()
		j.Close()
		dev.Close()
		return nil, fmt.Errorf("open semantic log: %w", err)
	}
	ckpt, err := checkpoint.New(dataPath(cfg, "checkpoints"))
	if err != nil {
		sem.Close()
		alloc.Close()
		meta.Close()
		j.Close()
		dev.Close()
		return nil, fmt.Errorf("open checkpoint manager: %w", err)
	}

	groups, err := buildGroups(layout)
	if err != nil {
		sem.Close()
		alloc.Close()
		meta.Close()
		j.Close()
		dev.Close()
		return nil, err
	}
	for _, g := range groups {
		alloc.AddGroup(g)
	}

	s := &Substrate{
		cfg: cfg, Device: dev, Journal: j, Metadata: meta, Alloc: alloc, Semantic: sem,
		Checkpoints: ckpt, groups: groups,
	}
	s.Txns = txn.NewManager(cfg, j)
	s.Coordinator = coordinator.New(cfg, s.Txns, j, meta, alloc, sem)

	if !fresh {
		eng := recovery.New(cfg, dev, j, ckpt, alloc, sem)
		report, err := eng.Recover()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("recovery: %w", err)
		}
		s.RecoveryLast = report
	}

	alloc.StartConsistencyChecker(cfg.ConsistencyCheckInterval)
	s.Coordinator.StartDeadlockDetector(func(victim uint64) {
		log.Warn("vexfs substrate: deadlock victim selected, caller must abort", "txn", victim)
	})
	s.Coordinator.StartConsistencyScan()

	log.Info("vexfs substrate mounted", "dataDir", cfg.DataDir, "groups", len(groups), "fresh", fresh)
	return s, nil
}

// Groups returns the substrate's allocation groups, for callers building
// a snapshot or running an fsck pass.
func (s *Substrate) Groups() []*alloclog.Group { return s.groups }

func buildGroups(layout Layout) ([]*alloclog.Group, error) {
	if layout.GroupCount == 0 {
		return nil, nil
	}
	blocksPerGroup := layout.TotalBlocks / uint64(layout.GroupCount)
	if blocksPerGroup == 0 {
		return nil, fmt.Errorf("layout has more groups (%d) than blocks (%d)", layout.GroupCount, layout.TotalBlocks)
	}
	groups := make([]*alloclog.Group, 0, layout.GroupCount)
	for id := uint32(0); id < layout.GroupCount; id++ {
		blockStart := uint64(id) * blocksPerGroup
		blockCount := blocksPerGroup
		if id == layout.GroupCount-1 {
			blockCount = layout.TotalBlocks - blockStart // last group absorbs any remainder
		}
		inodeStart := uint64(id) * uint64(layout.InodesPerGroup)
		g, err := alloclog.NewGroup(id, blockStart, blockCount, inodeStart, uint64(layout.InodesPerGroup))
		if err != nil {
			return nil, fmt.Errorf("build group %d: %w", id, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Checkpoint forces a checkpoint: flushes the journal, snapshots every
// allocation group, and writes a fresh manifest recording how far every
// subjournal has advanced.
func (s *Substrate) Checkpoint() (*coordinator.Snapshot, error) {
	snap, err := s.Coordinator.CreateSnapshot(s.groups)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	manifest := checkpoint.Manifest{
		SnapshotID:  snap.ID,
		JournalSeq:  s.Journal.LatestSeq(),
		AllocLogSeq: s.Alloc.LatestSeq(),
		SemanticSeq: s.Semantic.LatestSeq(),
	}
	if err := s.Checkpoints.Write(manifest); err != nil {
		return nil, fmt.Errorf("write checkpoint manifest: %w", err)
	}
	return snap, nil
}

// Close stops every background worker and closes every subsystem in the
// reverse of mount order.
func (s *Substrate) Close() error {
	s.Coordinator.Stop()
	s.Alloc.StopConsistencyChecker()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(s.Semantic.Close())
	record(s.Alloc.Close())
	record(s.Metadata.Close())
	record(s.Journal.Close())
	record(s.Device.Close())
	return firstErr
}
