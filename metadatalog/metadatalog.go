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

// Package metadatalog implements C6: the metadata subjournal, the durable
// home for inode, directory-entry, vector-descriptor and bitmap-update
// records once their owning transaction has committed. A checksum-verified LRU cache
// (package lrucache) sits in front of the backing store so that a hot
// inode doesn't round-trip through LevelDB on every lookup.
package metadatalog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/vexfs/vexfscore/metadatalog/lrucache"
	"github.com/vexfs/vexfscore/vexerr"
)

// Kind distinguishes the metadata record types the subjournal stores,
// following the filesystem's metadata record tagged union. There is no
// extended-attribute variant: this is a vector-native filesystem, not a
// POSIX one, and the record types that matter are inode state, directory
// entries, vector descriptors, and the bitmap-update records emitted
// alongside allocation changes.
type Kind uint8

const (
	KindInode Kind = iota
	KindDirEntry
	KindVectorDescriptor
	KindBitmapUpdate
)

// rlpRecord is the on-disk, checksummed representation of one metadata
// entry. Using RLP for the payload mirrors the variable-length envelope
// encoding used for the subjournal's sibling logs, while the checksum is
// computed and verified independently of RLP's own framing.
type rlpRecord struct {
	TargetID uint64
	Kind     uint8
	Payload  []byte
	Checksum uint32
}

// Store is the durable, cached metadata subjournal.
type Store struct {
	db    *leveldb.DB
	cache *lrucache.Cache
}

// Open opens (or creates) the metadata subjournal's backing store at path
// with an LRU cache of the given capacity in front of it.
func Open(path string, cacheCapacity int) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open metadata subjournal at %s: %w", path, err)
	}
	cache, err := lrucache.New(cacheCapacity)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

func storageKey(targetID uint64, kind Kind) []byte {
	k := make([]byte, 9)
	binary.BigEndian.PutUint64(k[:8], targetID)
	k[8] = byte(kind)
	return k
}

// Put durably writes payload for (targetID, kind) and refreshes the
// cache. Callers are expected to have already journaled this write via
// the transaction manager before calling Put at commit/replay time.
func (s *Store) Put(targetID uint64, kind Kind, payload []byte) error {
	start := time.Now()
	defer func() { putLatency.UpdateSince(start) }()
	rec := rlpRecord{
		TargetID: targetID,
		Kind:     uint8(kind),
		Payload:  payload,
		Checksum: crc32.ChecksumIEEE(payload),
	}
	data, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("encode metadata record: %w", err)
	}
	if err := s.db.Put(storageKey(targetID, kind), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write metadata record: %w", err)
	}
	s.cache.Put(lrucache.Key{TargetID: targetID, Kind: uint8(kind)}, payload)
	return nil
}

// Get returns the payload for (targetID, kind), verifying its checksum.
// A cache hit is itself checksum-verified by package lrucache, so a
// corrupted cache entry always falls through to a fresh disk read here.
func (s *Store) Get(targetID uint64, kind Kind) ([]byte, error) {
	start := time.Now()
	defer func() { getLatency.UpdateSince(start) }()

	key := lrucache.Key{TargetID: targetID, Kind: uint8(kind)}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	data, err := s.db.Get(storageKey(targetID, kind), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, vexerr.ErrNotFound
		}
		return nil, fmt.Errorf("read metadata record: %w", err)
	}
	var rec rlpRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("decode metadata record: %w", err)
	}
	if crc32.ChecksumIEEE(rec.Payload) != rec.Checksum {
		checksumFails.Inc(1)
		return nil, vexerr.ErrChecksum
	}
	s.cache.Put(key, rec.Payload)
	return rec.Payload, nil
}

// Delete removes (targetID, kind) from both the store and the cache.
func (s *Store) Delete(targetID uint64, kind Kind) error {
	if err := s.db.Delete(storageKey(targetID, kind), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("delete metadata record: %w", err)
	}
	s.cache.Invalidate(lrucache.Key{TargetID: targetID, Kind: uint8(kind)})
	return nil
}

// Scan iterates every record of the given kind in targetID order, calling
// fn for each. Used by the consistency checker and by fsck-style tooling.
func (s *Store) Scan(kind Kind, fn func(targetID uint64, payload []byte) error) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) != 9 || key[8] != byte(kind) {
			continue
		}
		var rec rlpRecord
		if err := rlp.DecodeBytes(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode metadata record during scan: %w", err)
		}
		if crc32.ChecksumIEEE(rec.Payload) != rec.Checksum {
			checksumFails.Inc(1)
			return fmt.Errorf("metadata record for target %d: %w", rec.TargetID, vexerr.ErrChecksum)
		}
		if err := fn(rec.TargetID, rec.Payload); err != nil {
			return err
		}
	}
	return iter.Error()
}

// CacheStats reports cumulative LRU cache hit/miss/eviction counters.
func (s *Store) CacheStats() (hits, misses, evictions uint64) {
	return s.cache.Stats()
}

// Close closes the backing store.
func (s *Store) Close() error {
	return s.db.Close()
}
