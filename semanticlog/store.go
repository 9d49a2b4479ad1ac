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

package semanticlog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/vexfs/vexfscore/vexerr"
)

type rlpEvent struct {
	Seq          uint64
	TxnID        uint64
	Kind         string
	TargetID     uint64
	Payload      []byte
	Predecessors []uint64
	Timestamp    uint64
	AgentVisible bool
}

// Store is the durable append-only semantic event log.
type Store struct {
	db *leveldb.DB

	mu      sync.Mutex
	nextSeq uint64
}

// Open opens (or creates) the semantic event log at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open semantic event log at %s: %w", path, err)
	}
	nextSeq, err := scanNextSeq(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, nextSeq: nextSeq}, nil
}

func scanNextSeq(db *leveldb.DB) (uint64, error) {
	iter := db.NewIterator(nil, nil)
	defer iter.Release()
	var max uint64
	var found bool
	for iter.Next() {
		found = true
		seq := binary.BigEndian.Uint64(iter.Key())
		if seq >= max {
			max = seq
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append durably records ev, assigning it the next sequence number.
func (s *Store) Append(ev Event) (uint64, error) {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.mu.Unlock()
	ev.Seq = seq

	rec := rlpEvent{
		Seq: ev.Seq, TxnID: ev.TxnID, Kind: string(ev.Kind), TargetID: ev.TargetID,
		Payload: ev.Payload, Predecessors: ev.Predecessors, Timestamp: ev.Timestamp,
		AgentVisible: ev.AgentVisible,
	}
	data, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return 0, fmt.Errorf("encode semantic event: %w", err)
	}
	if err := s.db.Put(seqKey(seq), data, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, fmt.Errorf("append semantic event: %w", err)
	}
	eventsAppended.Inc(1)
	return seq, nil
}

// ReadAll returns every event in sequence order.
func (s *Store) ReadAll() ([]Event, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var events []Event
	for iter.Next() {
		var rec rlpEvent
		if err := rlp.DecodeBytes(iter.Value(), &rec); err != nil {
			log.Warn("vexfs semanticlog: skipping undecodable event", "err", err)
			continue
		}
		events = append(events, Event{
			Seq: rec.Seq, TxnID: rec.TxnID, Kind: Kind(rec.Kind), TargetID: rec.TargetID,
			Payload: rec.Payload, Predecessors: rec.Predecessors, Timestamp: rec.Timestamp,
			AgentVisible: rec.AgentVisible,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("read semantic event log: %w", err)
	}
	return events, nil
}

// Get returns the event at seq.
func (s *Store) Get(seq uint64) (Event, error) {
	data, err := s.db.Get(seqKey(seq), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return Event{}, vexerr.ErrNotFound
		}
		return Event{}, fmt.Errorf("read semantic event %d: %w", seq, err)
	}
	var rec rlpEvent
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return Event{}, fmt.Errorf("decode semantic event %d: %w", seq, err)
	}
	return Event{
		Seq: rec.Seq, TxnID: rec.TxnID, Kind: Kind(rec.Kind), TargetID: rec.TargetID,
		Payload: rec.Payload, Predecessors: rec.Predecessors, Timestamp: rec.Timestamp,
		AgentVisible: rec.AgentVisible,
	}, nil
}

// LatestSeq returns the next event sequence the store would assign.
func (s *Store) LatestSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Close closes the backing store.
func (s *Store) Close() error {
	return s.db.Close()
}
