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

// Package journal implements C4: the write-ahead journal. Every mutation
// to metadata or allocation state passes through here first, as a
// checksummed record, before the in-memory structures it describes are
// allowed to change. Commit durability is provided by group commit: a
// background worker batches pending records behind the lock-free queue in
// package lfqueue and issues one synced goleveldb write per batch, the
// same amortization the teacher's outbox store gets from LevelDB's own
// write-batching, just made explicit here.
package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/vexfs/vexfscore/lfqueue"
	"github.com/vexfs/vexfscore/vexerr"
)

type pendingAppend struct {
	record []byte
	seq    uint64
	done   chan error
}

// Journal is the durable append-only record log backing every
// transaction's write-ahead entries.
type Journal struct {
	db *leveldb.DB

	mu      sync.Mutex
	nextSeq uint64

	queue *lfqueue.Queue[*pendingAppend]

	batchSize     int
	commitTimeout time.Duration

	closeOnce sync.Once
	closeCh   chan struct{}
	flushCh   chan chan struct{}
	wg        sync.WaitGroup
}

// Open opens (or creates) the journal's backing LevelDB at path and
// starts its background group-commit worker.
func Open(path string, batchSize int, commitTimeout time.Duration) (*Journal, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}

	nextSeq, err := readNextSeq(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:            db,
		nextSeq:       nextSeq,
		queue:         lfqueue.New[*pendingAppend](),
		batchSize:     batchSize,
		commitTimeout: commitTimeout,
		closeCh:       make(chan struct{}),
		flushCh:       make(chan chan struct{}, 1),
	}
	log.Info("Opened vexfs journal", "path", path, "nextSeq", nextSeq, "batchSize", batchSize)

	j.wg.Add(1)
	go j.groupCommitLoop()
	return j, nil
}

// readNextSeq scans for the highest existing record sequence to resume
// numbering after a restart, since the journal does not keep a separate
// counter key (the record set itself is authoritative).
func readNextSeq(db *leveldb.DB) (uint64, error) {
	iter := db.NewIterator(nil, nil)
	defer iter.Release()
	var max uint64
	var found bool
	for iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			continue // tolerate a trailing torn record; Recover handles it properly
		}
		found = true
		if rec.Header.Seq >= max {
			max = rec.Header.Seq
		}
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("scan journal for next seq: %w", err)
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

func (j *Journal) append(kind Kind, txnID uint64, flags uint8, payload []byte) (uint64, error) {
	start := time.Now()
	j.mu.Lock()
	seq := j.nextSeq
	j.nextSeq++
	j.mu.Unlock()

	rec := encodeRecord(kind, txnID, seq, flags, payload)
	pa := &pendingAppend{record: rec, seq: seq, done: make(chan error, 1)}
	j.queue.Enqueue(pa)
	pendingGauge.Update(j.queue.Len())

	select {
	case err := <-pa.done:
		appendLatency.UpdateSince(start)
		return seq, err
	case <-j.closeCh:
		return 0, vexerr.ErrInvalidState
	}
}

// GetWriteAccess records an intent to overwrite a data block under txnID,
// capturing the old image in payload for undo on abort.
func (j *Journal) GetWriteAccess(txnID, blockID uint64, beforeImage []byte) (uint64, error) {
	payload := append(seqKey(blockID), beforeImage...)
	return j.append(KindDataWrite, txnID, 0, payload)
}

// DirtyMetadata records that a metadata target was modified under txnID.
func (j *Journal) DirtyMetadata(txnID, targetID uint64, payload []byte) (uint64, error) {
	buf := append(seqKey(targetID), payload...)
	return j.append(KindMetadataDirty, txnID, 0, buf)
}

// Start marks the beginning of a transaction in the journal's record
// stream; it exists so Recover can tell an open transaction with no
// commit/abort record apart from one that never wrote anything.
func (j *Journal) Start(txnID uint64) (uint64, error) {
	return j.append(KindMetadataDirty, txnID, flagBegin, nil)
}

const flagBegin uint8 = 1 << 0

// Commit durably records that txnID committed. Returns once the record
// is on stable storage.
func (j *Journal) Commit(txnID uint64) error {
	_, err := j.append(KindCommit, txnID, 0, nil)
	return err
}

// Abort durably records that txnID aborted.
func (j *Journal) Abort(txnID uint64) error {
	_, err := j.append(KindAbort, txnID, 0, nil)
	return err
}

// ForceCommit blocks until every record enqueued before this call has
// been flushed to stable storage, regardless of batch thresholds. Callers
// use this at checkpoint boundaries.
func (j *Journal) ForceCommit() error {
	done := make(chan struct{})
	select {
	case j.flushCh <- done:
	case <-j.closeCh:
		return vexerr.ErrInvalidState
	}
	select {
	case <-done:
		return nil
	case <-j.closeCh:
		return vexerr.ErrInvalidState
	}
}

func (j *Journal) groupCommitLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.commitTimeout)
	defer ticker.Stop()

	var batch []*pendingAppend
	flush := func() {
		if len(batch) == 0 {
			return
		}
		wb := new(leveldb.Batch)
		for _, pa := range batch {
			wb.Put(seqKey(pa.seq), pa.record)
		}
		err := j.db.Write(wb, &opt.WriteOptions{Sync: true})
		groupCommitTotal.Inc(1)
		groupCommitSize.Update(int64(len(batch)))
		for _, pa := range batch {
			pa.done <- err
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-j.closeCh:
			flush()
			return
		case done := <-j.flushCh:
			for {
				pa, ok := j.queue.Dequeue()
				if !ok {
					break
				}
				batch = append(batch, pa)
			}
			flush()
			close(done)
		case <-ticker.C:
			for {
				pa, ok := j.queue.Dequeue()
				if !ok {
					break
				}
				batch = append(batch, pa)
				if len(batch) >= j.batchSize {
					flush()
				}
			}
			flush()
		}
	}
}

// Recover scans every durable record in sequence order, verifying
// checksums, and stops at the first corrupt or truncated record (which
// can only be the most recent one, since every earlier record was synced
// before the next was admitted to a batch). It never returns a partial
// record as if it were valid.
func (j *Journal) Recover() ([]Record, error) {
	iter := j.db.NewIterator(nil, nil)
	defer iter.Release()

	var records []Record
	for iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			log.Warn("vexfs journal: stopping recovery at corrupt record", "err", err)
			truncatedTotal.Inc(1)
			break
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("recover journal: %w", err)
	}
	recoveredTotal.Inc(int64(len(records)))
	return records, nil
}

// LatestSeq returns the next sequence number the journal would assign.
func (j *Journal) LatestSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSeq
}

// Truncate discards every record with sequence < belowSeq, used once the
// coordinator has checkpointed state past that point.
func (j *Journal) Truncate(belowSeq uint64) (int, error) {
	iter := j.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	count := 0
	for iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			break
		}
		if rec.Header.Seq >= belowSeq {
			break
		}
		batch.Delete(seqKey(rec.Header.Seq))
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("truncate journal: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, fmt.Errorf("truncate journal: %w", err)
	}
	return count, nil
}

// Close stops the group-commit worker and closes the backing database.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.closeCh) })
	j.wg.Wait()
	return j.db.Close()
}
