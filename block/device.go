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

// Package block implements C1: read/write of fixed-size aligned blocks
// over a single backing file, with a barrier/flush primitive and an
// advisory process-exclusive lock on the device path.
package block

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/vexfs/vexfscore/vexerr"
)

const (
	// SuperblockMagic identifies a VexFS device in block 0.
	SuperblockMagic uint32 = 0x76657866 // "vexf"
	superblockVersion = 1
)

// Superblock is block 0's payload, little-endian throughout per spec.md §6.
type Superblock struct {
	Magic                uint32
	Version              uint16
	BlockSize            uint32
	TotalBlocks          uint64
	JournalStartBlock    uint64
	JournalTotalBlocks   uint64
	AllocationGroupCount uint32
	InodesPerGroup       uint32
	FeatureFlags         uint32
	Checksum             uint32
}

// superblockEncodedLen is fixed regardless of BlockSize; the remainder of
// block 0 is zero-padded.
const superblockEncodedLen = 4 + 2 + 4 + 8 + 8 + 8 + 4 + 4 + 4 + 4

// Device is the block-device abstraction. Reads/writes are whole-block,
// aligned at BlockSize boundaries; Barrier forces durability of everything
// written so far.
type Device struct {
	mu        sync.RWMutex
	file      *os.File
	lock      *flock.Flock
	blockSize int
	total     uint64
	path      string
}

// Open opens or creates the backing file at path, acquiring an exclusive
// advisory lock so a second process cannot mount the same device. If the
// file is smaller than totalBlocks*blockSize it is grown (sparse) to fit.
func Open(path string, blockSize int, totalBlocks uint64) (*Device, error) {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("%w: block size must be a power of two, got %d", vexerr.ErrInvalidArgument, blockSize)
	}
	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire device lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: device %s already mounted", vexerr.ErrBusy, path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = lk.Unlock()
		return nil, fmt.Errorf("%w: open %s: %v", vexerr.ErrIO, path, err)
	}
	d := &Device{file: f, lock: lk, blockSize: blockSize, path: path}
	if info, statErr := f.Stat(); statErr == nil && info.Size() > 0 {
		// Start from what's already on disk: a reopen without a size must
		// not leave total at zero (every block would look out of bounds),
		// and Grow below must not shrink an existing, larger device.
		d.total = uint64(info.Size()) / uint64(blockSize)
	}
	if totalBlocks > 0 {
		if err := d.Grow(totalBlocks); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	log.Info("Opened VexFS block device", "path", path, "blockSize", blockSize, "totalBlocks", d.total)
	return d, nil
}

// BlockSize returns the device's fixed block size.
func (d *Device) BlockSize() int { return d.blockSize }

// TotalBlocks returns the device's current block count.
func (d *Device) TotalBlocks() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.total
}

// Grow extends the backing file to hold at least newTotalBlocks blocks.
// It is a no-op if the device is already at least that large.
func (d *Device) Grow(newTotalBlocks uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if newTotalBlocks <= d.total {
		return nil
	}
	size := int64(newTotalBlocks) * int64(d.blockSize)
	if err := d.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate to %d bytes: %v", vexerr.ErrIO, size, err)
	}
	d.total = newTotalBlocks
	return nil
}

// ReadBlock reads the block at logical block number lbn.
func (d *Device) ReadBlock(lbn uint64) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if lbn >= d.total {
		return nil, fmt.Errorf("%w: block %d out of bounds (total %d)", vexerr.ErrInvalidArgument, lbn, d.total)
	}
	buf := make([]byte, d.blockSize)
	if _, err := d.file.ReadAt(buf, int64(lbn)*int64(d.blockSize)); err != nil {
		return nil, fmt.Errorf("%w: read block %d: %v", vexerr.ErrIO, lbn, err)
	}
	return buf, nil
}

// WriteBlock writes data (must be exactly BlockSize bytes) at lbn. The
// write is not guaranteed durable until the next Barrier.
func (d *Device) WriteBlock(lbn uint64, data []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if lbn >= d.total {
		return fmt.Errorf("%w: block %d out of bounds (total %d)", vexerr.ErrInvalidArgument, lbn, d.total)
	}
	if len(data) != d.blockSize {
		return fmt.Errorf("%w: write payload %d bytes, want %d", vexerr.ErrInvalidArgument, len(data), d.blockSize)
	}
	if _, err := d.file.WriteAt(data, int64(lbn)*int64(d.blockSize)); err != nil {
		return fmt.Errorf("%w: write block %d: %v", vexerr.ErrIO, lbn, err)
	}
	return nil
}

// Barrier forces all previously issued writes to be durable before it
// returns, the fsync-equivalent group-commit relies on.
func (d *Device) Barrier() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := fdatasync(d.file); err != nil {
		return fmt.Errorf("%w: barrier: %v", vexerr.ErrIO, err)
	}
	return nil
}

// Close releases the backing file and the advisory lock.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.file.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// ReadSuperblock decodes block 0.
func (d *Device) ReadSuperblock() (*Superblock, error) {
	raw, err := d.ReadBlock(0)
	if err != nil {
		return nil, err
	}
	return decodeSuperblock(raw)
}

// WriteSuperblock encodes and writes sb to block 0, then barriers.
func (d *Device) WriteSuperblock(sb *Superblock) error {
	buf := make([]byte, d.blockSize)
	encodeSuperblock(sb, buf)
	if err := d.WriteBlock(0, buf); err != nil {
		return err
	}
	return d.Barrier()
}

func encodeSuperblock(sb *Superblock, buf []byte) {
	sb.Checksum = 0
	off := 0
	put32 := func(v uint32) { binary.LittleEndian.PutUint32(buf[off:], v); off += 4 }
	put16 := func(v uint16) { binary.LittleEndian.PutUint16(buf[off:], v); off += 2 }
	put64 := func(v uint64) { binary.LittleEndian.PutUint64(buf[off:], v); off += 8 }
	put32(sb.Magic)
	put16(sb.Version)
	put32(sb.BlockSize)
	put64(sb.TotalBlocks)
	put64(sb.JournalStartBlock)
	put64(sb.JournalTotalBlocks)
	put32(sb.AllocationGroupCount)
	put32(sb.InodesPerGroup)
	put32(sb.FeatureFlags)
	sb.Checksum = crc32Of(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], sb.Checksum)
}

func decodeSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < superblockEncodedLen {
		return nil, fmt.Errorf("%w: superblock truncated", vexerr.ErrCorruptRecord)
	}
	off := 0
	get32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off:]); off += 4; return v }
	get16 := func() uint16 { v := binary.LittleEndian.Uint16(buf[off:]); off += 2; return v }
	get64 := func() uint64 { v := binary.LittleEndian.Uint64(buf[off:]); off += 8; return v }
	sb := &Superblock{}
	sb.Magic = get32()
	sb.Version = get16()
	sb.BlockSize = get32()
	sb.TotalBlocks = get64()
	sb.JournalStartBlock = get64()
	sb.JournalTotalBlocks = get64()
	sb.AllocationGroupCount = get32()
	sb.InodesPerGroup = get32()
	sb.FeatureFlags = get32()
	wantChecksum := get32()
	if sb.Magic != SuperblockMagic {
		return nil, fmt.Errorf("%w: bad superblock magic %x", vexerr.ErrCorruptRecord, sb.Magic)
	}
	gotChecksum := crc32Of(buf[:off-4])
	if gotChecksum != wantChecksum {
		return nil, fmt.Errorf("%w: superblock checksum mismatch", vexerr.ErrChecksum)
	}
	sb.Checksum = wantChecksum
	return sb, nil
}
