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

package journal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/vexfs/vexfscore/vexerr"
)

// RecordMagic identifies a valid journal record header.
const RecordMagic uint32 = 0x564a524c // "VJRL"

const recordVersion uint16 = 1

// Kind distinguishes the journal record types a transaction can emit.
type Kind uint8

const (
	KindDataWrite     Kind = 1
	KindMetadataDirty Kind = 2
	KindCommit        Kind = 3
	KindAbort         Kind = 4
	KindCheckpoint    Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindDataWrite:
		return "data_write"
	case KindMetadataDirty:
		return "metadata_dirty"
	case KindCommit:
		return "commit"
	case KindAbort:
		return "abort"
	case KindCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// headerSize is the fixed common prefix every record starts with,
// regardless of payload kind, per the on-disk record layout.
const headerSize = 64

// RecordHeader is the fixed-size prefix of every journal record.
type RecordHeader struct {
	Magic      uint32
	Version    uint16
	Kind       Kind
	Flags      uint8
	TxnID      uint64
	Seq        uint64
	PayloadLen uint32
	HeaderCRC  uint32
	PayloadCRC uint32
}

// Record is a decoded journal entry: header plus payload bytes.
type Record struct {
	Header  RecordHeader
	Payload []byte
}

func encodeHeader(h RecordHeader) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = byte(h.Kind)
	buf[7] = h.Flags
	binary.LittleEndian.PutUint64(buf[8:16], h.TxnID)
	binary.LittleEndian.PutUint64(buf[16:24], h.Seq)
	binary.LittleEndian.PutUint32(buf[24:28], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[32:36], h.PayloadCRC)
	// HeaderCRC covers everything except its own field [28:32), computed
	// last and spliced in.
	h.HeaderCRC = crc32.ChecksumIEEE(buf)
	binary.LittleEndian.PutUint32(buf[28:32], h.HeaderCRC)
	return buf
}

func decodeHeader(buf []byte) (RecordHeader, error) {
	if len(buf) < headerSize {
		return RecordHeader{}, vexerr.ErrCorruptRecord
	}
	var h RecordHeader
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Kind = Kind(buf[6])
	h.Flags = buf[7]
	h.TxnID = binary.LittleEndian.Uint64(buf[8:16])
	h.Seq = binary.LittleEndian.Uint64(buf[16:24])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[24:28])
	h.HeaderCRC = binary.LittleEndian.Uint32(buf[28:32])
	h.PayloadCRC = binary.LittleEndian.Uint32(buf[32:36])

	if h.Magic != RecordMagic {
		return RecordHeader{}, vexerr.ErrCorruptRecord
	}
	check := make([]byte, headerSize)
	copy(check, buf)
	binary.LittleEndian.PutUint32(check[28:32], 0)
	if crc32.ChecksumIEEE(check) != h.HeaderCRC {
		return RecordHeader{}, vexerr.ErrChecksum
	}
	return h, nil
}

// encodeRecord serializes a full record (header + payload) as one
// contiguous byte slice, suitable as a goleveldb value.
func encodeRecord(kind Kind, txnID, seq uint64, flags uint8, payload []byte) []byte {
	h := RecordHeader{
		Magic:      RecordMagic,
		Version:    recordVersion,
		Kind:       kind,
		Flags:      flags,
		TxnID:      txnID,
		Seq:        seq,
		PayloadLen: uint32(len(payload)),
		PayloadCRC: crc32.ChecksumIEEE(payload),
	}
	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, encodeHeader(h)...)
	out = append(out, payload...)
	return out
}

func decodeRecord(buf []byte) (Record, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return Record{}, err
	}
	if len(buf) < headerSize+int(h.PayloadLen) {
		return Record{}, vexerr.ErrCorruptRecord
	}
	payload := buf[headerSize : headerSize+int(h.PayloadLen)]
	if crc32.ChecksumIEEE(payload) != h.PayloadCRC {
		return Record{}, vexerr.ErrChecksum
	}
	return Record{Header: h, Payload: payload}, nil
}

// seqKey encodes a sequence number as a big-endian 8-byte key so that
// goleveldb's natural key ordering matches sequence order, mirroring the
// teacher's ubtOutboxEventKey scheme.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
