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

package block

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	d, err := Open(path, 4096, 16)
	require.NoError(t, err)
	defer d.Close()

	payload := make([]byte, 4096)
	copy(payload, []byte("hello vexfs"))
	require.NoError(t, d.WriteBlock(3, payload))
	require.NoError(t, d.Barrier())

	got, err := d.ReadBlock(3)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDeviceOutOfBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	d, err := Open(path, 4096, 4)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.ReadBlock(10)
	require.Error(t, err)
}

func TestDeviceRejectsSecondMount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	d, err := Open(path, 4096, 4)
	require.NoError(t, err)
	defer d.Close()

	_, err = Open(path, 4096, 4)
	require.Error(t, err)
}

func TestSuperblockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	d, err := Open(path, 4096, 64)
	require.NoError(t, err)
	defer d.Close()

	sb := &Superblock{
		Magic:                SuperblockMagic,
		Version:              superblockVersion,
		BlockSize:            4096,
		TotalBlocks:          64,
		JournalStartBlock:    1,
		JournalTotalBlocks:   16,
		AllocationGroupCount: 2,
		InodesPerGroup:       128,
	}
	require.NoError(t, d.WriteSuperblock(sb))

	got, err := d.ReadSuperblock()
	require.NoError(t, err)
	require.Equal(t, sb.TotalBlocks, got.TotalBlocks)
	require.Equal(t, sb.JournalStartBlock, got.JournalStartBlock)
}

func TestSuperblockChecksumDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	d, err := Open(path, 4096, 4)
	require.NoError(t, err)
	defer d.Close()

	sb := &Superblock{Magic: SuperblockMagic, Version: superblockVersion, BlockSize: 4096, TotalBlocks: 4}
	require.NoError(t, d.WriteSuperblock(sb))

	raw, err := d.ReadBlock(0)
	require.NoError(t, err)
	raw[10] ^= 0xff
	require.NoError(t, d.WriteBlock(0, raw))

	_, err = d.ReadSuperblock()
	require.Error(t, err)
}
