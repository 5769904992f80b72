package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// BAT is the block allocation table. Each entry holds the sector of the
// block's bitmap, or Unallocated.
type BAT []uint32

// NewBAT returns a table of n unallocated entries.
func NewBAT(n int64) BAT {
	bat := make(BAT, n)
	for i := range bat {
		bat[i] = Unallocated
	}
	return bat
}

// Allocated reports whether block i has storage.
func (bat BAT) Allocated(i int64) bool {
	return bat[i] != Unallocated
}

// Offset is the absolute byte offset of block i's bitmap.
func (bat BAT) Offset(i int64) int64 {
	return int64(bat[i]) * SectorSize
}

// AllocatedBlocks returns the indices of every allocated block in table
// order.
func (bat BAT) AllocatedBlocks() []int64 {
	idx := lo.Map(bat, func(_ uint32, i int) int64 {
		return int64(i)
	})
	return lo.Filter(idx, func(i int64, _ int) bool {
		return bat[i] != Unallocated
	})
}

// Encode serializes the table, padding it with 0xFF to a sector boundary.
func (bat BAT) Encode() []byte {
	size := alignSector(4 * int64(len(bat)))
	data := bytes.Repeat([]byte{0xFF}, int(size))
	for i, x := range bat {
		binary.BigEndian.PutUint32(data[4*i:4*(i+1)], x)
	}
	return data
}

// ReadBAT loads a table of n entries from offset.
func ReadBAT(r io.ReadSeeker, offset int64, n int64) (BAT, error) {

	_, err := r.Seek(offset, io.SeekStart)
	if err != nil {
		return nil, errors.Wrap(err, "seeking to block allocation table")
	}

	data := make([]byte, 4*n)
	_, err = io.ReadFull(r, data)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, formatErrorf("block allocation table", "truncated (expected %d entries)", n)
		}
		return nil, errors.Wrap(err, "reading block allocation table")
	}

	bat := make(BAT, n)
	for i := range bat {
		bat[i] = binary.BigEndian.Uint32(data[4*i:])
	}

	return bat, nil
}
