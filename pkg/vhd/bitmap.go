package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// Bitmap holds one bit per sector of a block, most significant bit first.
// A set bit means the sector's contents live in this disk.
type Bitmap []byte

// BitmapSize is the sector aligned size of the bitmap of a block.
func BitmapSize(blockSize uint32) int64 {
	sectors := int64(blockSize) / SectorSize
	return alignSector((sectors + 7) / 8)
}

// NewBitmap returns a clear bitmap for blocks of blockSize bytes.
func NewBitmap(blockSize uint32) Bitmap {
	return make(Bitmap, BitmapSize(blockSize))
}

// Set marks sector i.
func (b Bitmap) Set(i int64) {
	b[i/8] |= 0x80 >> uint(i%8)
}

// IsSet reports whether sector i is marked.
func (b Bitmap) IsSet(i int64) bool {
	return b[i/8]&(0x80>>uint(i%8)) != 0
}

// SetRange marks sectors [first, last].
func (b Bitmap) SetRange(first, last int64) {
	for i := first; i <= last; i++ {
		b.Set(i)
	}
}

// Count returns the number of marked sectors among the first n.
func (b Bitmap) Count(n int64) int64 {
	var k int64
	for i := int64(0); i < n; i++ {
		if b.IsSet(i) {
			k++
		}
	}
	return k
}
