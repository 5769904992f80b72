package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
)

const (
	// BatmapCookie starts the optional blktap batmap header that follows
	// the BAT in disks written by blktap.
	BatmapCookie = "tdbatmap"

	BatmapHeaderSize = 29
)

type batmapHeader struct { // 29 bytes
	Cookie   [8]byte
	Offset   uint64
	Size     uint32
	Version  uint32
	Checksum uint32
	Marker   uint8
}

// BatmapHeader describes the blktap batmap: a bitmap of fully written
// blocks kept next to the BAT.
type BatmapHeader struct {
	Offset   uint64
	Size     uint32
	Version  uint32
	Checksum uint32
	Marker   uint8
}

// DecodeBatmapHeader parses a batmap header.
func DecodeBatmapHeader(data []byte) (*BatmapHeader, error) {
	if len(data) < BatmapHeaderSize {
		return nil, formatErrorf("batmap", "short record (%d of %d bytes)", len(data), BatmapHeaderSize)
	}

	raw := new(batmapHeader)
	err := binary.Read(bytes.NewReader(data[:BatmapHeaderSize]), binary.BigEndian, raw)
	if err != nil {
		return nil, err
	}

	if string(raw.Cookie[:]) != BatmapCookie {
		return nil, formatErrorf("batmap", "bad cookie %q", raw.Cookie[:])
	}

	return &BatmapHeader{
		Offset:   raw.Offset,
		Size:     raw.Size,
		Version:  raw.Version,
		Checksum: raw.Checksum,
		Marker:   raw.Marker,
	}, nil
}

// ReadBatmap returns the batmap header stored in the sector after the BAT,
// or nil if the disk has none.
func (d *Disk) ReadBatmap() (*BatmapHeader, error) {

	offset := int64(d.Header.TableOffset) + d.Header.TableSize()
	if offset+BatmapHeaderSize > d.length-FooterSize {
		return nil, nil
	}

	buf, err := d.readAt(offset, BatmapHeaderSize)
	if err != nil {
		return nil, err
	}

	if string(buf[:len(BatmapCookie)]) != BatmapCookie {
		return nil, nil
	}

	return DecodeBatmapHeader(buf)
}
