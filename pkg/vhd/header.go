package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// Header is the dynamic disk header of dynamic and differencing disks.
type Header struct {
	DataOffset        uint64
	TableOffset       uint64
	HeaderVersion     uint32
	MaxTableEntries   uint32
	BlockSize         uint32
	Checksum          uint32
	ParentUniqueID    uuid.UUID
	ParentTimeStamp   time.Time
	ParentUnicodeName string
	Locators          [8]ParentLocator
}

// HeaderArgs describes the dynamic header of a new differencing disk.
type HeaderArgs struct {
	Size            int64
	TableOffset     uint64
	ParentUniqueID  uuid.UUID
	ParentTimeStamp time.Time
}

// NewHeader returns a dynamic header with the default block size. The
// parent display name is derived from the parent identifier.
func NewHeader(args *HeaderArgs) *Header {
	return &Header{
		DataOffset:        NoDataOffset,
		TableOffset:       args.TableOffset,
		HeaderVersion:     HeaderVersion,
		MaxTableEntries:   uint32(TableEntries(args.Size, DefaultBlockSize)),
		BlockSize:         DefaultBlockSize,
		ParentUniqueID:    args.ParentUniqueID,
		ParentTimeStamp:   args.ParentTimeStamp,
		ParentUnicodeName: args.ParentUniqueID.String() + ".vhd",
	}
}

// TableEntries is the number of BAT entries needed to cover size bytes.
func TableEntries(size int64, blockSize uint32) int64 {
	return (size + int64(blockSize) - 1) / int64(blockSize)
}

// SectorsPerBlock is the number of sectors covered by one BAT entry.
func (h *Header) SectorsPerBlock() int64 {
	return int64(h.BlockSize) / SectorSize
}

// BitmapSize is the on-disk size of a block's sector bitmap.
func (h *Header) BitmapSize() int64 {
	return BitmapSize(h.BlockSize)
}

// TableSize is the on-disk size of the BAT, padded to a sector.
func (h *Header) TableSize() int64 {
	return alignSector(4 * int64(h.MaxTableEntries))
}

var parentNameEncoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Encode serializes the header and stores its checksum in h.
func (h *Header) Encode() []byte {

	raw := &header{
		DataOffset:      h.DataOffset,
		TableOffset:     h.TableOffset,
		HeaderVersion:   h.HeaderVersion,
		MaxTableEntries: h.MaxTableEntries,
		BlockSize:       h.BlockSize,
		ParentUniqueID:  h.ParentUniqueID,
		ParentTimeStamp: toTimeStamp(h.ParentTimeStamp),
	}
	copy(raw.Cookie[:], HeaderCookie)

	name, err := parentNameEncoding.NewEncoder().Bytes([]byte(h.ParentUnicodeName))
	if err == nil {
		copy(raw.ParentUnicodeName[:], truncateUTF16(name, len(raw.ParentUnicodeName)))
	}

	for i := range h.Locators {
		copy(raw.ParentLocatorEntry[i][:], h.Locators[i].Encode())
	}

	buf := new(bytes.Buffer)
	buf.Grow(HeaderSize)
	_ = binary.Write(buf, binary.BigEndian, raw)

	data := buf.Bytes()
	h.Checksum = Checksum(data, headerChecksumOffset)
	binary.BigEndian.PutUint32(data[headerChecksumOffset:], h.Checksum)

	return data
}

// DecodeHeader parses and validates a dynamic disk header.
func DecodeHeader(data []byte) (*Header, error) {

	if len(data) < HeaderSize {
		return nil, formatErrorf("header", "short record (%d of %d bytes)", len(data), HeaderSize)
	}
	data = data[:HeaderSize]

	raw := new(header)
	err := binary.Read(bytes.NewReader(data), binary.BigEndian, raw)
	if err != nil {
		return nil, err
	}

	if string(raw.Cookie[:]) != HeaderCookie {
		return nil, formatErrorf("header", "bad cookie %q", raw.Cookie[:])
	}

	if !VerifyChecksum(data, headerChecksumOffset, raw.Checksum) {
		return nil, formatErrorf("header", "checksum mismatch (stored %#08x, computed %#08x)",
			raw.Checksum, Checksum(data, headerChecksumOffset))
	}

	if raw.BlockSize == 0 || raw.BlockSize%SectorSize != 0 {
		return nil, formatErrorf("header", "invalid block size %d", raw.BlockSize)
	}

	h := &Header{
		DataOffset:      raw.DataOffset,
		TableOffset:     raw.TableOffset,
		HeaderVersion:   raw.HeaderVersion,
		MaxTableEntries: raw.MaxTableEntries,
		BlockSize:       raw.BlockSize,
		Checksum:        raw.Checksum,
		ParentUniqueID:  uuid.UUID(raw.ParentUniqueID),
		ParentTimeStamp: fromTimeStamp(raw.ParentTimeStamp),
	}

	name, err := parentNameEncoding.NewDecoder().Bytes(trimUTF16(raw.ParentUnicodeName[:]))
	if err != nil {
		return nil, formatErrorf("header", "parent name: %v", err)
	}
	h.ParentUnicodeName = string(name)

	for i := range raw.ParentLocatorEntry {
		l, err := DecodeParentLocator(raw.ParentLocatorEntry[i][:])
		if err != nil {
			return nil, err
		}
		h.Locators[i] = *l
	}

	return h, nil
}

// truncateUTF16 limits big-endian UTF-16 text to n bytes without leaving
// half of a surrogate pair at the end.
func truncateUTF16(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	b = b[:n&^1]
	if len(b) >= 2 && b[len(b)-2]&0xFC == 0xD8 {
		b = b[:len(b)-2]
	}
	return b
}

// trimUTF16 cuts a zero padded UTF-16 field at its first NUL code unit.
func trimUTF16(b []byte) []byte {
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			return b[:i]
		}
	}
	return b[:len(b)&^1]
}

func alignSector(n int64) int64 {
	return (n + SectorSize - 1) / SectorSize * SectorSize
}
