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
)

// Footer is the 512 byte record found at both ends of every disk.
type Footer struct {
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	TimeStamp          time.Time
	CreatorApplication string
	CreatorVersion     uint32
	CreatorHostOS      uint32
	OriginalSize       uint64
	CurrentSize        uint64
	Geometry           Geometry
	DiskType           DiskType
	Checksum           uint32
	UniqueID           uuid.UUID
	SavedState         bool
}

// FooterArgs describes a footer for a new sparse disk.
type FooterArgs struct {
	DiskType           DiskType
	Size               int64
	UniqueID           uuid.UUID
	TimeStamp          time.Time
	CreatorApplication string
	CreatorVersion     uint32
	CreatorHostOS      uint32
}

// NewFooter returns a footer for a sparse disk whose dynamic header sits
// directly after the leading footer copy.
func NewFooter(args *FooterArgs) *Footer {
	app := args.CreatorApplication
	if app == "" {
		app = "vcli"
	}
	return &Footer{
		Features:           0x00000002,
		FileFormatVersion:  FileFormatVersion,
		DataOffset:         FooterSize,
		TimeStamp:          args.TimeStamp,
		CreatorApplication: app,
		CreatorVersion:     args.CreatorVersion,
		CreatorHostOS:      args.CreatorHostOS,
		OriginalSize:       uint64(args.Size),
		CurrentSize:        uint64(args.Size),
		Geometry:           CalculateGeometry(args.Size),
		DiskType:           args.DiskType,
		UniqueID:           args.UniqueID,
	}
}

// Sparse reports whether the footer points at a dynamic header.
func (f *Footer) Sparse() bool {
	return f.DataOffset != NoDataOffset &&
		(f.DiskType == DiskTypeDynamic || f.DiskType == DiskTypeDifferencing)
}

func (f *Footer) raw() *footer {
	raw := &footer{
		Features:          f.Features,
		FileFormatVersion: f.FileFormatVersion,
		DataOffset:        f.DataOffset,
		TimeStamp:         toTimeStamp(f.TimeStamp),
		CreatorVersion:    f.CreatorVersion,
		CreatorHostOS:     f.CreatorHostOS,
		OriginalSize:      f.OriginalSize,
		CurrentSize:       f.CurrentSize,
		DiskGeometry:      f.Geometry.Pack(),
		DiskType:          uint32(f.DiskType),
		UniqueID:          f.UniqueID,
	}
	copy(raw.Cookie[:], FooterCookie)
	copy(raw.CreatorApplication[:], f.CreatorApplication)
	if f.SavedState {
		raw.SavedState = 1
	}
	return raw
}

// Encode serializes the footer and stores its checksum in f.
func (f *Footer) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(FooterSize)
	_ = binary.Write(buf, binary.BigEndian, f.raw())

	data := buf.Bytes()
	f.Checksum = Checksum(data, footerChecksumOffset)
	binary.BigEndian.PutUint32(data[footerChecksumOffset:], f.Checksum)

	return data
}

// DecodeFooter parses and validates a footer.
func DecodeFooter(data []byte) (*Footer, error) {

	if len(data) < FooterSize {
		return nil, formatErrorf("footer", "short record (%d of %d bytes)", len(data), FooterSize)
	}
	data = data[:FooterSize]

	raw := new(footer)
	err := binary.Read(bytes.NewReader(data), binary.BigEndian, raw)
	if err != nil {
		return nil, err
	}

	if string(raw.Cookie[:]) != FooterCookie {
		return nil, formatErrorf("footer", "bad cookie %q", raw.Cookie[:])
	}

	if !VerifyChecksum(data, footerChecksumOffset, raw.Checksum) {
		return nil, formatErrorf("footer", "checksum mismatch (stored %#08x, computed %#08x)",
			raw.Checksum, Checksum(data, footerChecksumOffset))
	}

	return &Footer{
		Features:           raw.Features,
		FileFormatVersion:  raw.FileFormatVersion,
		DataOffset:         raw.DataOffset,
		TimeStamp:          fromTimeStamp(raw.TimeStamp),
		CreatorApplication: string(bytes.TrimRight(raw.CreatorApplication[:], "\x00")),
		CreatorVersion:     raw.CreatorVersion,
		CreatorHostOS:      raw.CreatorHostOS,
		OriginalSize:       raw.OriginalSize,
		CurrentSize:        raw.CurrentSize,
		Geometry:           UnpackGeometry(raw.DiskGeometry),
		DiskType:           DiskType(raw.DiskType),
		Checksum:           raw.Checksum,
		UniqueID:           uuid.UUID(raw.UniqueID),
		SavedState:         raw.SavedState != 0,
	}, nil
}

func toTimeStamp(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix() - epochOffset) // 2000 offset
}

func fromTimeStamp(x uint32) time.Time {
	return time.Unix(int64(x)+epochOffset, 0).UTC()
}
