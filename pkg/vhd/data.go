package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

const (
	SectorSize       = 512
	FooterSize       = 512
	HeaderSize       = 1024
	LocatorSize      = 24
	DefaultBlockSize = 0x200000

	FooterCookie = "conectix"
	HeaderCookie = "cxsparse"

	FileFormatVersion = 0x00010000
	HeaderVersion     = 0x00010000

	// Unallocated marks a BAT entry whose block has no storage in the file.
	Unallocated = 0xFFFFFFFF

	// NoDataOffset is the footer data offset of a disk without a dynamic
	// header.
	NoDataOffset = 0xFFFFFFFFFFFFFFFF

	footerChecksumOffset = 64
	headerChecksumOffset = 36

	// seconds between the unix epoch and 2000-01-01T00:00:00Z
	epochOffset = 946684800
)

// DiskType identifies the kind of disk described by a footer.
type DiskType uint32

const (
	DiskTypeNone         DiskType = 0
	DiskTypeFixed        DiskType = 2
	DiskTypeDynamic      DiskType = 3
	DiskTypeDifferencing DiskType = 4
)

func (t DiskType) String() string {
	switch t {
	case DiskTypeNone:
		return "none"
	case DiskTypeFixed:
		return "fixed"
	case DiskTypeDynamic:
		return "dynamic"
	case DiskTypeDifferencing:
		return "differencing"
	default:
		return "unknown"
	}
}

// Platform codes for parent locator entries.
const (
	PlatformNone = 0x00000000
	PlatformWi2r = 0x57693272
	PlatformWi2k = 0x5769326B
	PlatformW2ru = 0x57327275
	PlatformW2ku = 0x57326B75
	PlatformMac  = 0x4D616320
	PlatformMacX = 0x4D616358
)

type footer struct { // 512 bytes
	Cookie             [8]byte
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	TimeStamp          uint32
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      uint32
	OriginalSize       uint64
	CurrentSize        uint64
	DiskGeometry       uint32
	DiskType           uint32
	Checksum           uint32
	UniqueID           [16]byte
	SavedState         byte
	Reserved           [427]byte
}

type header struct { // 1024 bytes
	Cookie             [8]byte
	DataOffset         uint64
	TableOffset        uint64
	HeaderVersion      uint32
	MaxTableEntries    uint32
	BlockSize          uint32
	Checksum           uint32
	ParentUniqueID     [16]byte
	ParentTimeStamp    uint32
	Reserved           [4]byte
	ParentUnicodeName  [512]byte
	ParentLocatorEntry [8][LocatorSize]byte
	Reserved2          [256]byte
}

type locator struct { // 24 bytes
	PlatformCode       uint32
	PlatformDataSpace  uint32
	PlatformDataLength uint32
	Reserved           uint32
	PlatformDataOffset uint64
}
