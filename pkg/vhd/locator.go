package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// ParentLocator is one of the eight parent locator slots of the dynamic
// header. The platform fields are carried through untouched.
type ParentLocator struct {
	PlatformCode       uint32
	PlatformDataSpace  uint32
	PlatformDataLength uint32
	Reserved           uint32
	PlatformDataOffset uint64
}

// IsZero reports whether the slot is unused.
func (l ParentLocator) IsZero() bool {
	return l == ParentLocator{}
}

// Encode serializes the entry into its 24 byte form.
func (l *ParentLocator) Encode() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, &locator{
		PlatformCode:       l.PlatformCode,
		PlatformDataSpace:  l.PlatformDataSpace,
		PlatformDataLength: l.PlatformDataLength,
		Reserved:           l.Reserved,
		PlatformDataOffset: l.PlatformDataOffset,
	})
	return buf.Bytes()
}

// DecodeParentLocator parses a 24 byte parent locator entry.
func DecodeParentLocator(data []byte) (*ParentLocator, error) {
	if len(data) < LocatorSize {
		return nil, formatErrorf("parent locator", "short record (%d of %d bytes)", len(data), LocatorSize)
	}

	raw := new(locator)
	err := binary.Read(bytes.NewReader(data[:LocatorSize]), binary.BigEndian, raw)
	if err != nil {
		return nil, err
	}

	return &ParentLocator{
		PlatformCode:       raw.PlatformCode,
		PlatformDataSpace:  raw.PlatformDataSpace,
		PlatformDataLength: raw.PlatformDataLength,
		Reserved:           raw.Reserved,
		PlatformDataOffset: raw.PlatformDataOffset,
	}, nil
}

var locatorPathEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Path decodes the payload of the locator. Windows platform codes store
// UTF-16 little-endian paths, everything else a byte string.
func (l ParentLocator) Path(data []byte) (string, error) {
	switch l.PlatformCode {
	case PlatformW2ku, PlatformW2ru:
		path, err := locatorPathEncoding.NewDecoder().Bytes(trimUTF16(data))
		if err != nil {
			return "", formatErrorf("parent locator", "path: %v", err)
		}
		return string(path), nil
	default:
		return string(bytes.TrimRight(data, "\x00")), nil
	}
}
