// Package rbddiff reads and writes "rbd diff v1" streams: a fixed header
// followed by tagged metadata and data records, terminated by an end tag.
//
// Write payloads are streamed through Reader.Read and Writer.Write, in the
// same way archive/tar handles file contents.
package rbddiff

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"

	"github.com/google/uuid"
)

// Header is the literal every stream starts with.
const Header = "rbd diff v1\n"

// MaxNameLength bounds snapshot names accepted by the Reader.
const MaxNameLength = 4096

// Tag identifies a record type.
type Tag byte

const (
	TagFromSnapshot Tag = 'f'
	TagToSnapshot   Tag = 't'
	TagSize         Tag = 's'
	TagWrite        Tag = 'w'
	TagZero         Tag = 'z'
	TagEnd          Tag = 'e'
)

func (t Tag) String() string {
	switch t {
	case TagFromSnapshot:
		return "from-snapshot"
	case TagToSnapshot:
		return "to-snapshot"
	case TagSize:
		return "size"
	case TagWrite:
		return "write"
	case TagZero:
		return "zero"
	case TagEnd:
		return "end"
	default:
		return fmt.Sprintf("tag(%#02x)", byte(t))
	}
}

// IsData reports whether records with this tag describe disk contents.
func (t Tag) IsData() bool {
	return t == TagWrite || t == TagZero
}

// Record is a single stream record. Only the fields relevant to Type are
// meaningful: Name for snapshot records, Size for size records, Offset and
// Length for write and zero records.
type Record struct {
	Type   Tag
	Name   string
	Size   uint64
	Offset uint64
	Length uint64
}

// FromSnapshot returns a from-snapshot record.
func FromSnapshot(name string) *Record {
	return &Record{Type: TagFromSnapshot, Name: name}
}

// ToSnapshot returns a to-snapshot record.
func ToSnapshot(name string) *Record {
	return &Record{Type: TagToSnapshot, Name: name}
}

// Size returns an image size record.
func Size(size uint64) *Record {
	return &Record{Type: TagSize, Size: size}
}

// Write returns a write record header; length bytes of payload must follow.
func Write(offset, length uint64) *Record {
	return &Record{Type: TagWrite, Offset: offset, Length: length}
}

// Zero returns a zero-fill record.
func Zero(offset, length uint64) *Record {
	return &Record{Type: TagZero, Offset: offset, Length: length}
}

func (r *Record) String() string {
	switch r.Type {
	case TagFromSnapshot, TagToSnapshot:
		return fmt.Sprintf("%s %q", r.Type, r.Name)
	case TagSize:
		return fmt.Sprintf("%s %d", r.Type, r.Size)
	case TagWrite, TagZero:
		return fmt.Sprintf("%s [%#x, %#x)", r.Type, r.Offset, r.Offset+r.Length)
	default:
		return r.Type.String()
	}
}

// FormatError reports a malformed stream.
type FormatError struct {
	Offset int64
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("rbd diff: %s", e.Msg)
	}
	return fmt.Sprintf("rbd diff: %s (at byte %d)", e.Msg, e.Offset)
}

// NewFormatError returns a FormatError that is not tied to a stream
// position.
func NewFormatError(format string, args ...interface{}) error {
	return &FormatError{
		Offset: -1,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// ParseSnapshotID interprets a snapshot name as an image identifier. An
// empty name yields the nil identifier.
func ParseSnapshotID(name string) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, nil
	}

	id, err := uuid.Parse(name)
	if err != nil {
		return uuid.Nil, NewFormatError("snapshot name %q is not an image identifier: %v", name, err)
	}

	return id, nil
}

// SnapshotName is the inverse of ParseSnapshotID.
func SnapshotName(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
