package rbddiff

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrWriteTooLong = errors.New("rbd diff: write payload longer than declared length")
	ErrShortPayload = errors.New("rbd diff: previous write payload incomplete")
	ErrClosed       = errors.New("rbd diff: write after close")
)

// Writer produces a stream. Records are written with WriteRecord; a write
// record must be followed by exactly Length payload bytes via Write.
type Writer struct {
	w       io.Writer
	pending int64
	closed  bool
	err     error
}

// NewWriter writes the stream header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	wtr := &Writer{w: w}
	_, err := io.WriteString(w, Header)
	if err != nil {
		return nil, errors.Wrap(err, "writing rbd diff header")
	}
	return wtr, nil
}

func (wtr *Writer) emit(p []byte) error {
	_, err := wtr.w.Write(p)
	if err != nil {
		wtr.err = errors.Wrap(err, "writing rbd diff stream")
		return wtr.err
	}
	return nil
}

// WriteRecord writes the header of rec. End records are written by Close.
func (wtr *Writer) WriteRecord(rec *Record) error {

	if wtr.err != nil {
		return wtr.err
	}
	if wtr.closed {
		return ErrClosed
	}
	if wtr.pending > 0 {
		return ErrShortPayload
	}

	var buf []byte

	switch rec.Type {
	case TagFromSnapshot, TagToSnapshot:
		if len(rec.Name) > MaxNameLength {
			return NewFormatError("snapshot name too long")
		}
		buf = make([]byte, 5+len(rec.Name))
		buf[0] = byte(rec.Type)
		binary.BigEndian.PutUint32(buf[1:], uint32(len(rec.Name)))
		copy(buf[5:], rec.Name)

	case TagSize:
		buf = make([]byte, 9)
		buf[0] = byte(rec.Type)
		binary.BigEndian.PutUint64(buf[1:], rec.Size)

	case TagWrite, TagZero:
		buf = make([]byte, 17)
		buf[0] = byte(rec.Type)
		binary.BigEndian.PutUint64(buf[1:], rec.Offset)
		binary.BigEndian.PutUint64(buf[9:], rec.Length)

	case TagEnd:
		return wtr.Close()

	default:
		return NewFormatError("unrecognized record tag %#02x", byte(rec.Type))
	}

	err := wtr.emit(buf)
	if err != nil {
		return err
	}

	if rec.Type == TagWrite {
		wtr.pending = int64(rec.Length)
	}

	return nil
}

// Write writes payload bytes of the current write record.
func (wtr *Writer) Write(p []byte) (int, error) {

	if wtr.err != nil {
		return 0, wtr.err
	}

	if int64(len(p)) > wtr.pending {
		return 0, ErrWriteTooLong
	}

	n, err := wtr.w.Write(p)
	wtr.pending -= int64(n)
	if err != nil {
		wtr.err = errors.Wrap(err, "writing rbd diff payload")
		return n, wtr.err
	}

	return n, nil
}

// WriteData writes a complete write record.
func (wtr *Writer) WriteData(offset uint64, data []byte) error {
	err := wtr.WriteRecord(Write(offset, uint64(len(data))))
	if err != nil {
		return err
	}
	_, err = wtr.Write(data)
	return err
}

// Close terminates the stream with the end tag. It does not close the
// underlying writer.
func (wtr *Writer) Close() error {

	if wtr.closed {
		return nil
	}
	if wtr.err != nil {
		return wtr.err
	}
	if wtr.pending > 0 {
		return ErrShortPayload
	}

	err := wtr.emit([]byte{byte(TagEnd)})
	if err != nil {
		return err
	}

	wtr.closed = true
	return nil
}
