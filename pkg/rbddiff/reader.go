package rbddiff

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bufio"
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
)

// Reader provides sequential access to the records of a stream.
type Reader struct {
	r      *bufio.Reader
	offset int64
	unread int64
	done   bool
	err    error
}

// NewReader checks the stream header and returns a Reader positioned at the
// first record.
func NewReader(r io.Reader) (*Reader, error) {

	rdr := &Reader{
		r: bufio.NewReader(r),
	}

	buf := make([]byte, len(Header))
	err := rdr.readFull(buf)
	if err != nil {
		return nil, err
	}

	if string(buf) != Header {
		return nil, &FormatError{Offset: 0, Msg: "bad stream header"}
	}

	return rdr, nil
}

func (rdr *Reader) truncated() error {
	return &FormatError{Offset: rdr.offset, Msg: "truncated stream"}
}

func (rdr *Reader) readFull(p []byte) error {
	n, err := io.ReadFull(rdr.r, p)
	rdr.offset += int64(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return rdr.truncated()
		}
		return errors.Wrap(err, "reading rbd diff stream")
	}
	return nil
}

func (rdr *Reader) readUint32() (uint32, error) {
	var buf [4]byte
	err := rdr.readFull(buf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (rdr *Reader) readUint64() (uint64, error) {
	var buf [8]byte
	err := rdr.readFull(buf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// Offset is the number of stream bytes consumed so far.
func (rdr *Reader) Offset() int64 {
	return rdr.offset
}

// Next advances to the next record, discarding any unread payload of the
// current one. It returns io.EOF once the end record has been read.
func (rdr *Reader) Next() (*Record, error) {

	if rdr.err != nil {
		return nil, rdr.err
	}

	rec, err := rdr.next()
	if err != nil {
		rdr.err = err
		return nil, err
	}

	return rec, nil
}

func (rdr *Reader) next() (*Record, error) {

	if rdr.done {
		return nil, io.EOF
	}

	if rdr.unread > 0 {
		k, err := io.CopyN(ioutil.Discard, rdr.r, rdr.unread)
		rdr.offset += k
		rdr.unread -= k
		if err != nil {
			if err == io.EOF {
				return nil, rdr.truncated()
			}
			return nil, errors.Wrap(err, "skipping write payload")
		}
	}

	start := rdr.offset

	var tag [1]byte
	err := rdr.readFull(tag[:])
	if err != nil {
		return nil, err
	}

	rec := &Record{Type: Tag(tag[0])}

	switch rec.Type {
	case TagFromSnapshot, TagToSnapshot:
		n, err := rdr.readUint32()
		if err != nil {
			return nil, err
		}
		if n > MaxNameLength {
			return nil, &FormatError{Offset: start, Msg: "snapshot name too long"}
		}
		name := make([]byte, n)
		err = rdr.readFull(name)
		if err != nil {
			return nil, err
		}
		rec.Name = string(name)

	case TagSize:
		rec.Size, err = rdr.readUint64()
		if err != nil {
			return nil, err
		}

	case TagWrite, TagZero:
		rec.Offset, err = rdr.readUint64()
		if err != nil {
			return nil, err
		}
		rec.Length, err = rdr.readUint64()
		if err != nil {
			return nil, err
		}
		if rec.Offset+rec.Length < rec.Offset {
			return nil, &FormatError{Offset: start, Msg: "record range overflows"}
		}
		if rec.Type == TagWrite {
			rdr.unread = int64(rec.Length)
			if rdr.unread < 0 {
				return nil, &FormatError{Offset: start, Msg: "record length too large"}
			}
		}

	case TagEnd:
		rdr.done = true
		return nil, io.EOF

	default:
		return nil, &FormatError{Offset: start, Msg: "unrecognized record tag"}
	}

	return rec, nil
}

// Read reads payload bytes of the current write record. It returns io.EOF
// at the end of the payload.
func (rdr *Reader) Read(p []byte) (int, error) {

	if rdr.err != nil {
		return 0, rdr.err
	}

	if rdr.unread <= 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > rdr.unread {
		p = p[:rdr.unread]
	}

	n, err := rdr.r.Read(p)
	rdr.offset += int64(n)
	rdr.unread -= int64(n)

	if err == io.EOF {
		if rdr.unread > 0 {
			rdr.err = rdr.truncated()
			return n, rdr.err
		}
		err = nil
	} else if err != nil {
		rdr.err = errors.Wrap(err, "reading write payload")
		return n, rdr.err
	}

	return n, err
}
