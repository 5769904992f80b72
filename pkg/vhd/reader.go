package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Disk is an opened dynamic or differencing disk.
type Disk struct {
	r      io.ReadSeeker
	length int64

	Footer *Footer
	Header *Header
	BAT    BAT
}

// Open reads and validates the metadata of the sparse disk in r. Both
// footer copies must be present, identical and correctly checksummed.
func Open(r io.ReadSeeker) (*Disk, error) {

	d := &Disk{r: r}

	var err error
	d.length, err = r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "measuring disk")
	}

	if d.length < FooterSize+HeaderSize+FooterSize {
		return nil, formatErrorf("", "file too small to be a sparse disk (%d bytes)", d.length)
	}

	head, err := d.readAt(0, FooterSize)
	if err != nil {
		return nil, err
	}

	tail, err := d.readAt(d.length-FooterSize, FooterSize)
	if err != nil {
		return nil, err
	}

	d.Footer, err = DecodeFooter(head)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(head, tail) {
		return nil, formatErrorf("footer", "leading and trailing copies differ")
	}

	if !d.Footer.Sparse() {
		return nil, formatErrorf("footer", "%s disk has no dynamic header", d.Footer.DiskType)
	}

	if d.Footer.DataOffset%SectorSize != 0 || d.Footer.DataOffset > uint64(d.length-HeaderSize) {
		return nil, formatErrorf("footer", "dynamic header offset %#x out of bounds", d.Footer.DataOffset)
	}

	hbuf, err := d.readAt(int64(d.Footer.DataOffset), HeaderSize)
	if err != nil {
		return nil, err
	}

	d.Header, err = DecodeHeader(hbuf)
	if err != nil {
		return nil, err
	}

	if d.Header.TableOffset > uint64(d.length) ||
		d.Header.TableOffset+4*uint64(d.Header.MaxTableEntries) > uint64(d.length) {
		return nil, formatErrorf("header", "block allocation table extends past end of file")
	}

	d.BAT, err = ReadBAT(r, int64(d.Header.TableOffset), int64(d.Header.MaxTableEntries))
	if err != nil {
		return nil, err
	}

	limit := d.length - FooterSize
	span := d.Header.BitmapSize() + int64(d.Header.BlockSize)
	for _, block := range d.BAT.AllocatedBlocks() {
		if d.BAT.Offset(block)+span > limit {
			return nil, formatErrorf("block allocation table", "block %d at %#x extends past end of data", block, d.BAT.Offset(block))
		}
	}

	return d, nil
}

func (d *Disk) readAt(offset, n int64) ([]byte, error) {

	_, err := d.r.Seek(offset, io.SeekStart)
	if err != nil {
		return nil, errors.Wrapf(err, "seeking to %#x", offset)
	}

	buf := make([]byte, n)
	_, err = io.ReadFull(d.r, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, formatErrorf("", "unexpected end of file reading %d bytes at %#x", n, offset)
		}
		return nil, errors.Wrapf(err, "reading %d bytes at %#x", n, offset)
	}

	return buf, nil
}

// Size is the virtual size of the disk.
func (d *Disk) Size() int64 {
	return int64(d.Footer.CurrentSize)
}

// SectorsPerBlock is the number of sectors covered by each block.
func (d *Disk) SectorsPerBlock() int64 {
	return d.Header.SectorsPerBlock()
}

// ReadBitmap loads the sector bitmap of an allocated block.
func (d *Disk) ReadBitmap(block int64) (Bitmap, error) {
	if block < 0 || block >= int64(len(d.BAT)) || !d.BAT.Allocated(block) {
		return nil, errors.Errorf("block %d is not allocated", block)
	}

	buf, err := d.readAt(d.BAT.Offset(block), d.Header.BitmapSize())
	if err != nil {
		return nil, err
	}

	return Bitmap(buf), nil
}

// ReadLocatorData returns the payload a parent locator points at.
func (d *Disk) ReadLocatorData(l ParentLocator) ([]byte, error) {
	end := l.PlatformDataOffset + uint64(l.PlatformDataLength)
	if l.PlatformDataOffset > uint64(d.length) || end > uint64(d.length-FooterSize) {
		return nil, formatErrorf("parent locator", "data at %#x (%d bytes) out of bounds", l.PlatformDataOffset, l.PlatformDataLength)
	}
	return d.readAt(int64(l.PlatformDataOffset), int64(l.PlatformDataLength))
}

// CopySectors copies count sectors of block, starting at sector first,
// into w.
func (d *Disk) CopySectors(w io.Writer, block, first, count int64) (int64, error) {
	if block < 0 || block >= int64(len(d.BAT)) || !d.BAT.Allocated(block) {
		return 0, errors.Errorf("block %d is not allocated", block)
	}

	offset := d.BAT.Offset(block) + d.Header.BitmapSize() + first*SectorSize
	_, err := d.r.Seek(offset, io.SeekStart)
	if err != nil {
		return 0, errors.Wrapf(err, "seeking to %#x", offset)
	}

	n, err := io.CopyN(w, d.r, count*SectorSize)
	if err == io.EOF {
		err = formatErrorf("", "unexpected end of file in block %d", block)
	}
	return n, err
}
