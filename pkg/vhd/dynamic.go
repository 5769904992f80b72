package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vorteil/rbdvhd/pkg/vio"
)

// ErrOutOfRange is returned for writes that do not fit inside the virtual
// disk.
var ErrOutOfRange = errors.New("write beyond virtual size")

// DifferencingArgs describes a new differencing disk.
type DifferencingArgs struct {
	Size               int64
	UniqueID           uuid.UUID
	ParentUniqueID     uuid.UUID
	TimeStamp          time.Time
	CreatorApplication string
	CreatorVersion     uint32
	CreatorHostOS      uint32
}

// DifferencingWriter lays out a differencing disk on w, allocating blocks
// the first time any of their sectors is written. Blocks are placed one
// after another in the order they are first touched and never move.
type DifferencingWriter struct {
	w      io.WriteSeeker
	footer *Footer
	header *Header

	fbuf []byte

	bat     BAT
	bitmaps map[int64]Bitmap
	order   []int64

	blockSize  int64
	bitmapSize int64
	dataStart  int64
	next       int64
	cursor     int64
	closed     bool
}

// NewDifferencingWriter writes the leading footer, the dynamic header and an
// empty BAT to w.
func NewDifferencingWriter(w io.WriteSeeker, args *DifferencingArgs) (*DifferencingWriter, error) {

	if args.Size <= 0 {
		return nil, formatErrorf("", "invalid virtual size %d", args.Size)
	}

	timestamp := args.TimeStamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	dw := new(DifferencingWriter)
	dw.w = w
	dw.bitmaps = make(map[int64]Bitmap)

	dw.footer = NewFooter(&FooterArgs{
		DiskType:           DiskTypeDifferencing,
		Size:               args.Size,
		UniqueID:           args.UniqueID,
		TimeStamp:          timestamp,
		CreatorApplication: args.CreatorApplication,
		CreatorVersion:     args.CreatorVersion,
		CreatorHostOS:      args.CreatorHostOS,
	})

	dw.header = NewHeader(&HeaderArgs{
		Size:            args.Size,
		TableOffset:     FooterSize + HeaderSize,
		ParentUniqueID:  args.ParentUniqueID,
		ParentTimeStamp: timestamp,
	})

	dw.blockSize = int64(dw.header.BlockSize)
	dw.bitmapSize = dw.header.BitmapSize()
	dw.bat = NewBAT(int64(dw.header.MaxTableEntries))

	// every block must stay addressable through a 32 bit sector number
	end := int64(dw.header.TableOffset) + dw.header.TableSize() +
		int64(len(dw.bat))*(dw.bitmapSize+dw.blockSize)
	if end/SectorSize >= Unallocated {
		return nil, formatErrorf("", "virtual size %d too large for a sparse disk", args.Size)
	}

	_, err := w.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	err = dw.writeRedundantFooter()
	if err != nil {
		return nil, err
	}

	err = dw.writeHeader()
	if err != nil {
		return nil, err
	}

	err = dw.writeBAT()
	if err != nil {
		return nil, err
	}

	dw.dataStart = int64(dw.header.TableOffset) + dw.header.TableSize()
	dw.next = dw.dataStart

	return dw, nil
}

func (w *DifferencingWriter) writeRedundantFooter() error {
	w.fbuf = w.footer.Encode()
	_, err := io.Copy(w.w, bytes.NewReader(w.fbuf))
	return err
}

func (w *DifferencingWriter) writeHeader() error {
	_, err := io.Copy(w.w, bytes.NewReader(w.header.Encode()))
	return err
}

func (w *DifferencingWriter) writeBAT() error {
	_, err := w.w.Seek(int64(w.header.TableOffset), io.SeekStart)
	if err != nil {
		return err
	}

	_, err = io.Copy(w.w, bytes.NewReader(w.bat.Encode()))
	return err
}

// Footer returns the footer written to the disk.
func (w *DifferencingWriter) Footer() *Footer {
	return w.footer
}

// Header returns the dynamic header written to the disk.
func (w *DifferencingWriter) Header() *Header {
	return w.header
}

// Size is the virtual size of the disk.
func (w *DifferencingWriter) Size() int64 {
	return int64(w.footer.CurrentSize)
}

// Allocations returns block indices in the order they were allocated.
func (w *DifferencingWriter) Allocations() []int64 {
	out := make([]int64, len(w.order))
	copy(out, w.order)
	return out
}

// Blocks is the number of blocks allocated so far.
func (w *DifferencingWriter) Blocks() int64 {
	return int64(len(w.order))
}

// BlockOffset returns the byte offset of block's bitmap, or -1 if the block
// is not allocated.
func (w *DifferencingWriter) BlockOffset(block int64) int64 {
	if !w.bat.Allocated(block) {
		return -1
	}
	return w.bat.Offset(block)
}

// Bitmap returns the in-memory sector bitmap of block, or nil if the block
// is not allocated.
func (w *DifferencingWriter) Bitmap(block int64) Bitmap {
	return w.bitmaps[block]
}

func (w *DifferencingWriter) allocate(block int64) int64 {

	if w.bat.Allocated(block) {
		return w.bat.Offset(block)
	}

	offset := w.next
	w.bat[block] = uint32(offset / SectorSize)
	w.bitmaps[block] = NewBitmap(w.header.BlockSize)
	w.order = append(w.order, block)
	w.next += w.bitmapSize + w.blockSize

	return offset
}

// CopyAt copies length bytes from r into the disk at virtual byte offset
// off, allocating blocks and marking their sectors as it goes. Ranges may
// span any number of blocks.
func (w *DifferencingWriter) CopyAt(r io.Reader, off, length int64) (int64, error) {

	if w.closed {
		return 0, errors.New("differencing disk writer is closed")
	}

	if off < 0 || length < 0 || off+length > w.Size() {
		return 0, ErrOutOfRange
	}

	var n int64

	for length > 0 {

		block := off / w.blockSize
		delta := off % w.blockSize
		chunk := w.blockSize - delta
		if chunk > length {
			chunk = length
		}

		base := w.allocate(block)

		_, err := w.w.Seek(base+w.bitmapSize+delta, io.SeekStart)
		if err != nil {
			return n, err
		}

		k, err := io.CopyN(w.w, r, chunk)
		n += k
		if k > 0 {
			w.bitmaps[block].SetRange(delta/SectorSize, (delta+k-1)/SectorSize)
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		}

		off += chunk
		length -= chunk
	}

	return n, nil
}

// WriteAt implements io.WriterAt over virtual disk offsets.
func (w *DifferencingWriter) WriteAt(p []byte, off int64) (int, error) {
	n, err := w.CopyAt(bytes.NewReader(p), off, int64(len(p)))
	return int(n), err
}

// ZeroAt marks length bytes at off as written with zeroes.
func (w *DifferencingWriter) ZeroAt(off, length int64) error {
	_, err := w.CopyAt(vio.Zeroes, off, length)
	return err
}

// Write implements io.Writer at the current virtual cursor.
func (w *DifferencingWriter) Write(p []byte) (n int, err error) {
	n, err = w.WriteAt(p, w.cursor)
	w.cursor += int64(n)
	return
}

// Seek moves the virtual cursor used by Write.
func (w *DifferencingWriter) Seek(offset int64, whence int) (int64, error) {

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = w.cursor + offset
	case io.SeekEnd:
		abs = w.Size() + offset
	default:
		return w.cursor, errors.New("bad seek whence")
	}

	if abs < 0 {
		return w.cursor, errors.New("negative seek position")
	}

	w.cursor = abs
	return abs, nil
}

func (w *DifferencingWriter) writeBitmaps() error {
	for _, block := range w.order {
		_, err := w.w.Seek(w.bat.Offset(block), io.SeekStart)
		if err != nil {
			return err
		}

		_, err = io.Copy(w.w, bytes.NewReader(w.bitmaps[block]))
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *DifferencingWriter) writeFooter() error {
	_, err := w.w.Seek(w.next, io.SeekStart)
	if err != nil {
		return err
	}

	_, err = io.Copy(w.w, bytes.NewReader(w.fbuf))
	return err
}

// Close flushes the bitmaps, rewrites the BAT with the final allocations and
// appends the trailing footer copy after the last block.
func (w *DifferencingWriter) Close() error {

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.writeBitmaps()
	if err != nil {
		return err
	}

	err = w.writeBAT()
	if err != nil {
		return err
	}

	err = w.writeFooter()
	if err != nil {
		return err
	}

	return nil
}
