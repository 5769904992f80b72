package vconvert

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vorteil/rbdvhd/pkg/elog"
	"github.com/vorteil/rbdvhd/pkg/rbddiff"
	"github.com/vorteil/rbdvhd/pkg/vhd"
)

// ExtractArgs configures Extract.
type ExtractArgs struct {
	Logger elog.View

	// SplitAtBlocks ends every write record at a block boundary instead of
	// merging runs that continue into the next allocated block.
	SplitAtBlocks bool
}

// Extract reads the differencing disk in r and writes an rbd diff stream to
// w with one write record per run of consecutive written sectors.
func Extract(r io.ReadSeeker, w io.Writer, args *ExtractArgs) (*Summary, error) {

	if args == nil {
		args = new(ExtractArgs)
	}
	log := logger(args.Logger)

	disk, err := vhd.Open(r)
	if err != nil {
		return nil, err
	}

	if disk.Footer.DiskType != vhd.DiskTypeDifferencing {
		log.Warnf("disk is %s, not differencing", disk.Footer.DiskType)
	}

	wtr, err := rbddiff.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, "writing stream header")
	}

	ex := &extractor{
		disk: disk,
		wtr:  wtr,
		log:  log,
	}
	ex.summary.Size = disk.Size()
	ex.summary.ToSnapshot = disk.Footer.UniqueID
	ex.summary.FromSnapshot = disk.Header.ParentUniqueID

	err = ex.writeMetadata()
	if err != nil {
		return nil, err
	}

	blocks := disk.BAT.AllocatedBlocks()
	progress := log.NewProgress("Extracting blocks", "", int64(len(blocks)))
	defer func() {
		progress.Finish(err == nil)
	}()

	for _, block := range blocks {
		err = ex.scanBlock(block)
		if err != nil {
			return nil, err
		}
		if args.SplitAtBlocks {
			err = ex.flush()
			if err != nil {
				return nil, err
			}
		}
		progress.Increment(1)
	}

	err = ex.flush()
	if err != nil {
		return nil, err
	}

	err = wtr.Close()
	if err != nil {
		return nil, errors.Wrap(err, "writing end record")
	}

	ex.summary.Blocks = int64(len(blocks))
	log.Infof("extracted rbd diff: %s", &ex.summary)

	return &ex.summary, nil
}

// segment is a piece of a run that lives inside a single block.
type segment struct {
	block, first, count int64
}

type extractor struct {
	disk    *vhd.Disk
	wtr     *rbddiff.Writer
	log     elog.View
	summary Summary

	// current run, in virtual sectors
	start    int64
	count    int64
	segments []segment
}

func (ex *extractor) writeMetadata() error {

	var recs []*rbddiff.Record
	if ex.summary.FromSnapshot != uuid.Nil {
		recs = append(recs, rbddiff.FromSnapshot(rbddiff.SnapshotName(ex.summary.FromSnapshot)))
	}
	if ex.summary.ToSnapshot != uuid.Nil {
		recs = append(recs, rbddiff.ToSnapshot(rbddiff.SnapshotName(ex.summary.ToSnapshot)))
	}
	recs = append(recs, rbddiff.Size(uint64(ex.summary.Size)))

	for _, rec := range recs {
		err := ex.wtr.WriteRecord(rec)
		if err != nil {
			return errors.Wrapf(err, "writing %s", rec)
		}
	}

	return nil
}

func (ex *extractor) scanBlock(block int64) error {

	bitmap, err := ex.disk.ReadBitmap(block)
	if err != nil {
		return err
	}

	spb := ex.disk.SectorsPerBlock()
	limit := ex.disk.Size() / vhd.SectorSize

	for i := int64(0); i < spb; i++ {
		sector := block*spb + i
		if sector >= limit {
			break
		}
		if bitmap.IsSet(i) {
			err = ex.mark(block, i)
		} else {
			err = ex.flush()
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// mark adds sector i of block to the current run, starting a new run when
// it does not directly follow the last one.
func (ex *extractor) mark(block, i int64) error {

	sector := block*ex.disk.SectorsPerBlock() + i

	if ex.count > 0 && sector == ex.start+ex.count {
		ex.count++
		last := &ex.segments[len(ex.segments)-1]
		if last.block == block {
			last.count++
		} else {
			ex.segments = append(ex.segments, segment{block: block, first: i, count: 1})
		}
		return nil
	}

	err := ex.flush()
	if err != nil {
		return err
	}

	ex.start = sector
	ex.count = 1
	ex.segments = append(ex.segments, segment{block: block, first: i, count: 1})

	return nil
}

// flush emits the current run, if any, as a single write record.
func (ex *extractor) flush() error {

	if ex.count == 0 {
		return nil
	}

	off := ex.start * vhd.SectorSize
	length := ex.count * vhd.SectorSize

	rec := rbddiff.Write(uint64(off), uint64(length))
	ex.log.Debugf("record %s", rec)

	err := ex.wtr.WriteRecord(rec)
	if err != nil {
		return errors.Wrapf(err, "writing %s", rec)
	}

	for _, seg := range ex.segments {
		_, err = ex.disk.CopySectors(ex.wtr, seg.block, seg.first, seg.count)
		if err != nil {
			return errors.Wrapf(err, "copying block %d", seg.block)
		}
	}

	ex.summary.Records++
	ex.summary.Bytes += length

	ex.count = 0
	ex.segments = ex.segments[:0]

	return nil
}
