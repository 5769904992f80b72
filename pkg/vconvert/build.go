package vconvert

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vorteil/rbdvhd/pkg/elog"
	"github.com/vorteil/rbdvhd/pkg/rbddiff"
	"github.com/vorteil/rbdvhd/pkg/vhd"
)

// BuildArgs configures Build.
type BuildArgs struct {
	Logger             elog.View
	CreatorApplication string
	CreatorVersion     uint32
	CreatorHostOS      uint32

	// TimeStamp is stamped into the footer and header. Zero means now.
	TimeStamp time.Time

	// StreamSize is the length of the stream in bytes, if known. It only
	// sizes the progress bar.
	StreamSize int64
}

// Build reads an rbd diff stream from r and writes the equivalent
// differencing disk to w. The stream must carry its size record before any
// data record.
func Build(r io.Reader, w io.WriteSeeker, args *BuildArgs) (*Summary, error) {

	if args == nil {
		args = new(BuildArgs)
	}

	b := &builder{
		args: args,
		log:  logger(args.Logger),
		w:    w,
	}

	progress := b.log.NewProgress("Converting rbd diff", "KiB", args.StreamSize)
	var err error
	defer func() {
		progress.Finish(err == nil)
	}()

	rdr, err := rbddiff.NewReader(progress.ProxyReader(r))
	if err != nil {
		return nil, err
	}

	var state buildState = &collectingMetadata{}

	for {
		var rec *rbddiff.Record
		rec, err = rdr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		b.log.Debugf("record %s", rec)

		state, err = state.record(b, rec, rdr)
		if err != nil {
			return nil, err
		}
	}

	err = state.end(b)
	if err != nil {
		return nil, err
	}

	b.log.Infof("wrote differencing disk: %s", &b.summary)

	return &b.summary, nil
}

type builder struct {
	args    *BuildArgs
	log     elog.View
	w       io.WriteSeeker
	summary Summary
}

// buildState is one phase of Build. Metadata records are only accepted
// until the first data record opens the disk.
type buildState interface {
	record(b *builder, rec *rbddiff.Record, payload io.Reader) (buildState, error)
	end(b *builder) error
}

type collectingMetadata struct {
	from, to uuid.UUID
	size     uint64
	haveSize bool
}

func (s *collectingMetadata) record(b *builder, rec *rbddiff.Record, payload io.Reader) (buildState, error) {

	var err error

	switch rec.Type {
	case rbddiff.TagFromSnapshot:
		s.from, err = rbddiff.ParseSnapshotID(rec.Name)
		return s, err

	case rbddiff.TagToSnapshot:
		s.to, err = rbddiff.ParseSnapshotID(rec.Name)
		return s, err

	case rbddiff.TagSize:
		s.size = rec.Size
		s.haveSize = true
		return s, nil
	}

	next, err := s.open(b)
	if err != nil {
		return nil, err
	}

	return next.record(b, rec, payload)
}

func (s *collectingMetadata) open(b *builder) (*streamingData, error) {

	if !s.haveSize {
		return nil, rbddiff.NewFormatError("size record missing")
	}

	if s.size == 0 || s.size > 1<<62 || s.size%vhd.SectorSize != 0 {
		return nil, rbddiff.NewFormatError("invalid image size %d", s.size)
	}

	b.log.Infof("image %s (parent %s), %s", s.to, s.from, bytefmt.ByteSize(s.size))

	disk, err := vhd.NewDifferencingWriter(b.w, &vhd.DifferencingArgs{
		Size:               int64(s.size),
		UniqueID:           s.to,
		ParentUniqueID:     s.from,
		TimeStamp:          b.args.TimeStamp,
		CreatorApplication: b.args.CreatorApplication,
		CreatorVersion:     b.args.CreatorVersion,
		CreatorHostOS:      b.args.CreatorHostOS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating differencing disk")
	}

	b.summary.Size = int64(s.size)
	b.summary.FromSnapshot = s.from
	b.summary.ToSnapshot = s.to

	return &streamingData{disk: disk}, nil
}

func (s *collectingMetadata) end(b *builder) error {

	next, err := s.open(b)
	if err != nil {
		return err
	}

	return next.end(b)
}

type streamingData struct {
	disk *vhd.DifferencingWriter
}

func (s *streamingData) record(b *builder, rec *rbddiff.Record, payload io.Reader) (buildState, error) {

	if !rec.Type.IsData() {
		return nil, rbddiff.NewFormatError("out-of-order metadata: %s record after data", rec.Type)
	}

	if rec.Offset+rec.Length > uint64(s.disk.Size()) {
		return nil, rbddiff.NewFormatError("write beyond virtual size: %s", rec)
	}

	blocks := s.disk.Blocks()

	var err error
	if rec.Type == rbddiff.TagWrite {
		var n int64
		n, err = s.disk.CopyAt(payload, int64(rec.Offset), int64(rec.Length))
		b.summary.Bytes += n
	} else {
		err = s.disk.ZeroAt(int64(rec.Offset), int64(rec.Length))
	}
	if err != nil {
		if errors.Is(err, vhd.ErrOutOfRange) {
			return nil, rbddiff.NewFormatError("write beyond virtual size: %s", rec)
		}
		return nil, errors.Wrapf(err, "applying %s", rec)
	}

	b.summary.Records++

	if s.disk.Blocks() > blocks {
		for _, block := range s.disk.Allocations()[blocks:] {
			b.log.Debugf("allocated block %d at %#x", block, s.disk.BlockOffset(block))
		}
	}

	return s, nil
}

func (s *streamingData) end(b *builder) error {

	err := s.disk.Close()
	if err != nil {
		return errors.Wrap(err, "finalizing differencing disk")
	}

	b.summary.Blocks = s.disk.Blocks()

	return nil
}
