// Package vconvert converts between rbd diff streams and differencing VHD
// disks.
package vconvert

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vorteil/rbdvhd/pkg/elog"
	"github.com/vorteil/rbdvhd/pkg/rbddiff"
	"github.com/vorteil/rbdvhd/pkg/vhd"
)

// Summary describes a finished conversion.
type Summary struct {
	Size         int64
	FromSnapshot uuid.UUID
	ToSnapshot   uuid.UUID

	// Records counts write and zero records.
	Records int64

	// Blocks counts allocated VHD blocks.
	Blocks int64

	// Bytes counts data bytes moved between the two formats.
	Bytes int64
}

func (s *Summary) String() string {
	return fmt.Sprintf("%s disk, %d records, %d blocks, %s of data",
		bytefmt.ByteSize(uint64(s.Size)), s.Records, s.Blocks, bytefmt.ByteSize(uint64(s.Bytes)))
}

// IsFormatError reports whether err was caused by malformed input on either
// side of a conversion.
func IsFormatError(err error) bool {
	var verr *vhd.FormatError
	var rerr *rbddiff.FormatError
	return errors.As(err, &verr) || errors.As(err, &rerr)
}

func logger(log elog.View) elog.View {
	if log == nil {
		return elog.Discard
	}
	return log
}
