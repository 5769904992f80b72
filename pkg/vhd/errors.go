package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import "fmt"

// FormatError reports on-disk structures that cannot be trusted: short
// records, unexpected cookies, bad checksums or inconsistent tables.
type FormatError struct {
	Record string
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("vhd: %s", e.Msg)
	}
	return fmt.Sprintf("vhd %s: %s", e.Record, e.Msg)
}

func formatErrorf(record, format string, args ...interface{}) error {
	return &FormatError{
		Record: record,
		Msg:    fmt.Sprintf(format, args...),
	}
}
