package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// Checksum returns the one's complement of the byte sum of record, with the
// four bytes at checksumOffset counted as zero.
func Checksum(record []byte, checksumOffset int) uint32 {
	var sum uint32
	for i, x := range record {
		if i >= checksumOffset && i < checksumOffset+4 {
			continue
		}
		sum += uint32(x)
	}
	return ^sum
}

// VerifyChecksum reports whether expected matches the checksum of record.
func VerifyChecksum(record []byte, checksumOffset int, expected uint32) bool {
	return Checksum(record, checksumOffset) == expected
}
