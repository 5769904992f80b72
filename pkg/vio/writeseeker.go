package vio

import (
	"io"
)

type zeroesReader struct {
}

func (rdr *zeroesReader) Read(p []byte) (n int, err error) {

	if len(p) == 0 {
		return
	}
	p[0] = 0
	for bp := 1; bp < len(p); bp *= 2 {
		copy(p[bp:], p[:bp])
	}

	return len(p), nil
}

// Zeroes is an endless source of zero bytes.
var Zeroes = io.Reader(&zeroesReader{})

// CountingWriter passes writes through to W and counts the bytes that made
// it.
type CountingWriter struct {
	W io.Writer
	N int64
}

func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.W.Write(p)
	cw.N += int64(n)
	return
}

// CountingReader counts the bytes read from R.
type CountingReader struct {
	R io.Reader
	N int64
}

func (cr *CountingReader) Read(p []byte) (n int, err error) {
	n, err = cr.R.Read(p)
	cr.N += int64(n)
	return
}
