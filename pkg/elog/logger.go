package elog

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"io/ioutil"
)

// View is the logging surface handed to long running operations.
type View interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Printf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	NewProgress(label string, units string, total int64) Progress
}

// Progress tracks a single unit of work. Finish must be called exactly once
// for the bar to be released; extra calls are ignored.
type Progress interface {
	Increment(n int64)
	ProxyReader(r io.Reader) io.ReadCloser
	Finish(success bool)
}

// Discard is a View that drops everything.
var Discard View = discard{}

type discard struct{}

func (discard) Debugf(format string, args ...interface{}) {}
func (discard) Errorf(format string, args ...interface{}) {}
func (discard) Infof(format string, args ...interface{})  {}
func (discard) Printf(format string, args ...interface{}) {}
func (discard) Warnf(format string, args ...interface{})  {}

func (discard) NewProgress(label string, units string, total int64) Progress {
	return &nopProgress{}
}

type nopProgress struct {
	done  func(success bool, current int64)
	count int64
	fin   bool
}

func (p *nopProgress) Increment(n int64) {
	p.count += n
}

func (p *nopProgress) ProxyReader(r io.Reader) io.ReadCloser {
	return ioutil.NopCloser(&progressReader{r: r, p: p})
}

func (p *nopProgress) Finish(success bool) {
	if p.fin {
		return
	}
	p.fin = true
	if p.done != nil {
		p.done(success, p.count)
	}
}

type progressReader struct {
	r io.Reader
	p Progress
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.p.Increment(int64(n))
	return n, err
}
