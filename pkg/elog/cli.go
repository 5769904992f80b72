package elog

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"code.cloudfoundry.org/bytefmt"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// IsJSON is set when log output is machine readable, in which case nothing
// should be drawn on the terminal.
var IsJSON bool

// CLI is the View used by the command-line tools. It doubles as the logrus
// formatter so that plain log lines and progress bars agree on style.
type CLI struct {
	IsDebug    bool
	IsVerbose  bool
	DisableTTY bool

	lock     sync.Mutex
	progress *mpb.Progress
	bars     int
}

var (
	debugPrefix = color.New(color.FgHiBlack).Sprint("DEBUG")
	infoPrefix  = color.New(color.FgCyan).Sprint("INFO ")
	warnPrefix  = color.New(color.FgYellow).Sprint("WARN ")
	errorPrefix = color.New(color.FgRed, color.Bold).Sprint("ERROR")
)

// Format implements logrus.Formatter.
func (log *CLI) Format(entry *logrus.Entry) ([]byte, error) {

	buf := new(bytes.Buffer)

	if log.IsVerbose {
		var prefix string
		switch entry.Level {
		case logrus.TraceLevel, logrus.DebugLevel:
			prefix = debugPrefix
		case logrus.InfoLevel:
			prefix = infoPrefix
		case logrus.WarnLevel:
			prefix = warnPrefix
		default:
			prefix = errorPrefix
		}
		fmt.Fprintf(buf, "%s %s", prefix, entry.Message)
	} else {
		switch entry.Level {
		case logrus.WarnLevel:
			fmt.Fprintf(buf, "%s %s", warnPrefix, entry.Message)
		case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
			fmt.Fprintf(buf, "%s %s", errorPrefix, entry.Message)
		default:
			buf.WriteString(entry.Message)
		}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, " %s=%v", k, entry.Data[k])
	}

	if !strings.HasSuffix(buf.String(), "\n") {
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

func (log *CLI) Debugf(format string, args ...interface{}) {
	if !log.IsDebug {
		return
	}
	logrus.Debugf(format, args...)
}

func (log *CLI) Errorf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}

func (log *CLI) Infof(format string, args ...interface{}) {
	if !log.IsVerbose {
		return
	}
	logrus.Infof(format, args...)
}

func (log *CLI) Printf(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

func (log *CLI) Warnf(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

func (log *CLI) interactive() bool {
	if log.DisableTTY || IsJSON {
		return false
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewProgress returns a progress bar on an interactive terminal and a log
// line on completion otherwise.
func (log *CLI) NewProgress(label string, units string, total int64) Progress {

	if !log.interactive() {
		return &nopProgress{
			done: func(success bool, current int64) {
				if !success {
					return
				}
				if units == "KiB" {
					log.Infof("%s: %s", label, bytefmt.ByteSize(uint64(current)))
				} else {
					log.Infof("%s: %d", label, current)
				}
			},
		}
	}

	log.lock.Lock()
	defer log.lock.Unlock()

	if log.progress == nil {
		log.progress = mpb.New(mpb.WithOutput(colorable.NewColorableStderr()), mpb.WithWidth(40))
	}
	log.bars++

	var counters decor.Decorator
	if units == "KiB" {
		counters = decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace)
	} else {
		counters = decor.CountersNoUnit("%d / %d", decor.WCSyncSpace)
	}

	bar := log.progress.AddBar(total,
		mpb.PrependDecorators(decor.Name(label, decor.WCSyncSpaceR)),
		mpb.AppendDecorators(counters, decor.Percentage(decor.WCSyncSpace)),
	)

	return &cliProgress{
		log: log,
		bar: bar,
	}
}

func (log *CLI) release() {
	log.lock.Lock()
	defer log.lock.Unlock()

	log.bars--
	if log.bars == 0 && log.progress != nil {
		log.progress.Wait()
		log.progress = nil
	}
}

type cliProgress struct {
	log *CLI
	bar *mpb.Bar
	fin bool
}

func (p *cliProgress) Increment(n int64) {
	p.bar.IncrInt64(n)
}

func (p *cliProgress) ProxyReader(r io.Reader) io.ReadCloser {
	return p.bar.ProxyReader(r)
}

func (p *cliProgress) Finish(success bool) {
	if p.fin {
		return
	}
	p.fin = true

	if success {
		p.bar.SetTotal(p.bar.Current(), true)
	} else {
		p.bar.Abort(false)
	}

	p.log.release()
}
