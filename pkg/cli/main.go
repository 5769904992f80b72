package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vorteil/rbdvhd/pkg/vconvert"
)

var (
	release = "0.0.0"
	commit  = ""
	date    = "Thu, 01 Jan 1970 00:00:00 +0000"
)

// Each command executed may have a error message and status code
var errorStatusCode int
var errorStatusMessage error

// SetError sets the global variables for when the process exits to display accordingly
func SetError(err error, code int) {
	errorStatusCode = code
	errorStatusMessage = err
}

// HandleErrors exits with the status recorded by SetError. It is meant to
// be deferred from main.
func HandleErrors() {
	if errorStatusMessage == nil {
		return
	}
	os.Exit(errorStatusCode)
}

// setError logs err and records the matching exit status. Malformed input
// exits with 2, everything else with 1.
func setError(err error) {
	log.Errorf("%v", err)
	if vconvert.IsFormatError(err) {
		SetError(err, 2)
	} else {
		SetError(err, 1)
	}
}

func isNotExist(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

func checkValidNewFileOutput(path string, force bool, dest, flag string) error {
	if !isNotExist(path) {
		if force {
			err := os.RemoveAll(path)
			if err != nil {
				return fmt.Errorf("failed to delete existing %s '%s': %w", dest, path, err)
			}

			dir := filepath.Dir(path)
			err = os.MkdirAll(dir, 0777)
			if err != nil {
				return fmt.Errorf("failed to create parent directory for %s '%s': %w", dest, path, err)
			}
		} else {
			return fmt.Errorf("%s '%s' already exists (you can use '%s' to force an overwrite)", dest, path, flag)
		}
	}

	return nil
}

const stdioPath = "-"

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// streamSize is the length of the stream at path when it can be known
// before reading it, and zero otherwise.
func streamSize(path string) int64 {
	if path == stdioPath || isGzip(path) {
		return 0
	}
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return 0
	}
	return fi.Size()
}

// closeAll closes every closer in order and returns the first error.
type closeAll []io.Closer

func (cs closeAll) Close() error {
	var first error
	for _, c := range cs {
		err := c.Close()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

type readCloser struct {
	io.Reader
	closeAll
}

type writeCloser struct {
	io.Writer
	closeAll
}

// openStream opens the rbd diff stream at path, decompressing it when the
// name ends in .gz. A path of "-" reads stdin.
func openStream(cmd *cobra.Command, path string) (io.ReadCloser, error) {

	var rc io.ReadCloser
	if path == stdioPath {
		rc = ioutil.NopCloser(cmd.InOrStdin())
	} else {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to resolve stream '%s'", path)
			}
			return nil, err
		}
		rc = f
	}

	if !isGzip(path) {
		return rc, nil
	}

	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("stream '%s' is not gzip compressed: %w", path, err)
	}

	return &readCloser{Reader: zr, closeAll: closeAll{zr, rc}}, nil
}

// createStream creates the rbd diff stream at path, compressing it when
// the name ends in .gz. A path of "-" writes to stdout.
func createStream(cmd *cobra.Command, path string, force bool) (io.WriteCloser, error) {

	var wc io.WriteCloser
	if path == stdioPath {
		wc = &writeCloser{Writer: cmd.OutOrStdout()}
	} else {
		err := checkValidNewFileOutput(path, force, "destination", "--force")
		if err != nil {
			return nil, err
		}

		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		wc = f
	}

	if !isGzip(path) {
		return wc, nil
	}

	zw := gzip.NewWriter(wc)

	return &writeCloser{Writer: zw, closeAll: closeAll{zw, wc}}, nil
}

// NumbersMode determines which numbers format a PrintableSize should render to.
var NumbersMode int

// SetNumbersMode parses s and sets NumbersMode accordingly.
func SetNumbersMode(s string) error {
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)
	switch s {
	case "", "short":
		NumbersMode = 0
	case "dec", "decimal":
		NumbersMode = 1
	case "hex", "hexadecimal":
		NumbersMode = 2
	default:
		return fmt.Errorf("numbers mode must be one of 'dec', 'hex', or 'short'")
	}
	return nil
}

// SetNumberModeFlagCMD : Will SetNumberMode to the value of the cmd flag 'numbers'
func SetNumberModeFlagCMD(cmd *cobra.Command) error {
	numbers, err := cmd.Flags().GetString("numbers")
	if err != nil {
		return err
	}

	err = SetNumbersMode(numbers)
	if err != nil {
		return fmt.Errorf("couldn't parse value of --numbers: %v", err)
	}

	return nil
}

// PrintableSize is a wrapper around int64 to alter its string formatting behaviour.
type PrintableSize int64

// String returns a string representation of the PrintableSize, formatted according to the global NumbersMode.
func (c PrintableSize) String() string {
	switch NumbersMode {
	case 0:
		x := int64(c)
		if x == 0 {
			return "0"
		}
		var units int
		var suffixes = []string{"", "K", "M", "G", "T"}
		for {
			if x%1024 != 0 {
				break
			}
			x /= 1024
			units++
			if units == len(suffixes)-1 {
				break
			}
		}
		return fmt.Sprintf("%d%s", x, suffixes[units])
	case 1:
		return fmt.Sprintf("%d", int64(c))
	case 2:
		return fmt.Sprintf("%#x", int64(c))
	default:
		panic("invalid NumbersMode")
	}
}

// PlainTable prints data in a grid, handling alignment automatically. The
// first row is the header.
func PlainTable(w io.Writer, vals [][]string) {
	if len(vals) == 0 {
		panic(errors.New("no rows provided"))
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(vals[0])
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for i := 1; i < len(vals); i++ {
		table.Append(vals[i])
	}

	table.Render()
}
