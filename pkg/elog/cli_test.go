package elog

import (
	"io/ioutil"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {

	log := &CLI{}

	entry := logrus.NewEntry(logrus.New())
	entry.Level = logrus.InfoLevel
	entry.Message = "converted"
	entry.Data = logrus.Fields{"blocks": 3, "bytes": 512}

	out, err := log.Format(entry)
	assert.NoError(t, err)
	assert.Equal(t, "converted blocks=3 bytes=512\n", string(out))

	entry.Level = logrus.WarnLevel
	entry.Data = nil
	out, err = log.Format(entry)
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(out), "converted\n"))
	assert.Contains(t, string(out), "WARN")

}

func TestNonInteractiveProgress(t *testing.T) {

	log := &CLI{DisableTTY: true}

	p := log.NewProgress("copying", "KiB", 1024)
	_, ok := p.(*nopProgress)
	assert.True(t, ok)

	p.Increment(4)

	r := p.ProxyReader(strings.NewReader("efgh"))
	data, err := ioutil.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "efgh", string(data))

	assert.Equal(t, int64(8), p.(*nopProgress).count)

	p.Finish(true)
	p.Finish(false)

}

func TestDiscard(t *testing.T) {

	Discard.Infof("nothing %d", 1)
	p := Discard.NewProgress("x", "", 0)
	p.Increment(10)
	p.Finish(true)

}
