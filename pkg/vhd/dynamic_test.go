package vhd

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T) *os.File {
	f, err := ioutil.TempFile("", "vhd-*.vhd")
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
		os.Remove(f.Name())
	})
	return f
}

func TestDifferencingWriter(t *testing.T) {

	f := tempFile(t)

	id := uuid.New()
	parent := uuid.New()

	w, err := NewDifferencingWriter(f, &DifferencingArgs{
		Size:           16 * DefaultBlockSize,
		UniqueID:       id,
		ParentUniqueID: parent,
	})
	require.NoError(t, err)

	span := int64(SectorSize + DefaultBlockSize)
	start := int64(FooterSize + HeaderSize + SectorSize)

	// blocks are laid out in the order they are first touched
	for _, block := range []int64{5, 2, 5, 7} {
		_, err = w.WriteAt(bytes.Repeat([]byte{byte(block)}, SectorSize), block*DefaultBlockSize+SectorSize)
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{5, 2, 7}, w.Allocations())
	assert.Equal(t, int64(3), w.Blocks())
	assert.Equal(t, start, w.BlockOffset(5))
	assert.Equal(t, start+span, w.BlockOffset(2))
	assert.Equal(t, start+2*span, w.BlockOffset(7))
	assert.Equal(t, int64(-1), w.BlockOffset(0))
	assert.True(t, w.Bitmap(5).IsSet(1))
	assert.False(t, w.Bitmap(5).IsSet(0))
	assert.Nil(t, w.Bitmap(0))

	// a range crossing a block boundary allocates both blocks
	err = w.ZeroAt(9*DefaultBlockSize-SectorSize, 2*SectorSize)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 2, 7, 8, 9}, w.Allocations())

	_, err = w.WriteAt(make([]byte, SectorSize), 16*DefaultBlockSize)
	assert.Equal(t, ErrOutOfRange, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	fi, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, start+5*span+FooterSize, fi.Size())

	d, err := Open(f)
	require.NoError(t, err)
	assert.Equal(t, id, d.Footer.UniqueID)
	assert.Equal(t, parent, d.Header.ParentUniqueID)
	assert.Equal(t, int64(16*DefaultBlockSize), d.Size())
	assert.Equal(t, []int64{2, 5, 7, 8, 9}, d.BAT.AllocatedBlocks())
	assert.Equal(t, uint32(start/SectorSize), d.BAT[5])

	bm, err := d.ReadBitmap(8)
	require.NoError(t, err)
	assert.True(t, bm.IsSet(d.SectorsPerBlock()-1))
	assert.Equal(t, int64(1), bm.Count(d.SectorsPerBlock()))

	buf := new(bytes.Buffer)
	n, err := d.CopySectors(buf, 2, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(SectorSize), n)
	assert.Equal(t, bytes.Repeat([]byte{2}, SectorSize), buf.Bytes())

	_, err = d.CopySectors(buf, 0, 0, 1)
	assert.Error(t, err)

}

func TestCursorWrites(t *testing.T) {

	f := tempFile(t)

	w, err := NewDifferencingWriter(f, &DifferencingArgs{Size: 4 << 20})
	require.NoError(t, err)

	_, err = w.Seek(-SectorSize, io.SeekEnd)
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte{0xEE}, SectorSize))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	d, err := Open(f)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, d.BAT.AllocatedBlocks())

	bm, err := d.ReadBitmap(1)
	require.NoError(t, err)
	assert.True(t, bm.IsSet(d.SectorsPerBlock()-1))

}

func TestInvalidSize(t *testing.T) {

	f := tempFile(t)

	_, err := NewDifferencingWriter(f, &DifferencingArgs{Size: 0})
	assertFormatError(t, err)

	_, err = NewDifferencingWriter(f, &DifferencingArgs{Size: 4 << 40})
	assertFormatError(t, err)

}

func TestOpenRejectsDamage(t *testing.T) {

	f := tempFile(t)

	w, err := NewDifferencingWriter(f, &DifferencingArgs{Size: 4 << 20})
	require.NoError(t, err)
	_, err = w.WriteAt(make([]byte, SectorSize), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	original, err := ioutil.ReadFile(f.Name())
	require.NoError(t, err)

	damage := func(fn func(data []byte) []byte) error {
		data := fn(append([]byte{}, original...))
		_, err := Open(bytes.NewReader(data))
		return err
	}

	require.NoError(t, damage(func(data []byte) []byte { return data }))

	// leading and trailing footers disagree
	assertFormatError(t, damage(func(data []byte) []byte {
		data[len(data)-1] = 1
		return data
	}))

	// footer checksum
	assertFormatError(t, damage(func(data []byte) []byte {
		data[40]++
		tail := data[len(data)-FooterSize:]
		tail[40]++
		return data
	}))

	// header checksum
	assertFormatError(t, damage(func(data []byte) []byte {
		data[FooterSize+100]++
		return data
	}))

	// block pointer past the end of the file
	assertFormatError(t, damage(func(data []byte) []byte {
		copy(data[FooterSize+HeaderSize:], []byte{0, 0, 0x10, 0})
		return data
	}))

	// truncated file
	assertFormatError(t, damage(func(data []byte) []byte {
		return data[:1000]
	}))

	// header offsets that do not fit a signed file offset
	assertFormatError(t, damage(func(data []byte) []byte {
		ft, err := DecodeFooter(data[:FooterSize])
		require.NoError(t, err)
		ft.DataOffset = 1 << 63
		raw := ft.Encode()
		copy(data, raw)
		copy(data[len(data)-FooterSize:], raw)
		return data
	}))

	assertFormatError(t, damage(func(data []byte) []byte {
		hd, err := DecodeHeader(data[FooterSize : FooterSize+HeaderSize])
		require.NoError(t, err)
		hd.TableOffset = 1 << 63
		copy(data[FooterSize:], hd.Encode())
		return data
	}))

}

func utf16le(s string) []byte {
	var b []byte
	for _, r := range s {
		b = append(b, byte(r), 0)
	}
	return b
}

func TestBatmapAndLocators(t *testing.T) {

	f := tempFile(t)

	w, err := NewDifferencingWriter(f, &DifferencingArgs{Size: 4 << 20})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	original, err := ioutil.ReadFile(f.Name())
	require.NoError(t, err)
	require.Len(t, original, 2560)

	disk, err := Open(bytes.NewReader(original))
	require.NoError(t, err)
	bm, err := disk.ReadBatmap()
	require.NoError(t, err)
	assert.Nil(t, bm)

	// splice a sector holding a batmap header and two locator payloads
	// between the BAT and the trailing footer
	extra := make([]byte, SectorSize)
	copy(extra, BatmapCookie)
	binary.BigEndian.PutUint64(extra[8:], 0x1000)
	binary.BigEndian.PutUint32(extra[16:], 1)
	binary.BigEndian.PutUint32(extra[20:], 0x00010002)
	binary.BigEndian.PutUint32(extra[24:], 0xdeadbeef)
	extra[28] = 1

	winPath := utf16le(`.\parent.vhd`)
	macPath := []byte("file://./parent.vhd")
	copy(extra[256:], winPath)
	copy(extra[384:], macPath)

	data := append(append(append([]byte{}, original[:2048]...), extra...), original[2048:]...)

	hd, err := DecodeHeader(data[FooterSize : FooterSize+HeaderSize])
	require.NoError(t, err)
	hd.Locators[0] = ParentLocator{
		PlatformCode:       PlatformW2ku,
		PlatformDataSpace:  1,
		PlatformDataLength: uint32(len(winPath)),
		PlatformDataOffset: 2048 + 256,
	}
	hd.Locators[1] = ParentLocator{
		PlatformCode:       PlatformMacX,
		PlatformDataSpace:  1,
		PlatformDataLength: uint32(len(macPath)),
		PlatformDataOffset: 2048 + 384,
	}
	copy(data[FooterSize:], hd.Encode())

	disk, err = Open(bytes.NewReader(data))
	require.NoError(t, err)

	bm, err = disk.ReadBatmap()
	require.NoError(t, err)
	require.NotNil(t, bm)
	assert.Equal(t, &BatmapHeader{
		Offset:   0x1000,
		Size:     1,
		Version:  0x00010002,
		Checksum: 0xdeadbeef,
		Marker:   1,
	}, bm)

	payload, err := disk.ReadLocatorData(disk.Header.Locators[0])
	require.NoError(t, err)
	path, err := disk.Header.Locators[0].Path(payload)
	require.NoError(t, err)
	assert.Equal(t, `.\parent.vhd`, path)

	payload, err = disk.ReadLocatorData(disk.Header.Locators[1])
	require.NoError(t, err)
	path, err = disk.Header.Locators[1].Path(payload)
	require.NoError(t, err)
	assert.Equal(t, "file://./parent.vhd", path)

	_, err = disk.ReadLocatorData(ParentLocator{
		PlatformCode:       PlatformMacX,
		PlatformDataLength: 100,
		PlatformDataOffset: 3000,
	})
	assertFormatError(t, err)

	_, err = DecodeBatmapHeader(extra[1:])
	assertFormatError(t, err)

}
