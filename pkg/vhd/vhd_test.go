package vhd

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {

	record := make([]byte, 16)
	for i := range record {
		record[i] = byte(i)
	}

	// 0+1+...+15 minus the bytes at 4..7
	assert.Equal(t, ^uint32(120-22), Checksum(record, 4))

	// the stored checksum field does not affect the result
	sum := Checksum(record, 4)
	binary.BigEndian.PutUint32(record[4:], sum)
	assert.Equal(t, sum, Checksum(record, 4))
	assert.True(t, VerifyChecksum(record, 4, sum))

	record[0] = 0xFF
	assert.False(t, VerifyChecksum(record, 4, sum))

}

func TestGeometry(t *testing.T) {

	cases := []struct {
		size int64
		geo  Geometry
	}{
		{size: 1 << 20, geo: Geometry{Cylinders: 30, Heads: 4, SectorsPerTrack: 17}},
		{size: 1 << 30, geo: Geometry{Cylinders: 2080, Heads: 16, SectorsPerTrack: 63}},
		{size: maxGeometrySectors * SectorSize, geo: Geometry{Cylinders: 65535, Heads: 16, SectorsPerTrack: 255}},
		{size: 4 << 40, geo: Geometry{Cylinders: 65535, Heads: 16, SectorsPerTrack: 255}},
	}

	for _, c := range cases {
		geo := CalculateGeometry(c.size)
		assert.Equal(t, c.geo, geo, "size %d", c.size)
		assert.Equal(t, geo, UnpackGeometry(geo.Pack()))
		assert.True(t, geo.Sectors() <= c.size/SectorSize)
	}

	assert.Equal(t, uint32(0x081F1011), Geometry{Cylinders: 0x081F, Heads: 0x10, SectorsPerTrack: 0x11}.Pack())

}

func TestFooter(t *testing.T) {

	id := uuid.New()
	ts := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

	f := NewFooter(&FooterArgs{
		DiskType:      DiskTypeDifferencing,
		Size:          4 << 20,
		UniqueID:      id,
		TimeStamp:     ts,
		CreatorHostOS: PlatformWi2k,
	})

	data := f.Encode()
	require.Len(t, data, FooterSize)
	assert.Equal(t, FooterCookie, string(data[:8]))
	assert.Equal(t, "vcli", string(data[28:32]))
	assert.Equal(t, uint64(FooterSize), binary.BigEndian.Uint64(data[16:]))
	assert.Equal(t, uint32(DiskTypeDifferencing), binary.BigEndian.Uint32(data[60:]))
	assert.Equal(t, f.Checksum, binary.BigEndian.Uint32(data[64:]))
	assert.Equal(t, id[:], data[68:84])
	assert.Equal(t, uint32(ts.Unix()-epochOffset), binary.BigEndian.Uint32(data[24:]))

	g, err := DecodeFooter(data)
	require.NoError(t, err)
	assert.Equal(t, f, g)
	assert.True(t, g.Sparse())

	_, err = DecodeFooter(data[:100])
	assertFormatError(t, err)

	bad := append([]byte{}, data...)
	bad[0] = 'x'
	_, err = DecodeFooter(bad)
	assertFormatError(t, err)

	bad = append([]byte{}, data...)
	bad[40]++
	_, err = DecodeFooter(bad)
	assertFormatError(t, err)

}

func TestHeader(t *testing.T) {

	parent := uuid.New()
	ts := time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)

	h := NewHeader(&HeaderArgs{
		Size:            5 << 20,
		TableOffset:     FooterSize + HeaderSize,
		ParentUniqueID:  parent,
		ParentTimeStamp: ts,
	})
	assert.Equal(t, uint32(3), h.MaxTableEntries)
	assert.Equal(t, int64(512), h.TableSize())
	assert.Equal(t, int64(512), h.BitmapSize())
	assert.Equal(t, int64(4096), h.SectorsPerBlock())

	data := h.Encode()
	require.Len(t, data, HeaderSize)
	assert.Equal(t, HeaderCookie, string(data[:8]))
	assert.Equal(t, uint64(NoDataOffset), binary.BigEndian.Uint64(data[8:]))
	assert.Equal(t, uint64(1536), binary.BigEndian.Uint64(data[16:]))
	assert.Equal(t, uint32(DefaultBlockSize), binary.BigEndian.Uint32(data[32:]))
	assert.Equal(t, parent[:], data[40:56])

	// UTF-16BE: the first character is preceded by a zero byte
	name := parent.String()
	assert.Equal(t, []byte{0, name[0], 0, name[1]}, data[64:68])

	g, err := DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, h, g)
	assert.Equal(t, name+".vhd", g.ParentUnicodeName)
	for _, l := range g.Locators {
		assert.True(t, l.IsZero())
	}

	bad := append([]byte{}, data...)
	bad[100]++
	_, err = DecodeHeader(bad)
	assertFormatError(t, err)

	_, err = DecodeHeader(data[:512])
	assertFormatError(t, err)

	// names longer than the 256 code unit field are cut
	h.ParentUnicodeName = strings.Repeat("a", 300)
	g, err = DecodeHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 256), g.ParentUnicodeName)

	// a surrogate pair straddling the end of the field is dropped whole
	h.ParentUnicodeName = strings.Repeat("b", 255) + "\U0001F600"
	data = h.Encode()
	assert.Equal(t, []byte{0, 0}, data[64+510:64+512])
	g, err = DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 255), g.ParentUnicodeName)

	h.ParentUnicodeName = strings.Repeat("c", 254) + "\U0001F600"
	g, err = DecodeHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h.ParentUnicodeName, g.ParentUnicodeName)

}

func TestParentLocator(t *testing.T) {

	l := &ParentLocator{
		PlatformCode:       PlatformW2ku,
		PlatformDataSpace:  1,
		PlatformDataLength: 80,
		PlatformDataOffset: 0x1000,
	}

	data := l.Encode()
	require.Len(t, data, LocatorSize)
	assert.Equal(t, []byte("W2ku"), data[:4])

	m, err := DecodeParentLocator(data)
	require.NoError(t, err)
	assert.Equal(t, l, m)
	assert.False(t, m.IsZero())

	_, err = DecodeParentLocator(data[:10])
	assertFormatError(t, err)

}

func TestBAT(t *testing.T) {

	bat := NewBAT(3)
	assert.Empty(t, bat.AllocatedBlocks())

	bat[2] = 4
	assert.True(t, bat.Allocated(2))
	assert.False(t, bat.Allocated(0))
	assert.Equal(t, int64(2048), bat.Offset(2))
	assert.Equal(t, []int64{2}, bat.AllocatedBlocks())

	data := bat.Encode()
	require.Len(t, data, SectorSize)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, data[:4])
	assert.Equal(t, []byte{0, 0, 0, 4}, data[8:12])
	assert.Equal(t, byte(0xFF), data[SectorSize-1])

}

func TestBitmap(t *testing.T) {

	bm := NewBitmap(DefaultBlockSize)
	require.Len(t, bm, 512)

	bm.Set(0)
	bm.Set(9)
	assert.Equal(t, byte(0x80), bm[0])
	assert.Equal(t, byte(0x40), bm[1])
	assert.True(t, bm.IsSet(9))
	assert.False(t, bm.IsSet(8))

	bm.SetRange(16, 23)
	assert.Equal(t, byte(0xFF), bm[2])
	assert.Equal(t, int64(10), bm.Count(4096))

	assert.Equal(t, int64(512), BitmapSize(4096))

}

func assertFormatError(t *testing.T, err error) {
	t.Helper()
	var ferr *FormatError
	assert.True(t, errors.As(err, &ferr), "expected format error, got %v", err)
}
