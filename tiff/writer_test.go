package tiff

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gracefulearth/goslide"
	gtiff "github.com/google/tiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		b.data = append(b.data, make([]byte, need-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		b.pos = int(offset)
	case 1:
		b.pos += int(offset)
	case 2:
		b.pos = len(b.data) + int(offset)
	}
	return int64(b.pos), nil
}

func TestWriterHeaderAndLinks(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{'I', 'I', 42, 0}, buf.data[:4])

	off, n, err := w.WriteTile([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), off)
	assert.Equal(t, uint64(3), n)

	d := Directory{Height: 1, Width: 1, Samples: 1, DType: goslide.U8, Photometric: PhotometricMinIsBlack, Compression: CompressionNone}
	require.NoError(t, w.WriteDirectory(&d))
	first := binary.LittleEndian.Uint32(buf.data[4:])
	assert.Equal(t, uint32(12), first, "directories start on a word boundary")

	d.Reduced = true
	require.NoError(t, w.WriteDirectory(&d))
	count := binary.LittleEndian.Uint16(buf.data[first:])
	second := binary.LittleEndian.Uint32(buf.data[int(first)+2+int(count)*12:])
	assert.Greater(t, second, first)
	assert.Zero(t, second%2)

	parsed, err := gtiff.Parse(bytes.NewReader(buf.data), nil, nil)
	require.NoError(t, err)
	require.Len(t, parsed.IFDs(), 2)
	dir, err := unmarshalDirectory(parsed.IFDs()[1])
	require.NoError(t, err)
	assert.Equal(t, uint32(subfileReduced), dir.SubfileType)
}

func TestWriterEntriesSorted(t *testing.T) {
	d := Directory{
		Height: 100, Width: 60, TileHeight: 32, TileWidth: 32, Samples: 3, DType: goslide.U16,
		Photometric: PhotometricRGB, Compression: CompressionZstd, Description: "test", Software: "goslide",
		Spacing: []float64{0.25, 0.25}, MinSampleValue: []float64{1, 2, 3}, MaxSampleValue: []float64{4, 5, 6},
		TileOffsets: make([]uint64, 8), TileByteCounts: make([]uint64, 8),
		extra: []entry{shortEntry(tagCompression, 1)},
	}
	list, err := d.entries()
	require.NoError(t, err)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].tag, list[i].tag)
	}
	for _, e := range list {
		if e.tag == tagCompression {
			assert.Equal(t, []byte{1, 0}, e.data)
		}
	}

	d.TileOffsets = d.TileOffsets[:7]
	_, err = d.entries()
	assert.ErrorIs(t, err, goslide.ErrUnsupportedFormat)

	d.TileOffsets = []uint64{math.MaxUint32 + 1, 0, 0, 0, 0, 0, 0, 0}
	_, err = d.entries()
	assert.ErrorIs(t, err, goslide.ErrUnsupportedFormat)
}

func TestWriterSampleTags(t *testing.T) {
	img := randomArray[float32](16, 16, 2)
	path := writeFile(t, img, testLayout(goslide.F32, 2, CompressionNone, 16), Directory{
		Photometric:    PhotometricMinIsBlack,
		MinSampleValue: []float64{-1.5, 0},
		MaxSampleValue: []float64{2, 65535},
	})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	parsed, err := gtiff.Parse(bytes.NewReader(data), nil, nil)
	require.NoError(t, err)
	ifd := parsed.IFDs()[0]

	assert.Equal(t, []float64{-1.5, 0}, numbers(ifd, tagSMinSampleValue, binary.LittleEndian))
	assert.Equal(t, []float64{2, 65535}, numbers(ifd, tagSMaxSampleValue, binary.LittleEndian))
	assert.Equal(t, []float64{32, 32}, numbers(ifd, tagBitsPerSample, binary.LittleEndian))
	assert.Equal(t, []float64{sampleFormatFloat, sampleFormatFloat}, numbers(ifd, tagSampleFormat, binary.LittleEndian))
	assert.Nil(t, numbers(ifd, tagXResolution, binary.LittleEndian))
}

func TestWriterLimit(t *testing.T) {
	w, err := NewWriter(&seekBuffer{})
	require.NoError(t, err)
	w.end = math.MaxUint32 - 4
	_, _, err = w.WriteTile(make([]byte, 10))
	assert.ErrorIs(t, err, goslide.ErrUnsupportedFormat)
}

func TestCreateFails(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "out.tif"))
	assert.ErrorIs(t, err, goslide.ErrOpenFailure)
}

func TestToRational(t *testing.T) {
	cases := []struct {
		v        float64
		num, den uint32
	}{
		{40000, 4000000000, 100000},
		{0.5, 500000, 1000000},
		{20039.28, 2003928000, 100000},
		{0, 0, 1},
		{-3, 0, 1},
		{1e12, math.MaxUint32, 1},
	}
	for _, tc := range cases {
		num, den := toRational(tc.v)
		assert.Equal(t, tc.num, num, "%v", tc.v)
		assert.Equal(t, tc.den, den, "%v", tc.v)
	}
}

func TestDescriptionMPP(t *testing.T) {
	mpp, ok := descriptionMPP("Aperio Image Library v10.0.51\r\n|AppMag = 40|MPP = 0.2520|Left = 25.1")
	assert.True(t, ok)
	assert.Equal(t, 0.252, mpp)
	_, ok = descriptionMPP("Aperio Image Library|MPP = n/a")
	assert.False(t, ok)
	_, ok = descriptionMPP("plain")
	assert.False(t, ok)
}
