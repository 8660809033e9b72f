package tiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand/v2"
	"testing"

	"github.com/gracefulearth/goslide"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func randomArray[T goslide.Sample](h, w, s int) *goslide.Array[T] {
	arr := goslide.NewArray[T](h, w, s)
	for i := range arr.Pix {
		arr.Pix[i] = T(rand.IntN(1 << 16))
	}
	return arr
}

func smoothArray(h, w, s int) *goslide.Array[uint8] {
	arr := goslide.NewArray[uint8](h, w, s)
	for y := range h {
		for x := range w {
			for c := range s {
				arr.Set(y, x, c, uint8((x*2+y)/2+c*40))
			}
		}
	}
	return arr
}

func testLayout(dtype goslide.DType, samples int, comp Compression, tile int) Layout {
	photometric := PhotometricMinIsBlack
	if samples >= 3 {
		photometric = PhotometricRGB
	}
	return Layout{
		TileHeight:  tile,
		TileWidth:   tile,
		Samples:     samples,
		DType:       dtype,
		Compression: comp,
		Photometric: photometric,
		Predictor:   predictorNone,
		Order:       binary.LittleEndian,
		Quality:     90,
	}
}

func layoutRoundTrip[T goslide.Sample](t *testing.T, comp Compression) {
	t.Helper()
	tile := randomArray[T](64, 64, 3)
	l := testLayout(tile.DType(), 3, comp, 64)
	raw, err := l.Encode(tile)
	require.NoError(t, err)
	back, err := l.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, tile, back, "%s %s", comp, tile.DType())
}

func TestLayoutLosslessRoundTrip(t *testing.T) {
	for _, comp := range []Compression{CompressionNone, CompressionLZW, CompressionDeflate, CompressionZstd} {
		layoutRoundTrip[uint8](t, comp)
		layoutRoundTrip[uint16](t, comp)
		layoutRoundTrip[uint32](t, comp)
		layoutRoundTrip[float32](t, comp)
	}
}

func TestLayoutBigEndian(t *testing.T) {
	tile := randomArray[uint16](32, 32, 1)
	l := testLayout(goslide.U16, 1, CompressionNone, 32)
	l.Order = binary.BigEndian
	raw, err := l.Encode(tile)
	require.NoError(t, err)
	assert.Equal(t, tile.Pix[0], binary.BigEndian.Uint16(raw))
	back, err := l.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, tile, back)
}

func TestLayoutEmptyTileIsZero(t *testing.T) {
	l := testLayout(goslide.U16, 3, CompressionLZW, 16)
	tile, err := l.Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, goslide.NewArray[uint16](16, 16, 3), tile)
}

func TestLayoutShortTile(t *testing.T) {
	l := testLayout(goslide.U8, 1, CompressionNone, 16)
	_, err := l.Decode(make([]byte, 100))
	assert.ErrorIs(t, err, goslide.ErrSizeMismatch)
}

func TestLayoutPredictor(t *testing.T) {
	tile := randomArray[uint16](8, 8, 3)
	diff := tile.Clone()
	for y := range diff.H {
		row, orig := diff.Row(y), tile.Row(y)
		for i := diff.S; i < len(row); i++ {
			row[i] = orig[i] - orig[i-diff.S]
		}
	}
	l := testLayout(goslide.U16, 3, CompressionDeflate, 8)
	raw, err := l.Encode(diff)
	require.NoError(t, err)

	l.Predictor = predictorHorizontal
	back, err := l.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, tile, back)
}

func TestLayoutHalfFloat(t *testing.T) {
	values := []float32{0, 1, -2.5, 0.125, 65504, 3.140625}
	raw := make([]byte, 0, len(values)*2)
	for _, v := range values {
		raw = binary.LittleEndian.AppendUint16(raw, float16.Fromfloat32(v).Bits())
	}
	l := Layout{TileHeight: 2, TileWidth: 3, Samples: 1, DType: goslide.F32, Compression: CompressionNone, Order: binary.LittleEndian, HalfFloat: true}
	back, err := l.Decode(raw)
	require.NoError(t, err)
	arr, err := goslide.AsArray[float32](back)
	require.NoError(t, err)
	assert.Equal(t, values, arr.Pix)
}

func meanError(a, b []uint8) float64 {
	var total int
	for i := range a {
		d := int(a[i]) - int(b[i])
		total += max(d, -d)
	}
	return float64(total) / float64(len(a))
}

func TestLayoutJPEG(t *testing.T) {
	for _, samples := range []int{1, 3} {
		tile := smoothArray(64, 64, samples)
		l := testLayout(goslide.U8, samples, CompressionJPEG, 64)
		raw, err := l.Encode(tile)
		require.NoError(t, err)
		back, err := l.Decode(raw)
		require.NoError(t, err)
		arr, err := goslide.AsArray[uint8](back)
		require.NoError(t, err)
		assert.Equal(t, tile.Shape(), arr.Shape())
		assert.Less(t, meanError(tile.Pix, arr.Pix), 4.0, "%d samples", samples)
	}
}

func TestLayoutJPEGTables(t *testing.T) {
	tile := smoothArray(16, 16, 3)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, mustImage(t, tile), &jpeg.Options{Quality: 95}))

	// a table stream holding only a comment still has to be spliced in front of the tile
	l := testLayout(goslide.U8, 3, CompressionJPEG, 16)
	l.Photometric = PhotometricYCbCr
	l.JPEGTables = []byte{0xFF, 0xD8, 0xFF, 0xFE, 0x00, 0x04, 'h', 'i', 0xFF, 0xD9}
	back, err := l.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Less(t, meanError(tile.Pix, back.(*goslide.Array[uint8]).Pix), 4.0)

	l.TileWidth = 32
	_, err = l.Decode(buf.Bytes())
	assert.ErrorIs(t, err, goslide.ErrSizeMismatch)
}

func TestLayoutJPEGComponents(t *testing.T) {
	// planes holding (200, 30, 60) without any colour transform, as libtiff writes rgb tiles
	ycc := image.NewYCbCr(image.Rect(0, 0, 16, 16), image.YCbCrSubsampleRatio444)
	for i := range ycc.Y {
		ycc.Y[i], ycc.Cb[i], ycc.Cr[i] = 200, 30, 60
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, ycc, &jpeg.Options{Quality: 100}))

	l := testLayout(goslide.U8, 3, CompressionJPEG, 16)
	back, err := l.Decode(buf.Bytes())
	require.NoError(t, err)
	px := back.(*goslide.Array[uint8]).Pixel(7, 9)
	assert.InDelta(t, 200, int(px[0]), 2)
	assert.InDelta(t, 30, int(px[1]), 2)
	assert.InDelta(t, 60, int(px[2]), 2)

	// the same stream in a ycbcr directory is colour converted
	l.Photometric = PhotometricYCbCr
	l.Samples = 4
	back, err = l.Decode(buf.Bytes())
	require.NoError(t, err)
	r, g, b := color.YCbCrToRGB(200, 30, 60)
	px = back.(*goslide.Array[uint8]).Pixel(7, 9)
	assert.InDelta(t, int(r), int(px[0]), 3)
	assert.InDelta(t, int(g), int(px[1]), 3)
	assert.InDelta(t, int(b), int(px[2]), 3)
	assert.Equal(t, uint8(0xFF), px[3])

	// rgb tiles are encoded untransformed
	red := goslide.NewArray[uint8](16, 16, 3)
	for i := 0; i < len(red.Pix); i += 3 {
		red.Pix[i] = 255
	}
	l = testLayout(goslide.U8, 3, CompressionJPEG, 16)
	raw, err := l.Encode(red)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	planes := img.(*image.YCbCr)
	assert.InDelta(t, 255, int(planes.Y[0]), 2)
	assert.InDelta(t, 0, int(planes.Cb[0]), 2)
	assert.InDelta(t, 0, int(planes.Cr[0]), 2)
}

func TestZstdCodersReady(t *testing.T) {
	assert.NotNil(t, zstdDecoder)
	assert.NotNil(t, zstdEncoder)
	assert.Panics(t, func() { must(0, errors.New("no encoder")) })
}

func mustImage(t *testing.T, buf goslide.Buffer) image.Image {
	t.Helper()
	img, err := goslide.BufferAsImage(buf)
	require.NoError(t, err)
	return img
}

func TestLayoutJ2K(t *testing.T) {
	tile := smoothArray(32, 32, 3)
	l := testLayout(goslide.U8, 3, CompressionJ2K, 32)
	l.Quality = 100
	raw, err := l.Encode(tile)
	require.NoError(t, err)
	back, err := l.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, tile, back)

	// three component streams gain an opaque alpha channel in four sample directories
	l.Samples = 4
	back, err = l.Decode(raw)
	require.NoError(t, err)
	rgba := back.(*goslide.Array[uint8])
	assert.Equal(t, [3]int{32, 32, 4}, rgba.Shape())
	assert.Equal(t, tile.Pixel(5, 7), rgba.Pixel(5, 7)[:3])
	assert.Equal(t, uint8(0xFF), rgba.At(5, 7, 3))

	l.DType = goslide.U16
	_, err = l.Decode(raw)
	assert.ErrorIs(t, err, goslide.ErrComponentDtypeMismatch)
}

func TestLayoutEncodeRejects(t *testing.T) {
	l := testLayout(goslide.U8, 3, CompressionLZW, 16)
	_, err := l.Encode(goslide.NewArray[uint8](8, 16, 3))
	assert.ErrorIs(t, err, goslide.ErrSizeMismatch)
	_, err = l.Encode(goslide.NewArray[uint16](16, 16, 3))
	assert.ErrorIs(t, err, goslide.ErrSizeMismatch)

	jpg := testLayout(goslide.U16, 3, CompressionJPEG, 16)
	_, err = jpg.Encode(goslide.NewArray[uint16](16, 16, 3))
	assert.ErrorIs(t, err, goslide.ErrUnsupportedCodec)
	jpg = testLayout(goslide.U8, 4, CompressionJPEG, 16)
	assert.ErrorIs(t, jpg.CheckEncodable(), goslide.ErrUnsupportedCodec)

	j2k := testLayout(goslide.F32, 1, CompressionJ2K, 16)
	assert.ErrorIs(t, j2k.CheckEncodable(), goslide.ErrUnsupportedCodec)
	assert.NoError(t, testLayout(goslide.U16, 1, CompressionJ2K, 16).CheckEncodable())

	ycbcr := testLayout(goslide.U8, 3, CompressionJ2KYCbCr, 16)
	assert.ErrorIs(t, ycbcr.CheckEncodable(), goslide.ErrUnsupportedCodec)
	_, err = ycbcr.Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, goslide.ErrUnsupportedCodec)
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{
		"none": CompressionNone, "LZW": CompressionLZW, "jpg": CompressionJPEG,
		"zlib": CompressionDeflate, "j2k": CompressionJ2K, "zstd": CompressionZstd,
	} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		back, err := ParseCompression(got.String())
		require.NoError(t, err)
		assert.Equal(t, want, back)
	}
	_, err := ParseCompression("webp")
	assert.ErrorIs(t, err, goslide.ErrUnsupportedCodec)
}
