package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/goslide/jpeg2000"
	"github.com/gracefulearth/image/tiff/lzw"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
)

var (
	zstdDecoder = must(zstd.NewReader(nil, zstd.WithDecoderConcurrency(0)))
	zstdEncoder = must(zstd.NewWriter(nil))
)

func must[T any](v T, err error) T {
	if err != nil {
		panic("tiff: " + err.Error())
	}
	return v
}

// Layout describes how the tiles of one directory are stored.
type Layout struct {
	TileHeight  int
	TileWidth   int
	Samples     int // samples of a decoded tile
	DType       goslide.DType
	Compression Compression
	Photometric Photometric
	Predictor   uint16
	Order       binary.ByteOrder
	JPEGTables  []byte
	HalfFloat   bool // samples stored as 16-bit floats and widened to F32
	Quality     int  // JPEG and JPEG2000 encoding quality
}

func (l Layout) TileShape() [3]int {
	return [3]int{l.TileHeight, l.TileWidth, l.Samples}
}

// storedItemSize is the number of bytes one sample occupies in an uncompressed tile.
func (l Layout) storedItemSize() int {
	if l.HalfFloat {
		return 2
	}
	return l.DType.ItemSize()
}

// CheckEncodable reports whether tiles of this layout can be written.
func (l Layout) CheckEncodable() error {
	switch l.Compression {
	case CompressionNone, CompressionLZW, CompressionDeflate, CompressionZstd:
		return nil
	case CompressionJPEG:
		if l.DType != goslide.U8 || (l.Samples != 1 && l.Samples != 3) {
			return goslide.UnsupportedError(fmt.Sprintf("jpeg tiles need 1 or 3 uint8 samples, not %d %s", l.Samples, l.DType))
		}
		return nil
	case CompressionJ2K:
		if l.DType != goslide.U8 && l.DType != goslide.U16 {
			return goslide.UnsupportedError("jpeg2000 tiles of " + l.DType.String() + " samples")
		}
		return nil
	default:
		return goslide.UnsupportedError("writing " + l.Compression.String() + " tiles")
	}
}

// Decode decompresses one raw tile. An empty tile decodes to zeros.
func (l Layout) Decode(raw []byte) (goslide.Buffer, error) {
	if len(raw) == 0 {
		return goslide.NewBuffer(l.DType, l.TileHeight, l.TileWidth, l.Samples)
	}
	switch l.Compression {
	case CompressionJPEG:
		return l.decodeJPEG(raw)
	case CompressionJ2K:
		return l.decodeJ2K(raw)
	}

	size := l.TileHeight * l.TileWidth * l.Samples * l.storedItemSize()
	data, err := l.inflate(raw, size)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, fmt.Errorf("%w: %s tile inflated to %d bytes, expected %d", goslide.ErrSizeMismatch, l.Compression, len(data), size)
	}
	data = data[:size]
	if l.HalfFloat {
		return l.widenHalf(data), nil
	}
	buf, err := goslide.BufferFromBytes(l.DType, l.TileShape(), data, l.Order)
	if err != nil {
		return nil, err
	}
	if l.Predictor == predictorHorizontal {
		err = goslide.Visit(buf, goslide.VisitFuncs{
			U8:  func(a *goslide.Array[uint8]) error { undoDifferencing(a); return nil },
			U16: func(a *goslide.Array[uint16]) error { undoDifferencing(a); return nil },
			U32: func(a *goslide.Array[uint32]) error { undoDifferencing(a); return nil },
		})
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (l Layout) inflate(raw []byte, size int) ([]byte, error) {
	switch l.Compression {
	case CompressionNone:
		return raw, nil
	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		out := make([]byte, size)
		n, err := io.ReadFull(r, out)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("tiff: lzw tile: %w", err)
		}
		return out[:n], nil
	case CompressionDeflate, CompressionDeflateOld:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("tiff: deflate tile: %w", err)
		}
		defer r.Close()
		out := make([]byte, size)
		n, err := io.ReadFull(r, out)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("tiff: deflate tile: %w", err)
		}
		return out[:n], nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(raw, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("tiff: zstd tile: %w", err)
		}
		return out, nil
	default:
		return nil, goslide.UnsupportedError("compression " + l.Compression.String())
	}
}

// undoDifferencing reverses horizontal predictor 2, sample by sample along each row.
func undoDifferencing[T uint8 | uint16 | uint32](a *goslide.Array[T]) {
	for y := range a.H {
		row := a.Row(y)
		for i := a.S; i < len(row); i++ {
			row[i] += row[i-a.S]
		}
	}
}

func (l Layout) widenHalf(data []byte) goslide.Buffer {
	out := goslide.NewArray[float32](l.TileHeight, l.TileWidth, l.Samples)
	for i := range out.Pix {
		out.Pix[i] = float16.Frombits(l.Order.Uint16(data[i*2:])).Float32()
	}
	return out
}

// decodeJPEG decodes a JPEG tile, first splicing in the directory's shared JPEGTables.
func (l Layout) decodeJPEG(raw []byte) (goslide.Buffer, error) {
	stream := raw
	if len(l.JPEGTables) > 4 && len(raw) > 2 {
		// tables end with EOI, the tile starts with SOI
		stream = make([]byte, 0, len(l.JPEGTables)+len(raw))
		stream = append(stream, l.JPEGTables[:len(l.JPEGTables)-2]...)
		stream = append(stream, raw[2:]...)
	}
	img, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("tiff: jpeg tile: %w", err)
	}
	if l.DType != goslide.U8 {
		return nil, fmt.Errorf("tiff: %w: jpeg tiles decode to uint8, not %s", goslide.ErrComponentDtypeMismatch, l.DType)
	}
	// Without an Adobe transform marker the decoder assumes YCbCr, but the components of an
	// RGB directory are stored untransformed.
	if ycc, ok := img.(*image.YCbCr); ok && l.Photometric == PhotometricRGB {
		return l.fromComponents(ycc)
	}
	return l.fromImage(img)
}

// fromComponents copies the three planes of ycc through as R, G and B.
func (l Layout) fromComponents(ycc *image.YCbCr) (goslide.Buffer, error) {
	b := ycc.Bounds()
	if b.Dy() != l.TileHeight || b.Dx() != l.TileWidth || l.Samples < 3 {
		return nil, goslide.SizeError{Want: l.TileShape(), Got: [3]int{b.Dy(), b.Dx(), 3}}
	}
	out := goslide.NewArray[uint8](l.TileHeight, l.TileWidth, l.Samples)
	for y := range l.TileHeight {
		for x := range l.TileWidth {
			yi := ycc.YOffset(b.Min.X+x, b.Min.Y+y)
			ci := ycc.COffset(b.Min.X+x, b.Min.Y+y)
			px := out.Pixel(y, x)
			px[0], px[1], px[2] = ycc.Y[yi], ycc.Cb[ci], ycc.Cr[ci]
			if l.Samples == 4 {
				px[3] = 0xFF
			}
		}
	}
	return out, nil
}

// toComponents stores the R, G and B samples of tile unchanged in the planes of a YCbCr
// image, so the encoder writes them without a colour transform.
func toComponents(tile *goslide.Array[uint8]) *image.YCbCr {
	ycc := image.NewYCbCr(image.Rect(0, 0, tile.W, tile.H), image.YCbCrSubsampleRatio444)
	for y := range tile.H {
		for x := range tile.W {
			px := tile.Pixel(y, x)
			i := ycc.YOffset(x, y)
			ycc.Y[i], ycc.Cb[i], ycc.Cr[i] = px[0], px[1], px[2]
		}
	}
	return ycc
}

func (l Layout) fromImage(img image.Image) (goslide.Buffer, error) {
	if b := img.Bounds(); b.Dy() != l.TileHeight || b.Dx() != l.TileWidth {
		return nil, goslide.SizeError{Want: l.TileShape(), Got: [3]int{b.Dy(), b.Dx(), l.Samples}}
	}
	return goslide.ImageToArray(img, l.Samples)
}

// decodeJ2K decodes an embedded JPEG2000 tile. Three component streams are given an opaque
// alpha channel when the directory is read as RGBA.
func (l Layout) decodeJ2K(raw []byte) (goslide.Buffer, error) {
	res, err := jpeg2000.Decode(raw)
	if err != nil {
		return nil, err
	}
	if res.DType != l.DType {
		return nil, fmt.Errorf("tiff: %w: jpeg2000 tile holds %s, directory declares %s", goslide.ErrComponentDtypeMismatch, res.DType, l.DType)
	}
	if res.Shape[0] != l.TileHeight || res.Shape[1] != l.TileWidth {
		return nil, goslide.SizeError{Want: l.TileShape(), Got: res.Shape}
	}
	buf, err := res.Buffer()
	if err != nil {
		return nil, err
	}
	if res.Shape[2] == l.Samples {
		return buf, nil
	}
	if res.Shape[2] != 3 || l.Samples != 4 || l.DType != goslide.U8 {
		return nil, goslide.SizeError{Want: l.TileShape(), Got: res.Shape}
	}
	rgb := buf.(*goslide.Array[uint8])
	rgba := goslide.NewArray[uint8](rgb.H, rgb.W, 4)
	for i := range rgb.H * rgb.W {
		copy(rgba.Pix[i*4:i*4+3], rgb.Pix[i*3:i*3+3])
		rgba.Pix[i*4+3] = 0xFF
	}
	return rgba, nil
}

// Encode compresses a full tile. The tile must match the layout's tile shape and dtype.
func (l Layout) Encode(tile goslide.Buffer) ([]byte, error) {
	if tile.DType() != l.DType {
		return nil, fmt.Errorf("tiff: %w: %s tile for a %s directory", goslide.ErrSizeMismatch, tile.DType(), l.DType)
	}
	if tile.Shape() != l.TileShape() {
		return nil, goslide.SizeError{Want: l.TileShape(), Got: tile.Shape()}
	}
	switch l.Compression {
	case CompressionNone:
		return tile.Bytes(l.Order), nil
	case CompressionLZW:
		return lzwEncode(tile.Bytes(l.Order)), nil
	case CompressionDeflate, CompressionDeflateOld:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(tile.Bytes(l.Order)); err != nil {
			zw.Close()
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(tile.Bytes(l.Order), nil), nil
	case CompressionJPEG:
		if err := l.CheckEncodable(); err != nil {
			return nil, err
		}
		var img image.Image
		if arr, ok := tile.(*goslide.Array[uint8]); ok && arr.S == 3 && l.Photometric == PhotometricRGB {
			img = toComponents(arr)
		} else {
			var err error
			if img, err = goslide.BufferAsImage(tile); err != nil {
				return nil, err
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: l.Quality}); err != nil {
			return nil, fmt.Errorf("tiff: jpeg tile: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionJ2K:
		if err := l.CheckEncodable(); err != nil {
			return nil, err
		}
		return jpeg2000.Encode(tile.Bytes(binary.LittleEndian), l.TileHeight, l.TileWidth, l.Samples, l.DType, l.Quality)
	default:
		return nil, goslide.UnsupportedError("writing " + l.Compression.String() + " tiles")
	}
}
