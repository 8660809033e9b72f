package tiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/gracefulearth/goslide"
)

// Directory describes one image written by a Writer. Tile offsets and byte counts are the
// values returned by WriteTile, in row-major tile order.
type Directory struct {
	Reduced        bool // NewSubfileType reduced-resolution flag
	Height         int
	Width          int
	TileHeight     int // zero omits the tile tags
	TileWidth      int
	Samples        int
	DType          goslide.DType
	Photometric    Photometric
	ExtraSamples   []uint16
	YCbCrSubsample []uint16 // horizontal and vertical chroma subsampling of ycbcr directories
	Compression    Compression
	Description    string
	Software       string
	Spacing        []float64 // micrometres per pixel (y, x), written in pixels per centimetre
	MinSampleValue []float64
	MaxSampleValue []float64
	TileOffsets    []uint64
	TileByteCounts []uint64

	extra []entry // replaces generated entries with the same tag
}

type entry struct {
	tag   uint16
	kind  uint16
	count uint32
	data  []byte // little-endian value bytes
}

func shortEntry(tag uint16, values ...uint16) entry {
	data := make([]byte, 0, len(values)*2)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint16(data, v)
	}
	return entry{tag: tag, kind: typeShort, count: uint32(len(values)), data: data}
}

func longEntry(tag uint16, values ...uint32) entry {
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, v)
	}
	return entry{tag: tag, kind: typeLong, count: uint32(len(values)), data: data}
}

func asciiEntry(tag uint16, s string) entry {
	data := append([]byte(s), 0)
	return entry{tag: tag, kind: typeASCII, count: uint32(len(data)), data: data}
}

func rationalEntry(tag uint16, v float64) entry {
	num, den := toRational(v)
	data := binary.LittleEndian.AppendUint32(nil, num)
	data = binary.LittleEndian.AppendUint32(data, den)
	return entry{tag: tag, kind: typeRational, count: 1, data: data}
}

func doubleEntry(tag uint16, values []float64) entry {
	data := make([]byte, 0, len(values)*8)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return entry{tag: tag, kind: typeDouble, count: uint32(len(values)), data: data}
}

// toRational approximates v with the largest power of ten denominator, up to a million, that
// keeps the numerator in range.
func toRational(v float64) (num, den uint32) {
	if v <= 0 || math.IsNaN(v) {
		return 0, 1
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32, 1
	}
	den = 1
	for den < 1e6 && v*float64(den)*10 <= math.MaxUint32 {
		den *= 10
	}
	return uint32(math.Round(v * float64(den))), den
}

func (d *Directory) entries() ([]entry, error) {
	if d.Height <= 0 || d.Width <= 0 || d.Samples <= 0 {
		return nil, goslide.FormatError(fmt.Sprintf("directory of shape (%d, %d, %d)", d.Height, d.Width, d.Samples))
	}
	format := uint16(sampleFormatUint)
	if d.DType.IsFloat() {
		format = sampleFormatFloat
	}
	bits := make([]uint16, d.Samples)
	formats := make([]uint16, d.Samples)
	for i := range bits {
		bits[i] = uint16(d.DType.Bits())
		formats[i] = format
	}
	subfile := uint32(0)
	if d.Reduced {
		subfile = subfileReduced
	}

	list := []entry{
		longEntry(tagNewSubfileType, subfile),
		longEntry(tagImageWidth, uint32(d.Width)),
		longEntry(tagImageLength, uint32(d.Height)),
		shortEntry(tagBitsPerSample, bits...),
		shortEntry(tagCompression, uint16(d.Compression)),
		shortEntry(tagPhotometric, uint16(d.Photometric)),
		shortEntry(tagSamplesPerPixel, uint16(d.Samples)),
		shortEntry(tagPlanarConfiguration, planarContiguous),
		shortEntry(tagSampleFormat, formats...),
	}
	if d.Description != "" {
		list = append(list, asciiEntry(tagImageDescription, d.Description))
	}
	if d.Software != "" {
		list = append(list, asciiEntry(tagSoftware, d.Software))
	}
	if len(d.Spacing) == 2 && d.Spacing[0] > 0 && d.Spacing[1] > 0 {
		list = append(list,
			rationalEntry(tagXResolution, 1/d.Spacing[1]*10000),
			rationalEntry(tagYResolution, 1/d.Spacing[0]*10000),
			shortEntry(tagResolutionUnit, resolutionCm),
		)
	}
	if d.TileWidth > 0 {
		tiles := ((d.Height + d.TileHeight - 1) / d.TileHeight) * ((d.Width + d.TileWidth - 1) / d.TileWidth)
		if len(d.TileOffsets) != tiles || len(d.TileByteCounts) != tiles {
			return nil, goslide.FormatError(fmt.Sprintf("%d tile offsets and %d byte counts for %d tiles", len(d.TileOffsets), len(d.TileByteCounts), tiles))
		}
		offsets := make([]uint32, tiles)
		counts := make([]uint32, tiles)
		for i := range tiles {
			if d.TileOffsets[i] > math.MaxUint32 || d.TileByteCounts[i] > math.MaxUint32 {
				return nil, goslide.FormatError("tile offset past 4 GiB")
			}
			offsets[i], counts[i] = uint32(d.TileOffsets[i]), uint32(d.TileByteCounts[i])
		}
		list = append(list,
			longEntry(tagTileWidth, uint32(d.TileWidth)),
			longEntry(tagTileLength, uint32(d.TileHeight)),
			longEntry(tagTileOffsets, offsets...),
			longEntry(tagTileByteCounts, counts...),
		)
	}
	if len(d.ExtraSamples) > 0 {
		list = append(list, shortEntry(tagExtraSamples, d.ExtraSamples...))
	}
	if len(d.YCbCrSubsample) > 0 {
		list = append(list, shortEntry(tagYCbCrSubSampling, d.YCbCrSubsample...))
	}
	if len(d.MinSampleValue) > 0 {
		list = append(list, doubleEntry(tagSMinSampleValue, d.MinSampleValue))
	}
	if len(d.MaxSampleValue) > 0 {
		list = append(list, doubleEntry(tagSMaxSampleValue, d.MaxSampleValue))
	}

	for _, e := range d.extra {
		list = slices.DeleteFunc(list, func(o entry) bool { return o.tag == e.tag })
		list = append(list, e)
	}
	slices.SortFunc(list, func(a, b entry) int { return int(a.tag) - int(b.tag) })
	return list, nil
}

// Writer appends tiles and directories to a little-endian classic TIFF file. Tiles are written
// first; each directory then references them and is linked after the previous one.
type Writer struct {
	w      io.WriteSeeker
	closer io.Closer
	end    int64 // offset of the next append
	link   int64 // offset of the next-IFD pointer to patch
	err    error
}

// Create creates or truncates the file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, goslide.OpenError{Path: path, Err: err}
	}
	w, err := NewWriter(f)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	w.closer = f
	return w, nil
}

func NewWriter(w io.WriteSeeker) (*Writer, error) {
	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &Writer{w: w, end: int64(len(header)), link: 4}, nil
}

func (w *Writer) writeAt(offset int64, data []byte) error {
	if w.err != nil {
		return w.err
	}
	if _, err := w.w.Seek(offset, io.SeekStart); err != nil {
		w.err = err
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		w.err = err
		return err
	}
	return nil
}

// WriteTile appends the compressed bytes of one tile and returns where they landed.
func (w *Writer) WriteTile(data []byte) (offset, count uint64, err error) {
	if w.end+int64(len(data)) > math.MaxUint32 {
		return 0, 0, goslide.FormatError("file would exceed 4 GiB")
	}
	offset = uint64(w.end)
	if err := w.writeAt(w.end, data); err != nil {
		return 0, 0, err
	}
	w.end += int64(len(data))
	return offset, uint64(len(data)), nil
}

// WriteDirectory appends d and links it from the previously written directory.
func (w *Writer) WriteDirectory(d *Directory) error {
	list, err := d.entries()
	if err != nil {
		return err
	}
	start := w.end + w.end%2
	size := int64(2 + len(list)*12 + 4)
	extra := start + size

	var ifd, values bytes.Buffer
	ifd.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(list))))
	for _, e := range list {
		ifd.Write(binary.LittleEndian.AppendUint16(nil, e.tag))
		ifd.Write(binary.LittleEndian.AppendUint16(nil, e.kind))
		ifd.Write(binary.LittleEndian.AppendUint32(nil, e.count))
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			ifd.Write(inline[:])
			continue
		}
		at := extra + int64(values.Len())
		ifd.Write(binary.LittleEndian.AppendUint32(nil, uint32(at)))
		values.Write(e.data)
		if values.Len()%2 == 1 {
			values.WriteByte(0)
		}
	}
	ifd.Write([]byte{0, 0, 0, 0})

	if extra+int64(values.Len()) > math.MaxUint32 {
		return goslide.FormatError("file would exceed 4 GiB")
	}
	block := make([]byte, 0, int64(ifd.Len()+values.Len())+start-w.end)
	block = append(block, make([]byte, start-w.end)...)
	block = append(block, ifd.Bytes()...)
	block = append(block, values.Bytes()...)
	if err := w.writeAt(w.end, block); err != nil {
		return err
	}
	if err := w.writeAt(w.link, binary.LittleEndian.AppendUint32(nil, uint32(start))); err != nil {
		return err
	}
	w.link = start + size - 4
	w.end = extra + int64(values.Len())
	return nil
}

// Close closes the underlying file when the writer was made by Create.
func (w *Writer) Close() error {
	if w.closer == nil {
		return w.err
	}
	err := w.closer.Close()
	w.closer = nil
	return errors.Join(w.err, err)
}
