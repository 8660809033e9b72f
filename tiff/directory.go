package tiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gracefulearth/goslide"
	gtiff "github.com/google/tiff"
)

// directory holds the fields of one IFD that describe a tiled image.
type directory struct {
	SubfileType         uint32   `tiff:"field,tag=254"`
	ImageWidth          uint64   `tiff:"field,tag=256"`
	ImageHeight         uint64   `tiff:"field,tag=257"`
	BitsPerSample       []uint16 `tiff:"field,tag=258"`
	Compression         uint16   `tiff:"field,tag=259"`
	Photometric         uint16   `tiff:"field,tag=262"`
	Description         string   `tiff:"field,tag=270"`
	SamplesPerPixel     uint16   `tiff:"field,tag=277"`
	PlanarConfiguration uint16   `tiff:"field,tag=284"`
	ResolutionUnit      uint16   `tiff:"field,tag=296"`
	Predictor           uint16   `tiff:"field,tag=317"`
	TileWidth           uint32   `tiff:"field,tag=322"`
	TileHeight          uint32   `tiff:"field,tag=323"`
	TileOffsets         []uint64 `tiff:"field,tag=324"`
	TileByteCounts      []uint64 `tiff:"field,tag=325"`
	SampleFormat        []uint16 `tiff:"field,tag=339"`
	JPEGTables          []byte   `tiff:"field,tag=347"`
}

func unmarshalDirectory(ifd gtiff.IFD) (directory, error) {
	var d directory
	if err := gtiff.UnmarshalIFD(ifd, &d); err != nil {
		return directory{}, err
	}
	d.Description = strings.TrimRight(d.Description, "\x00")
	if d.Compression == 0 {
		d.Compression = uint16(CompressionNone)
	}
	if d.SamplesPerPixel == 0 {
		d.SamplesPerPixel = 1
	}
	if d.PlanarConfiguration == 0 {
		d.PlanarConfiguration = planarContiguous
	}
	if d.ResolutionUnit == 0 {
		d.ResolutionUnit = resolutionInch
	}
	if d.Predictor == 0 {
		d.Predictor = predictorNone
	}
	return d, nil
}

func (d *directory) tiled() bool {
	return d.TileWidth > 0 && d.TileHeight > 0
}

func (d *directory) mask() bool {
	return d.SubfileType&subfileMask != 0
}

// checkDescription rejects files whose description marks them as something other than a
// plain slide, such as DICOM exports or OME metadata.
func (d *directory) checkDescription() error {
	for _, marker := range []string{"DICOM", "xml", "XML"} {
		if strings.Contains(d.Description, marker) {
			return goslide.FormatError("image description mentions " + marker)
		}
	}
	return nil
}

// dtype maps BitsPerSample and SampleFormat to a sample type. Half floats are reported as F32
// with half set.
func (d *directory) dtype() (dtype goslide.DType, half bool, err error) {
	if len(d.BitsPerSample) == 0 {
		return goslide.DTypeInvalid, false, goslide.FormatError("missing BitsPerSample")
	}
	bits := d.BitsPerSample[0]
	for _, b := range d.BitsPerSample {
		if b != bits {
			return goslide.DTypeInvalid, false, goslide.FormatError(fmt.Sprintf("mixed sample sizes %v", d.BitsPerSample))
		}
	}
	format := uint16(sampleFormatUint)
	if len(d.SampleFormat) > 0 {
		format = d.SampleFormat[0]
	}
	switch {
	case format == sampleFormatUint && bits == 8:
		return goslide.U8, false, nil
	case format == sampleFormatUint && bits == 16:
		return goslide.U16, false, nil
	case format == sampleFormatUint && bits == 32:
		return goslide.U32, false, nil
	case format == sampleFormatFloat && bits == 32:
		return goslide.F32, false, nil
	case format == sampleFormatFloat && bits == 16:
		return goslide.F32, true, nil
	}
	return goslide.DTypeInvalid, false, goslide.FormatError(fmt.Sprintf("%d bit samples of format %d", bits, format))
}

// samples is the number of samples per pixel of a decoded tile.
func (d *directory) samples(indexed bool) (int, error) {
	spp := int(d.SamplesPerPixel)
	switch Photometric(d.Photometric) {
	case PhotometricMinIsBlack, PhotometricMinIsWhite:
		if spp == 1 || indexed {
			return spp, nil
		}
	case PhotometricRGB:
		if spp == 3 || spp == 4 {
			return spp, nil
		}
	case PhotometricYCbCr:
		switch Compression(d.Compression) {
		case CompressionJPEG, CompressionJ2K:
			return 4, nil
		}
		return 0, goslide.FormatError("ycbcr directory without jpeg or jpeg2000 tiles")
	default:
		return 0, goslide.FormatError("photometric interpretation " + Photometric(d.Photometric).String())
	}
	return 0, goslide.FormatError(fmt.Sprintf("%d samples for photometric %s", spp, Photometric(d.Photometric)))
}

// layout validates the directory and derives how its tiles decode.
func (d *directory) layout(order binary.ByteOrder, indexed bool) (Layout, error) {
	if d.PlanarConfiguration != planarContiguous {
		return Layout{}, goslide.FormatError("separate sample planes")
	}
	dtype, half, err := d.dtype()
	if err != nil {
		return Layout{}, err
	}
	samples, err := d.samples(indexed)
	if err != nil {
		return Layout{}, err
	}
	comp := Compression(d.Compression)
	if !comp.Decodable() {
		return Layout{}, goslide.UnsupportedError(fmt.Sprintf("compression %d (%s)", d.Compression, comp))
	}
	switch d.Predictor {
	case predictorNone:
	case predictorHorizontal:
		if dtype.IsFloat() {
			return Layout{}, goslide.UnsupportedError("horizontal differencing of float samples")
		}
	default:
		return Layout{}, goslide.UnsupportedError(fmt.Sprintf("predictor %d", d.Predictor))
	}
	switch comp {
	case CompressionJPEG:
		if dtype != goslide.U8 {
			return Layout{}, goslide.FormatError("jpeg tiles of " + dtype.String() + " samples")
		}
	case CompressionJ2K:
		if dtype == goslide.F32 {
			return Layout{}, goslide.FormatError("jpeg2000 tiles of float samples")
		}
	}

	l := Layout{
		TileHeight:  int(d.TileHeight),
		TileWidth:   int(d.TileWidth),
		Samples:     samples,
		DType:       dtype,
		Compression: comp,
		Photometric: Photometric(d.Photometric),
		Predictor:   d.Predictor,
		Order:       order,
		JPEGTables:  d.JPEGTables,
		HalfFloat:   half,
	}
	info := l.levelInfo(d)
	if len(d.TileOffsets) != info.Tiles() || len(d.TileByteCounts) != info.Tiles() {
		return Layout{}, goslide.FormatError(fmt.Sprintf("%d tile offsets and %d byte counts for %d tiles", len(d.TileOffsets), len(d.TileByteCounts), info.Tiles()))
	}
	return l, nil
}

func (l Layout) levelInfo(d *directory) goslide.LevelInfo {
	return goslide.LevelInfo{
		Shape:     [3]int{int(d.ImageHeight), int(d.ImageWidth), l.Samples},
		TileShape: l.TileShape(),
	}
}

// spacing returns micrometres per pixel (y, x), preferring an Aperio "MPP = x" description
// token over the resolution tags. Nil when neither is usable.
func (d *directory) spacing(ifd gtiff.IFD, order binary.ByteOrder) []float64 {
	if mpp, ok := descriptionMPP(d.Description); ok {
		return []float64{mpp, mpp}
	}
	xres := rational(ifd, tagXResolution, order)
	yres := rational(ifd, tagYResolution, order)
	if xres <= 0 || yres <= 0 {
		return nil
	}
	switch d.ResolutionUnit {
	case resolutionCm:
		return []float64{10000 / yres, 10000 / xres}
	case resolutionInch:
		return []float64{25400 / yres, 25400 / xres}
	default:
		return nil
	}
}

func descriptionMPP(desc string) (float64, bool) {
	for _, part := range strings.Split(desc, "|") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(key) != "MPP" {
			continue
		}
		mpp, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil && mpp > 0 {
			return mpp, true
		}
	}
	return 0, false
}

// rational reads the first value of a RATIONAL or DOUBLE field, zero when absent.
func rational(ifd gtiff.IFD, tag uint16, order binary.ByteOrder) float64 {
	values := numbers(ifd, tag, order)
	if len(values) == 0 {
		return 0
	}
	return values[0]
}

// numbers decodes a RATIONAL, DOUBLE, SHORT or LONG field as float64 values.
func numbers(ifd gtiff.IFD, tag uint16, order binary.ByteOrder) []float64 {
	if !ifd.HasField(tag) {
		return nil
	}
	field := ifd.GetField(tag)
	raw := field.Value().Bytes()
	// inline values are padded to the size of the offset field
	if n := int(field.Count()) * int(field.Type().Size()); n < len(raw) {
		raw = raw[:n]
	}
	var out []float64
	switch field.Type().ID() {
	case typeRational:
		for i := 0; i+8 <= len(raw); i += 8 {
			num, den := order.Uint32(raw[i:]), order.Uint32(raw[i+4:])
			if den == 0 {
				out = append(out, 0)
				continue
			}
			out = append(out, float64(num)/float64(den))
		}
	case typeDouble:
		for i := 0; i+8 <= len(raw); i += 8 {
			out = append(out, math.Float64frombits(order.Uint64(raw[i:])))
		}
	case typeShort:
		for i := 0; i+2 <= len(raw); i += 2 {
			out = append(out, float64(order.Uint16(raw[i:])))
		}
	case typeLong:
		for i := 0; i+4 <= len(raw); i += 4 {
			out = append(out, float64(order.Uint32(raw[i:])))
		}
	}
	return out
}
