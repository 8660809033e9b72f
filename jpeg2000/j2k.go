// Package jpeg2000 decodes the JPEG2000 tiles embedded in Aperio slides and encodes pyramid
// tiles as raw JPEG2000 codestreams.
package jpeg2000

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/cocosip/go-dicom-codec/jpeg2000"
	"github.com/cocosip/go-dicom-codec/jpeg2000/codestream"
	"github.com/gracefulearth/goslide"
)

var (
	codestreamMagic = []byte{0xFF, 0x4F, 0xFF, 0x51}
	jp2Magic        = []byte{0x0D, 0x0A, 0x87, 0x0A}
	jp2Signature    = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A, 0x87, 0x0A}
)

// JP2 box types
const (
	boxHeader     = 0x6A703268 // jp2h
	boxColorSpec  = 0x636F6C72 // colr
	boxCodestream = 0x6A703263 // jp2c
)

// Enumerated colour spaces of the colr box.
const (
	colorSRGB      = 16
	colorGreyscale = 17
)

// Result holds a decoded tile as interleaved little-endian samples.
type Result struct {
	Pix   []byte
	Shape [3]int // height, width, components
	DType goslide.DType
}

// Buffer converts the result into a typed buffer.
func (r Result) Buffer() (goslide.Buffer, error) {
	return goslide.BufferFromBytes(r.DType, r.Shape, r.Pix, binary.LittleEndian)
}

// Decode decodes a JPEG2000 codestream or JP2 file. Only unsigned, equally precise,
// non-subsampled components in sRGB (or greyscale for a single component) are accepted.
func Decode(data []byte) (Result, error) {
	stream, err := extractCodestream(data)
	if err != nil {
		return Result{}, err
	}

	cs, err := codestream.NewParser(stream).Parse()
	if err != nil {
		return Result{}, fmt.Errorf("jpeg2000: %w: %v", goslide.ErrNotAJ2KStream, err)
	}
	if cs.SIZ == nil || len(cs.SIZ.Components) == 0 {
		return Result{}, fmt.Errorf("jpeg2000: %w: no image components", goslide.ErrNotAJ2KStream)
	}
	dtype, err := componentDType(cs.SIZ.Components)
	if err != nil {
		return Result{}, err
	}

	dec := jpeg2000.NewDecoder()
	if err := dec.Decode(stream); err != nil {
		return Result{}, fmt.Errorf("jpeg2000: decode failed: %w", err)
	}

	h, w, comps := dec.Height(), dec.Width(), dec.Components()
	planes := make([][]int32, comps)
	for c := range comps {
		if planes[c], err = dec.GetComponentData(c); err != nil {
			return Result{}, fmt.Errorf("jpeg2000: %w", err)
		}
		if len(planes[c]) < h*w {
			return Result{}, fmt.Errorf("jpeg2000: %w: component %d has %d samples for %dx%d", goslide.ErrSizeMismatch, c, len(planes[c]), w, h)
		}
	}

	size := dtype.ItemSize()
	limit := int64(1)<<cs.SIZ.Components[0].BitDepth() - 1
	pix := make([]byte, h*w*comps*size)
	for i := range h * w {
		for c := range comps {
			v := min(max(int64(planes[c][i]), 0), limit)
			off := (i*comps + c) * size
			switch size {
			case 1:
				pix[off] = uint8(v)
			case 2:
				binary.LittleEndian.PutUint16(pix[off:], uint16(v))
			default:
				binary.LittleEndian.PutUint32(pix[off:], uint32(v))
			}
		}
	}
	return Result{Pix: pix, Shape: [3]int{h, w, comps}, DType: dtype}, nil
}

// DecodeArray decodes data into an array of T. A stream whose precision does not map to T fails
// with ErrComponentDtypeMismatch.
func DecodeArray[T goslide.Sample](data []byte) (*goslide.Array[T], error) {
	res, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if res.DType != goslide.DTypeOf[T]() {
		return nil, fmt.Errorf("jpeg2000: %w: stream holds %s, not %s", goslide.ErrComponentDtypeMismatch, res.DType, goslide.DTypeOf[T]())
	}
	buf, err := res.Buffer()
	if err != nil {
		return nil, err
	}
	return goslide.AsArray[T](buf)
}

func componentDType(comps []codestream.ComponentSize) (goslide.DType, error) {
	prec := comps[0].BitDepth()
	for i := range comps {
		comp := &comps[i]
		if comp.IsSigned() {
			return goslide.DTypeInvalid, fmt.Errorf("jpeg2000: %w: component %d is signed", goslide.ErrComponentDtypeMismatch, i)
		}
		if comp.BitDepth() != prec {
			return goslide.DTypeInvalid, fmt.Errorf("jpeg2000: %w: component %d has %d bits, component 0 has %d", goslide.ErrComponentDtypeMismatch, i, comp.BitDepth(), prec)
		}
		if comp.XRsiz != 1 || comp.YRsiz != 1 {
			return goslide.DTypeInvalid, fmt.Errorf("jpeg2000: %w: component %d sampled at %dx%d", goslide.ErrSubsamplingNotSupported, i, comp.XRsiz, comp.YRsiz)
		}
	}
	return componentDTypeFor(prec)
}

// componentDTypeFor maps a component precision in bits to the smallest dtype holding it.
func componentDTypeFor(prec int) (goslide.DType, error) {
	switch (prec + 7) / 8 {
	case 1:
		return goslide.U8, nil
	case 2:
		return goslide.U16, nil
	case 3, 4:
		return goslide.U32, nil
	default:
		return goslide.DTypeInvalid, fmt.Errorf("jpeg2000: %w: %d bit components", goslide.ErrComponentDtypeMismatch, prec)
	}
}

// extractCodestream returns the raw codestream of data, checking the colour space declared by a
// JP2 wrapper. Raw codestreams carry no colour information and are taken as sRGB.
func extractCodestream(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, codestreamMagic):
		return data, nil
	case bytes.HasPrefix(data, jp2Signature), bytes.HasPrefix(data, jp2Magic):
	default:
		return nil, goslide.ErrNotAJ2KStream
	}
	if bytes.HasPrefix(data, jp2Magic) {
		// bare signature without its box header, the boxes follow it
		data = data[len(jp2Magic):]
	}

	var stream []byte
	space := uint32(colorSRGB)
	err := walkBoxes(data, func(kind uint32, body []byte) error {
		switch kind {
		case boxHeader:
			return walkBoxes(body, func(kind uint32, body []byte) error {
				if kind == boxColorSpec {
					s, err := colorSpace(body)
					if err != nil {
						return err
					}
					space = s
				}
				return nil
			})
		case boxCodestream:
			if stream == nil {
				stream = body
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stream == nil || !bytes.HasPrefix(stream, codestreamMagic) {
		return nil, fmt.Errorf("%w: no contiguous codestream box", goslide.ErrNotAJ2KStream)
	}

	switch space {
	case colorSRGB:
	case colorGreyscale:
		comps, err := componentCount(stream)
		if err != nil {
			return nil, err
		}
		if comps != 1 {
			return nil, fmt.Errorf("%w: greyscale declared for %d components", goslide.ErrUnsupportedColorspace, comps)
		}
	default:
		return nil, fmt.Errorf("%w: enumerated colour space %d", goslide.ErrUnsupportedColorspace, space)
	}
	return stream, nil
}

// walkBoxes calls fn for each box of a JP2 box sequence.
func walkBoxes(data []byte, fn func(kind uint32, body []byte) error) error {
	for pos := 0; pos+8 <= len(data); {
		length := uint64(binary.BigEndian.Uint32(data[pos:]))
		kind := binary.BigEndian.Uint32(data[pos+4:])
		header := uint64(8)
		switch length {
		case 0:
			length = uint64(len(data) - pos)
		case 1:
			if pos+16 > len(data) {
				return fmt.Errorf("%w: truncated box header", goslide.ErrNotAJ2KStream)
			}
			length = binary.BigEndian.Uint64(data[pos+8:])
			header = 16
		}
		if length < header || length > uint64(len(data)-pos) {
			return fmt.Errorf("%w: box length %d out of bounds", goslide.ErrNotAJ2KStream, length)
		}
		if err := fn(kind, data[pos+int(header):pos+int(length)]); err != nil {
			return err
		}
		pos += int(length)
	}
	return nil
}

func colorSpace(colr []byte) (uint32, error) {
	if len(colr) < 3 {
		return 0, fmt.Errorf("%w: truncated colour specification", goslide.ErrNotAJ2KStream)
	}
	if colr[0] != 1 {
		return 0, fmt.Errorf("%w: colour specification method %d", goslide.ErrUnsupportedColorspace, colr[0])
	}
	if len(colr) < 7 {
		return 0, fmt.Errorf("%w: truncated colour specification", goslide.ErrNotAJ2KStream)
	}
	return binary.BigEndian.Uint32(colr[3:]), nil
}

// componentCount reads Csiz from the SIZ segment that directly follows SOC.
func componentCount(stream []byte) (int, error) {
	// SOC(2) SIZ marker(2) Lsiz(2) Rsiz(2) 8 x uint32 then Csiz
	const csizOffset = 2 + 2 + 2 + 2 + 8*4
	if len(stream) < csizOffset+2 {
		return 0, fmt.Errorf("%w: truncated SIZ segment", goslide.ErrNotAJ2KStream)
	}
	return int(binary.BigEndian.Uint16(stream[csizOffset:])), nil
}

// Encode compresses an interleaved tile into a raw JPEG2000 codestream. U16 samples are given
// little-endian. Quality 100 is lossless, anything lower selects the irreversible transform.
func Encode(pix []byte, h, w, samples int, dtype goslide.DType, quality int) ([]byte, error) {
	if dtype != goslide.U8 && dtype != goslide.U16 {
		return nil, goslide.UnsupportedError("jpeg2000 encoding of " + dtype.String() + " samples")
	}
	if want := h * w * samples * dtype.ItemSize(); len(pix) != want {
		return nil, fmt.Errorf("jpeg2000: %w: %d bytes for a %dx%dx%d tile", goslide.ErrSizeMismatch, len(pix), h, w, samples)
	}
	params := jpeg2000.DefaultEncodeParams(w, h, samples, dtype.Bits(), false)
	params.NumLevels = decompositionLevels(h, w)
	if quality < 100 {
		params.Lossless = false
		params.Quality = max(quality, 1)
	}
	out, err := jpeg2000.NewEncoder(params).Encode(pix)
	if err != nil {
		return nil, fmt.Errorf("jpeg2000: encode failed: %w", err)
	}
	return out, nil
}

// decompositionLevels keeps the coarsest resolution at least four pixels across.
func decompositionLevels(h, w int) int {
	return min(max(bits.Len(uint(min(h, w)))-3, 0), 5)
}
