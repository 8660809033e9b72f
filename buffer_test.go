package goslide

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestDTypeItemSize(t *testing.T) {
	cases := map[DType]int{U8: 1, U16: 2, U32: 4, F32: 4, DTypeInvalid: 0}
	for dtype, size := range cases {
		if dtype.ItemSize() != size {
			t.Errorf("expected %s item size %d, got %d", dtype, size, dtype.ItemSize())
		}
	}
}

func TestParseDType(t *testing.T) {
	for _, dtype := range []DType{U8, U16, U32, F32} {
		parsed, err := ParseDType(dtype.String())
		if err != nil {
			t.Fatal(err)
		}
		if parsed != dtype {
			t.Errorf("expected %s, got %s", dtype, parsed)
		}
	}
	if _, err := ParseDType("int8"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected unsupported format for int8, got %v", err)
	}
}

func TestDTypeOf(t *testing.T) {
	if DTypeOf[uint8]() != U8 || DTypeOf[uint16]() != U16 || DTypeOf[uint32]() != U32 || DTypeOf[float32]() != F32 {
		t.Errorf("unexpected dtype mapping")
	}
}

func TestArrayBytesRoundTrip(t *testing.T) {
	orders := []binary.ByteOrder{binary.LittleEndian, binary.BigEndian}
	for _, order := range orders {
		u16 := NewArray[uint16](5, 7, 3)
		for i := range u16.Pix {
			u16.Pix[i] = uint16(rand.IntN(1 << 16))
		}
		buf, err := BufferFromBytes(U16, u16.Shape(), u16.Bytes(order), order)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(buf.(*Array[uint16]).Pix, u16.Pix) {
			t.Errorf("uint16 samples changed through bytes with %v", order)
		}

		f32 := NewArray[float32](3, 3, 1)
		for i := range f32.Pix {
			f32.Pix[i] = rand.Float32()
		}
		buf, err = BufferFromBytes(F32, f32.Shape(), f32.Bytes(order), order)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(buf.(*Array[float32]).Pix, f32.Pix) {
			t.Errorf("float32 samples changed through bytes with %v", order)
		}
	}
}

func TestBufferFromBytesSizeMismatch(t *testing.T) {
	_, err := BufferFromBytes(U32, [3]int{2, 2, 1}, make([]byte, 15), binary.LittleEndian)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected size mismatch, got %v", err)
	}
	if _, err := ArrayFrom(make([]uint8, 10), 3, 3, 1); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected size mismatch, got %v", err)
	}
}

func TestArrayIndexing(t *testing.T) {
	arr := NewArray[uint8](4, 5, 3)
	arr.Set(2, 3, 1, 42)
	if arr.Pix[(2*5+3)*3+1] != 42 {
		t.Errorf("set wrote to the wrong sample")
	}
	if arr.Pixel(2, 3)[1] != 42 || arr.At(2, 3, 1) != 42 {
		t.Errorf("pixel view disagrees with set")
	}
	if len(arr.Row(3)) != 15 {
		t.Errorf("expected row of 15 samples, got %d", len(arr.Row(3)))
	}
	if arr.Size() != 60 {
		t.Errorf("expected 60 bytes, got %d", arr.Size())
	}
	wide := NewArray[uint32](4, 5, 3)
	if wide.Size() != 240 {
		t.Errorf("expected 240 bytes, got %d", wide.Size())
	}
}

type dtypeRecorder struct {
	seen DType
}

func (r *dtypeRecorder) VisitU8(*Array[uint8]) error     { r.seen = U8; return nil }
func (r *dtypeRecorder) VisitU16(*Array[uint16]) error   { r.seen = U16; return nil }
func (r *dtypeRecorder) VisitU32(*Array[uint32]) error   { r.seen = U32; return nil }
func (r *dtypeRecorder) VisitF32(*Array[float32]) error  { r.seen = F32; return nil }

func TestVisitDispatch(t *testing.T) {
	for _, dtype := range []DType{U8, U16, U32, F32} {
		buf, err := NewBuffer(dtype, 2, 2, 1)
		if err != nil {
			t.Fatal(err)
		}
		rec := &dtypeRecorder{}
		if err := Visit(buf, rec); err != nil {
			t.Fatal(err)
		}
		if rec.seen != dtype {
			t.Errorf("expected visit of %s, got %s", dtype, rec.seen)
		}
	}

	buf, _ := NewBuffer(U16, 1, 1, 1)
	err := Visit(buf, VisitFuncs{U8: func(*Array[uint8]) error { return nil }})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected missing visit func to be rejected, got %v", err)
	}
}

func TestAsArrayWrongType(t *testing.T) {
	buf := NewArray[uint16](1, 1, 1)
	if _, err := AsArray[uint8](buf); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected mismatch asserting uint16 buffer as uint8, got %v", err)
	}
}
