package goslide

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Buffer is a row-major, sample-interleaved (height x width x samples) block of pixels of a
// single DType. The concrete types are *Array[uint8], *Array[uint16], *Array[uint32] and
// *Array[float32]; use Visit or AsArray to reach the typed samples.
type Buffer interface {
	DType() DType
	Shape() [3]int
	// Size is the number of bytes held by the sample data.
	Size() int
	Bytes(order binary.ByteOrder) []byte
}

// Array is the typed Buffer implementation.
type Array[T Sample] struct {
	Pix []T
	H   int
	W   int
	S   int
}

func NewArray[T Sample](h, w, s int) *Array[T] {
	return &Array[T]{Pix: make([]T, h*w*s), H: h, W: w, S: s}
}

// ArrayFrom wraps pix without copying. The length of pix must match the shape.
func ArrayFrom[T Sample](pix []T, h, w, s int) (*Array[T], error) {
	if len(pix) != h*w*s {
		return nil, fmt.Errorf("%w: %d samples for shape (%d, %d, %d)", ErrSizeMismatch, len(pix), h, w, s)
	}
	return &Array[T]{Pix: pix, H: h, W: w, S: s}, nil
}

func (a *Array[T]) DType() DType {
	return DTypeOf[T]()
}

func (a *Array[T]) Shape() [3]int {
	return [3]int{a.H, a.W, a.S}
}

func (a *Array[T]) Size() int {
	return len(a.Pix) * a.DType().ItemSize()
}

// Index of the first sample of pixel (y, x) in Pix.
func (a *Array[T]) Index(y, x int) int {
	return (y*a.W + x) * a.S
}

func (a *Array[T]) At(y, x, s int) T {
	return a.Pix[a.Index(y, x)+s]
}

func (a *Array[T]) Set(y, x, s int, v T) {
	a.Pix[a.Index(y, x)+s] = v
}

// Pixel returns the samples of pixel (y, x), aliasing Pix.
func (a *Array[T]) Pixel(y, x int) []T {
	i := a.Index(y, x)
	return a.Pix[i : i+a.S]
}

// Row returns the samples of row y, aliasing Pix.
func (a *Array[T]) Row(y int) []T {
	stride := a.W * a.S
	return a.Pix[y*stride : (y+1)*stride]
}

func (a *Array[T]) Clone() *Array[T] {
	pix := make([]T, len(a.Pix))
	copy(pix, a.Pix)
	return &Array[T]{Pix: pix, H: a.H, W: a.W, S: a.S}
}

func (a *Array[T]) Fill(v T) {
	for i := range a.Pix {
		a.Pix[i] = v
	}
}

func (a *Array[T]) Bytes(order binary.ByteOrder) []byte {
	size := a.DType().ItemSize()
	raw := make([]byte, len(a.Pix)*size)
	switch pix := any(a.Pix).(type) {
	case []uint8:
		copy(raw, pix)
	case []uint16:
		for i, v := range pix {
			order.PutUint16(raw[i*2:], v)
		}
	case []uint32:
		for i, v := range pix {
			order.PutUint32(raw[i*4:], v)
		}
	case []float32:
		for i, v := range pix {
			order.PutUint32(raw[i*4:], math.Float32bits(v))
		}
	}
	return raw
}

// SetBytes decodes raw sample bytes into Pix. raw must hold exactly len(Pix) samples.
func (a *Array[T]) SetBytes(raw []byte, order binary.ByteOrder) error {
	size := a.DType().ItemSize()
	if len(raw) != len(a.Pix)*size {
		return fmt.Errorf("%w: %d bytes for %d samples of %s", ErrSizeMismatch, len(raw), len(a.Pix), a.DType())
	}
	switch pix := any(a.Pix).(type) {
	case []uint8:
		copy(pix, raw)
	case []uint16:
		for i := range pix {
			pix[i] = order.Uint16(raw[i*2:])
		}
	case []uint32:
		for i := range pix {
			pix[i] = order.Uint32(raw[i*4:])
		}
	case []float32:
		for i := range pix {
			pix[i] = math.Float32frombits(order.Uint32(raw[i*4:]))
		}
	}
	return nil
}

// NewBuffer allocates a zeroed buffer of the given dtype and shape.
func NewBuffer(dtype DType, h, w, s int) (Buffer, error) {
	switch dtype {
	case U8:
		return NewArray[uint8](h, w, s), nil
	case U16:
		return NewArray[uint16](h, w, s), nil
	case U32:
		return NewArray[uint32](h, w, s), nil
	case F32:
		return NewArray[float32](h, w, s), nil
	default:
		return nil, fmt.Errorf("%w: dtype %s", ErrUnsupportedFormat, dtype)
	}
}

// BufferFromBytes allocates a buffer of the given dtype and shape and decodes raw into it.
func BufferFromBytes(dtype DType, shape [3]int, raw []byte, order binary.ByteOrder) (Buffer, error) {
	buf, err := NewBuffer(dtype, shape[0], shape[1], shape[2])
	if err != nil {
		return nil, err
	}
	err = Visit(buf, VisitFuncs{
		U8:  func(a *Array[uint8]) error { return a.SetBytes(raw, order) },
		U16: func(a *Array[uint16]) error { return a.SetBytes(raw, order) },
		U32: func(a *Array[uint32]) error { return a.SetBytes(raw, order) },
		F32: func(a *Array[float32]) error { return a.SetBytes(raw, order) },
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// AsArray asserts buf to the typed array for T.
func AsArray[T Sample](buf Buffer) (*Array[T], error) {
	arr, ok := buf.(*Array[T])
	if !ok {
		return nil, fmt.Errorf("%w: buffer is %s, not %s", ErrSizeMismatch, buf.DType(), DTypeOf[T]())
	}
	return arr, nil
}

// Visitor receives the typed array behind a Buffer.
type Visitor interface {
	VisitU8(*Array[uint8]) error
	VisitU16(*Array[uint16]) error
	VisitU32(*Array[uint32]) error
	VisitF32(*Array[float32]) error
}

// Visit dispatches buf to the method of v matching its element type.
func Visit(buf Buffer, v Visitor) error {
	switch arr := buf.(type) {
	case *Array[uint8]:
		return v.VisitU8(arr)
	case *Array[uint16]:
		return v.VisitU16(arr)
	case *Array[uint32]:
		return v.VisitU32(arr)
	case *Array[float32]:
		return v.VisitF32(arr)
	default:
		return fmt.Errorf("%w: buffer type %T", ErrUnsupportedFormat, buf)
	}
}

// VisitFuncs adapts plain functions to a Visitor. Missing functions reject their dtype.
type VisitFuncs struct {
	U8  func(*Array[uint8]) error
	U16 func(*Array[uint16]) error
	U32 func(*Array[uint32]) error
	F32 func(*Array[float32]) error
}

func (f VisitFuncs) VisitU8(a *Array[uint8]) error {
	return callVisit(f.U8, a)
}

func (f VisitFuncs) VisitU16(a *Array[uint16]) error {
	return callVisit(f.U16, a)
}

func (f VisitFuncs) VisitU32(a *Array[uint32]) error {
	return callVisit(f.U32, a)
}

func (f VisitFuncs) VisitF32(a *Array[float32]) error {
	return callVisit(f.F32, a)
}

func callVisit[T Sample](fn func(*Array[T]) error, a *Array[T]) error {
	if fn == nil {
		return fmt.Errorf("%w: dtype %s", ErrUnsupportedFormat, a.DType())
	}
	return fn(a)
}
