package goslide

import (
	"fmt"
	"strings"
)

// DType is the element type of every sample in an image. The set is closed.
type DType uint8

const (
	DTypeInvalid DType = iota
	U8                 // 8-bit unsigned integer
	U16                // 16-bit unsigned integer
	U32                // 32-bit unsigned integer
	F32                // 32-bit IEEE floating point
)

// Sample constrains the Go element types backing each DType.
type Sample interface {
	uint8 | uint16 | uint32 | float32
}

func (d DType) String() string {
	switch d {
	case U8:
		return "uint8"
	case U16:
		return "uint16"
	case U32:
		return "uint32"
	case F32:
		return "float32"
	default:
		return "invalid"
	}
}

// ItemSize is the number of bytes occupied by one sample.
func (d DType) ItemSize() int {
	switch d {
	case U8:
		return 1
	case U16:
		return 2
	case U32, F32:
		return 4
	default:
		return 0
	}
}

// Bits is the number of bits per sample, as stored in BitsPerSample tags.
func (d DType) Bits() int {
	return d.ItemSize() * 8
}

func (d DType) IsFloat() bool {
	return d == F32
}

func (d DType) Valid() bool {
	return d >= U8 && d <= F32
}

func ParseDType(s string) (DType, error) {
	switch strings.ToLower(s) {
	case "u8", "uint8":
		return U8, nil
	case "u16", "uint16":
		return U16, nil
	case "u32", "uint32":
		return U32, nil
	case "f32", "float32", "float":
		return F32, nil
	default:
		return DTypeInvalid, fmt.Errorf("%w: unknown dtype '%s'", ErrUnsupportedFormat, s)
	}
}

// DTypeOf returns the DType for the element type T.
func DTypeOf[T Sample]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return U8
	case uint16:
		return U16
	case uint32:
		return U32
	case float32:
		return F32
	default:
		return DTypeInvalid
	}
}
