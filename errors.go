package goslide

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedExtension    = errors.New("goslide: unsupported extension")
	ErrOpenFailure             = errors.New("goslide: open failure")
	ErrUnsupportedFormat       = errors.New("goslide: unsupported format")
	ErrUnsupportedCodec        = errors.New("goslide: unsupported codec")
	ErrNotAJ2KStream           = errors.New("goslide: not a jpeg2000 stream")
	ErrUnsupportedColorspace   = errors.New("goslide: unsupported colorspace")
	ErrComponentDtypeMismatch  = errors.New("goslide: component dtype mismatch")
	ErrSubsamplingNotSupported = errors.New("goslide: subsampling not supported")
	ErrSizeMismatch            = errors.New("goslide: size mismatch")
	ErrLevelOutOfRange         = errors.New("goslide: level out of range")
	ErrInvalidBox              = errors.New("goslide: invalid box")
	ErrClosed                  = errors.New("goslide: handle closed")
	ErrWriterState             = errors.New("goslide: invalid writer state")
)

// FormatError reports a file whose layout cannot be served.
type FormatError string

func (e FormatError) Error() string {
	return "goslide: format error - " + string(e)
}

func (e FormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// UnsupportedError reports a tile compression scheme that cannot be decoded.
type UnsupportedError string

func (e UnsupportedError) Error() string {
	return "goslide: unsupported codec - " + string(e)
}

func (e UnsupportedError) Unwrap() error {
	return ErrUnsupportedCodec
}

// OpenError wraps a failure to open path with ErrOpenFailure.
type OpenError struct {
	Path string
	Err  error
}

func (e OpenError) Error() string {
	return fmt.Sprintf("goslide: failed to open '%s': %v", e.Path, e.Err)
}

func (e OpenError) Unwrap() []error {
	return []error{ErrOpenFailure, e.Err}
}

type TileError struct {
	Level Level
	Row   int
	Col   int
	Err   error
}

func (e TileError) Error() string {
	return fmt.Sprintf("goslide: tile (%d, %d) at level %d - %v", e.Row, e.Col, e.Level, e.Err)
}

func (e TileError) Unwrap() error {
	return e.Err
}

// SizeError reports a caller-provided buffer whose shape disagrees with the declared one.
type SizeError struct {
	Want [3]int
	Got  [3]int
}

func (e SizeError) Error() string {
	return fmt.Sprintf("goslide: size mismatch - expected %v but got %v", e.Want, e.Got)
}

func (e SizeError) Unwrap() error {
	return ErrSizeMismatch
}
