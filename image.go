package goslide

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Image is an open slide: a codec selected by file extension plus the bookkeeping shared by all
// formats. Close releases the underlying file or library handle.
type Image struct {
	path   string
	codec  Codec
	logger *slog.Logger
	closed atomic.Bool
}

type openOptions struct {
	registry      *Registry
	logger        *slog.Logger
	cacheCapacity int
}

type Option func(o *openOptions)

// WithRegistry opens through r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(o *openOptions) {
		o.registry = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithCacheCapacity sizes the tile cache of codecs implementing CacheSizer.
func WithCacheCapacity(bytes int) Option {
	return func(o *openOptions) {
		o.cacheCapacity = bytes
	}
}

// Open selects a codec for path from the lowercase file extension and opens it.
func Open(path string, opts ...Option) (*Image, error) {
	return DefaultRegistry.OpenImage(path, opts...)
}

// OpenImage is Open with r as the default registry.
func (r *Registry) OpenImage(path string, opts ...Option) (*Image, error) {
	o := openOptions{registry: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	codec, err := o.registry.OpenCodec(path)
	if err != nil {
		return nil, err
	}
	img := NewImage(path, codec, o.logger)
	if o.cacheCapacity > 0 {
		img.SetCacheCapacity(o.cacheCapacity)
	}
	o.logger.Info("opened slide", "path", path, "dtype", codec.DType(), "samples", codec.Samples(), "levels", len(codec.Levels()))
	return img, nil
}

// NewImage wraps an already open codec.
func NewImage(path string, codec Codec, logger *slog.Logger) *Image {
	if logger == nil {
		logger = slog.Default()
	}
	return &Image{path: path, codec: codec, logger: logger}
}

func (img *Image) Path() string {
	return img.path
}

func (img *Image) Codec() Codec {
	return img.codec
}

func (img *Image) DType() DType {
	return img.codec.DType()
}

func (img *Image) Samples() int {
	return img.codec.Samples()
}

func (img *Image) Levels() Levels {
	return img.codec.Levels()
}

func (img *Image) Shape(level Level) ([3]int, error) {
	return img.codec.Levels().Shape(level)
}

func (img *Image) Scales() []int {
	return img.codec.Levels().Scales()
}

func (img *Image) LevelFor(scale float64) (Level, int) {
	level, actual := img.codec.Levels().LevelFor(scale)
	img.logger.Debug("selected level", "requested", scale, "level", level, "scale", actual)
	return level, actual
}

// Spacing returns micrometres per pixel (y, x) at level 0, or nil when the format does not say.
func (img *Image) Spacing() []float64 {
	if sp, ok := img.codec.(Spacer); ok {
		return sp.Spacing()
	}
	return nil
}

// SetCacheCapacity resizes the codec's tile cache; formats without one ignore it.
func (img *Image) SetCacheCapacity(bytes int) {
	if cs, ok := img.codec.(CacheSizer); ok {
		cs.SetCacheCapacity(bytes)
	}
}

// Read returns the pixels of box. Boxes may reach past the level bounds; the pixels outside
// are zero.
func (img *Image) Read(box Box) (Buffer, error) {
	if img.closed.Load() {
		return nil, ErrClosed
	}
	if !img.codec.Levels().Has(box.Level) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLevelOutOfRange, box.Level, len(img.codec.Levels()))
	}
	if !box.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBox, box)
	}
	return img.codec.Read(box)
}

// ReadRegion reads the h x w region with its top-left corner at (y, x) of level.
func (img *Image) ReadRegion(level Level, y, x, h, w int) (Buffer, error) {
	return img.Read(NewBox(y, x, y+h, x+w, level))
}

// Close is safe to call more than once.
func (img *Image) Close() error {
	if img.closed.Swap(true) {
		return nil
	}
	return img.codec.Close()
}
