// Package openslide serves vendor slide formats (Hamamatsu, Mirax, Leica, Ventana, ...)
// through the openslide library. The native binding is only compiled with the openslide build
// tag; other builds get a library that refuses every file, so the TIFF codec takes over.
package openslide

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gracefulearth/goslide"
)

// Library is the entry point of a slide reading library.
type Library interface {
	// DetectVendor returns the vendor of the file at path, or "" when the file is not a
	// recognized slide.
	DetectVendor(path string) (string, error)
	Open(path string) (Slide, error)
}

// Slide is an open slide of a Library. ReadRegion fills dst with premultiplied ARGB pixels of
// level, addressed by the level 0 coordinates of the region's top-left corner.
type Slide interface {
	LevelCount() int
	LevelDimensions(level int) (w, h int64)
	LevelDownsample(level int) float64
	Property(name string) (string, bool)
	ReadRegion(dst []uint32, x, y int64, level int, w, h int64) error
	SetCacheSize(bytes int)
	Close()
}

const (
	propertyBackground = "openslide.background-color"
	propertyMPPX       = "openslide.mpp-x"
	propertyMPPY       = "openslide.mpp-y"
	propertyVendor     = "openslide.vendor"
)

var Extensions = []string{".bif", ".ndpi", ".mrxs", ".scn", ".svs", ".svslide", ".tif", ".tiff", ".vms", ".vmu"}

type options struct {
	logger  *slog.Logger
	library Library
}

type Option func(o *options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLibrary opens slides through lib instead of the native library.
func WithLibrary(lib Library) Option {
	return func(o *options) {
		o.library = lib
	}
}

// Codec reads regions of a vendor slide as opaque RGB uint8 pixels. Concurrent reads rely on
// the library's own thread safety.
type Codec struct {
	slide      Slide
	vendor     string
	levels     goslide.Levels
	downsample []float64
	spacing    []float64
	background [3]uint8
	logger     *slog.Logger

	lock   sync.RWMutex // Close waits for running reads
	closed bool
}

// Open opens path when the library recognizes its vendor format.
func Open(path string, opts ...Option) (*Codec, error) {
	o := options{logger: slog.Default(), library: nativeLibrary()}
	for _, opt := range opts {
		opt(&o)
	}
	vendor, err := o.library.DetectVendor(path)
	if err != nil {
		return nil, goslide.OpenError{Path: path, Err: err}
	}
	if vendor == "" {
		return nil, goslide.OpenError{Path: path, Err: errors.New("no vendor format recognized")}
	}
	slide, err := o.library.Open(path)
	if err != nil {
		return nil, goslide.OpenError{Path: path, Err: err}
	}

	c := &Codec{
		slide:      slide,
		vendor:     vendor,
		background: [3]uint8{0xFF, 0xFF, 0xFF},
		logger:     o.logger.With("path", path),
	}
	count := slide.LevelCount()
	if count <= 0 {
		slide.Close()
		return nil, goslide.OpenError{Path: path, Err: errors.New("slide has no levels")}
	}
	for i := range count {
		w, h := slide.LevelDimensions(i)
		shape := [3]int{int(h), int(w), 3}
		tile := shape
		th, okH := c.intProperty(fmt.Sprintf("openslide.level[%d].tile-height", i))
		tw, okW := c.intProperty(fmt.Sprintf("openslide.level[%d].tile-width", i))
		if okH && okW && th > 0 && tw > 0 {
			tile = [3]int{th, tw, 3}
		}
		c.levels = append(c.levels, goslide.LevelInfo{Shape: shape, TileShape: tile})
		c.downsample = append(c.downsample, slide.LevelDownsample(i))
	}

	mppY, okY := c.floatProperty(propertyMPPY)
	mppX, okX := c.floatProperty(propertyMPPX)
	if okY && okX {
		c.spacing = []float64{mppY, mppX}
	}
	if hex, ok := slide.Property(propertyBackground); ok {
		if rgb, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32); err == nil {
			c.background = [3]uint8{uint8(rgb >> 16), uint8(rgb >> 8), uint8(rgb)}
		} else {
			c.logger.Debug("ignoring background colour", "value", hex, "err", err)
		}
	}
	c.logger.Debug("opened vendor slide", "vendor", vendor, "levels", count)
	return c, nil
}

func (c *Codec) intProperty(name string) (int, bool) {
	v, ok := c.slide.Property(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return n, err == nil
}

func (c *Codec) floatProperty(name string) (float64, bool) {
	v, ok := c.slide.Property(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f, err == nil && f > 0
}

func (c *Codec) DType() goslide.DType {
	return goslide.U8
}

func (c *Codec) Samples() int {
	return 3
}

func (c *Codec) Levels() goslide.Levels {
	return c.levels
}

func (c *Codec) Spacing() []float64 {
	return c.spacing
}

func (c *Codec) Vendor() string {
	return c.vendor
}

// Property returns a raw property of the slide.
func (c *Codec) Property(name string) (string, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.closed {
		return "", false
	}
	return c.slide.Property(name)
}

// SetCacheCapacity sizes the library's own tile cache.
func (c *Codec) SetCacheCapacity(bytes int) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if !c.closed {
		c.slide.SetCacheSize(max(bytes, 0))
	}
}

// Read fetches the part of box inside the level through the library and flattens the
// premultiplied pixels onto the background colour. Pixels outside the level stay zero.
func (c *Codec) Read(box goslide.Box) (goslide.Buffer, error) {
	if !c.levels.Has(box.Level) {
		return nil, fmt.Errorf("%w: %d of %d", goslide.ErrLevelOutOfRange, box.Level, len(c.levels))
	}
	out := goslide.NewArray[uint8](max(box.Height(), 0), max(box.Width(), 0), 3)
	info := c.levels[box.Level]
	clipped := box.FitTo([2]int{info.Height(), info.Width()})
	if clipped.Empty() {
		return out, nil
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.closed {
		return nil, goslide.ErrClosed
	}
	h, w := clipped.Height(), clipped.Width()
	argb := make([]uint32, h*w)
	scale := c.downsample[box.Level]
	x0 := int64(float64(clipped.Min[1]) * scale)
	y0 := int64(float64(clipped.Min[0]) * scale)
	if err := c.slide.ReadRegion(argb, x0, y0, int(box.Level), int64(w), int64(h)); err != nil {
		return nil, fmt.Errorf("openslide: reading %s: %w", clipped, err)
	}
	c.logger.Debug("read region", "box", clipped, "x0", x0, "y0", y0)

	for y := range h {
		for x := range w {
			px := out.Pixel(clipped.Min[0]-box.Min[0]+y, clipped.Min[1]-box.Min[1]+x)
			r, g, b := c.unpremultiply(argb[y*w+x])
			px[0], px[1], px[2] = r, g, b
		}
	}
	return out, nil
}

// unpremultiply converts one premultiplied ARGB pixel to straight RGB, using the background
// colour for fully transparent pixels.
func (c *Codec) unpremultiply(p uint32) (r, g, b uint8) {
	a := p >> 24
	r, g, b = uint8(p>>16), uint8(p>>8), uint8(p)
	switch a {
	case 0xFF:
		return r, g, b
	case 0:
		return c.background[0], c.background[1], c.background[2]
	}
	scale := func(v uint8) uint8 {
		return uint8(min(255*uint32(v)/a, 255))
	}
	return scale(r), scale(g), scale(b)
}

// Close releases the native slide handle. It is safe to call more than once.
func (c *Codec) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.slide.Close()
	return nil
}

// Register adds the openslide codec to r behind the TIFF codec for the extensions both
// handle, so tiled TIFF files keep their own dtype and samples. Files the TIFF codec rejects
// reach the library.
func Register(r *goslide.Registry, opts ...Option) error {
	return r.Register(goslide.Descriptor{
		Name:       "openslide",
		Extensions: Extensions,
		Priority:   1,
		Open: func(path string) (goslide.Codec, error) {
			c, err := Open(path, opts...)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
}
