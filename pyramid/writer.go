// Package pyramid writes a base image as a tiled TIFF pyramid: the base level followed by
// reduced-resolution levels, each half the size of the one before.
package pyramid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/goslide/internal/preload"
	"github.com/gracefulearth/goslide/tiff"
)

const (
	DefaultTileSize = 512
	DefaultQuality  = 30

	// levels are added until the coarsest width is as close as possible to this
	thumbnailWidth = 1024
	preloadDepth   = 4
	software       = "goslide"
)

// Color is the colour layout of the written samples.
type Color struct {
	kind    colorKind
	samples int
}

type colorKind int

const (
	monochrome colorKind = iota
	rgb
	argb
	indexed
)

var (
	Monochrome = Color{kind: monochrome, samples: 1}
	RGB        = Color{kind: rgb, samples: 3}
	ARGB       = Color{kind: argb, samples: 4}
)

// Indexed is a colour layout of n independent channels.
func Indexed(n int) Color {
	return Color{kind: indexed, samples: n}
}

// ColorFor picks the colour layout for pixels of the given number of samples.
func ColorFor(samples int) Color {
	switch samples {
	case 1:
		return Monochrome
	case 3:
		return RGB
	case 4:
		return ARGB
	default:
		return Indexed(samples)
	}
}

func (c Color) Samples() int {
	return c.samples
}

func (c Color) String() string {
	switch c.kind {
	case monochrome:
		return "monochrome"
	case rgb:
		return "rgb"
	case argb:
		return "argb"
	default:
		return "indexed(" + strconv.Itoa(c.samples) + ")"
	}
}

// photometric is the interpretation of tiles of this colour compressed with comp. Colour JPEG
// tiles are YCbCr coded with 2x2 chroma subsampling.
func (c Color) photometric(comp tiff.Compression) tiff.Photometric {
	switch {
	case c.kind == rgb && comp == tiff.CompressionJPEG:
		return tiff.PhotometricYCbCr
	case c.kind == rgb || c.kind == argb:
		return tiff.PhotometricRGB
	default:
		return tiff.PhotometricMinIsBlack
	}
}

func (c Color) subsampling(comp tiff.Compression) []uint16 {
	if c.photometric(comp) == tiff.PhotometricYCbCr {
		return []uint16{2, 2}
	}
	return nil
}

func (c Color) extraSamples() []uint16 {
	if c.kind == argb {
		return []uint16{2} // unassociated alpha
	}
	return nil
}

type options struct {
	logger *slog.Logger
}

type Option func(o *options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// levelTiles records where the tiles of one written level landed.
type levelTiles struct {
	path    string
	height  int
	width   int
	offsets []uint64
	counts  []uint64
}

// Writer builds a pyramid file. Declare the image with the setters, pass the base tiles with
// Append or Put, then call Finish. The setters fail with goslide.ErrWriterState once the
// first tile has been written.
type Writer struct {
	path   string
	out    *tiff.Writer
	logger *slog.Logger

	height        int
	width         int
	dtype         goslide.DType
	color         Color
	tileSize      int
	compression   tiff.Compression
	quality       int
	interpolation Interpolation
	spacing       []float64

	started   bool
	finishing bool
	done      bool
	pos       int
	base      levelTiles
	layout    tiff.Layout
	ranges    sampleRange
	tempDirs  []levelTiles
}

// Create truncates the file at path and returns a writer with a 512 pixel tile size, LZW
// compression, quality 30 and linear interpolation.
func Create(path string, opts ...Option) (*Writer, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	out, err := tiff.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{
		path:          path,
		out:           out,
		logger:        o.logger.With("path", path),
		dtype:         goslide.U8,
		color:         Monochrome,
		tileSize:      DefaultTileSize,
		compression:   tiff.CompressionLZW,
		quality:       DefaultQuality,
		interpolation: Linear,
	}, nil
}

func (w *Writer) declare() error {
	if w.started || w.done || w.finishing {
		return fmt.Errorf("%w: image already started", goslide.ErrWriterState)
	}
	return nil
}

func (w *Writer) SetSize(height, width int) error {
	if err := w.declare(); err != nil {
		return err
	}
	if height <= 0 || width <= 0 {
		return fmt.Errorf("%w: image size %dx%d", goslide.ErrInvalidBox, height, width)
	}
	w.height, w.width = height, width
	return nil
}

func (w *Writer) SetDType(dtype goslide.DType) error {
	if err := w.declare(); err != nil {
		return err
	}
	if !dtype.Valid() {
		return fmt.Errorf("%w: dtype %s", goslide.ErrUnsupportedFormat, dtype)
	}
	w.dtype = dtype
	return nil
}

func (w *Writer) SetColor(color Color) error {
	if err := w.declare(); err != nil {
		return err
	}
	if color.samples <= 0 {
		return fmt.Errorf("pyramid: %d samples per pixel", color.samples)
	}
	w.color = color
	return nil
}

// SetTileSize sets the edge of the square tiles, a positive multiple of 16.
func (w *Writer) SetTileSize(size int) error {
	if err := w.declare(); err != nil {
		return err
	}
	if size <= 0 || size%16 != 0 {
		return fmt.Errorf("pyramid: tile size %d is not a positive multiple of 16", size)
	}
	w.tileSize = size
	return nil
}

func (w *Writer) SetCompression(c tiff.Compression) error {
	if err := w.declare(); err != nil {
		return err
	}
	switch c {
	case tiff.CompressionNone, tiff.CompressionLZW, tiff.CompressionDeflate, tiff.CompressionZstd,
		tiff.CompressionJPEG, tiff.CompressionJ2K:
		w.compression = c
		return nil
	default:
		return goslide.UnsupportedError("writing " + c.String() + " tiles")
	}
}

// SetQuality sets the JPEG quality or JPEG2000 rate, in (0, 100].
func (w *Writer) SetQuality(quality int) error {
	if err := w.declare(); err != nil {
		return err
	}
	if quality <= 0 || quality > 100 {
		return fmt.Errorf("pyramid: quality %d outside (0, 100]", quality)
	}
	w.quality = quality
	return nil
}

func (w *Writer) SetInterpolation(interp Interpolation) error {
	if err := w.declare(); err != nil {
		return err
	}
	if interp != Linear && interp != Nearest {
		return fmt.Errorf("pyramid: unknown interpolation %d", interp)
	}
	w.interpolation = interp
	return nil
}

// SetSpacing sets the micrometres per pixel (y, x) of the base level.
func (w *Writer) SetSpacing(spacing []float64) error {
	if err := w.declare(); err != nil {
		return err
	}
	if len(spacing) != 2 || spacing[0] <= 0 || spacing[1] <= 0 {
		return fmt.Errorf("pyramid: spacing %v is not two positive values", spacing)
	}
	w.spacing = []float64{spacing[0], spacing[1]}
	return nil
}

func (w *Writer) tileLayout(c tiff.Compression) tiff.Layout {
	return tiff.Layout{
		TileHeight:  w.tileSize,
		TileWidth:   w.tileSize,
		Samples:     w.color.samples,
		DType:       w.dtype,
		Compression: c,
		Photometric: w.color.photometric(c),
		Order:       binary.LittleEndian,
		Quality:     w.quality,
	}
}

func (w *Writer) tileGrid(height, width int) (down, across int) {
	return (height + w.tileSize - 1) / w.tileSize, (width + w.tileSize - 1) / w.tileSize
}

func (w *Writer) start() error {
	if w.done || w.finishing {
		return fmt.Errorf("%w: writer finished", goslide.ErrWriterState)
	}
	if w.started {
		return nil
	}
	if w.height == 0 || w.width == 0 {
		return fmt.Errorf("%w: image size not set", goslide.ErrWriterState)
	}
	w.layout = w.tileLayout(w.compression)
	if err := w.layout.CheckEncodable(); err != nil {
		return err
	}
	down, across := w.tileGrid(w.height, w.width)
	w.base = levelTiles{
		path:    w.path,
		height:  w.height,
		width:   w.width,
		offsets: make([]uint64, down*across),
		counts:  make([]uint64, down*across),
	}
	w.started = true
	w.logger.Info("writing pyramid", "height", w.height, "width", w.width, "dtype", w.dtype,
		"color", w.color, "tile", w.tileSize, "compression", w.compression)
	return nil
}

// Append writes the next base tile in row-major order.
func (w *Writer) Append(tile goslide.Buffer) error {
	if err := w.start(); err != nil {
		return err
	}
	if err := w.put(tile, w.pos); err != nil {
		return err
	}
	w.pos++
	return nil
}

// Put writes the base tile holding pixel (y, x).
func (w *Writer) Put(tile goslide.Buffer, y, x int) error {
	if err := w.start(); err != nil {
		return err
	}
	if y < 0 || x < 0 || y >= w.height || x >= w.width {
		return fmt.Errorf("%w: pixel (%d, %d) outside %dx%d", goslide.ErrInvalidBox, y, x, w.height, w.width)
	}
	_, across := w.tileGrid(w.height, w.width)
	return w.put(tile, (y/w.tileSize)*across+x/w.tileSize)
}

func (w *Writer) put(tile goslide.Buffer, index int) error {
	if index >= len(w.base.offsets) {
		return fmt.Errorf("%w: tile %d of %d", goslide.ErrInvalidBox, index, len(w.base.offsets))
	}
	data, err := w.layout.Encode(tile)
	if err != nil {
		return err
	}
	offset, count, err := w.out.WriteTile(data)
	if err != nil {
		return err
	}
	w.base.offsets[index], w.base.counts[index] = offset, count
	return w.ranges.add(tile)
}

// Depth is the number of reduced levels written for a base image of the given width.
func Depth(width int) int {
	levels := 1
	lowest := width
	for lowest > thumbnailWidth {
		lowest /= 2
		levels++
	}
	if abs(thumbnailWidth-lowest) > abs(thumbnailWidth-2*lowest) {
		levels--
	}
	return levels
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (w *Writer) levelSpacing(level int) []float64 {
	if w.spacing == nil {
		return nil
	}
	f := float64(int(1) << level)
	return []float64{w.spacing[0] * f, w.spacing[1] * f}
}

func (w *Writer) tempPath(level int) string {
	dir, name := filepath.Split(w.path)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dir, "temp"+base+"Level"+strconv.Itoa(level)+".tif")
}

// Finish writes the reduced levels and the directories and closes the file. On failure the
// temporary level files are left next to the output.
func (w *Writer) Finish() error {
	if !w.started {
		return fmt.Errorf("%w: no tiles written", goslide.ErrWriterState)
	}
	if w.done || w.finishing {
		return fmt.Errorf("%w: writer finished", goslide.ErrWriterState)
	}
	w.finishing = true
	depth := Depth(w.width)
	for depth > 0 && (w.height>>depth == 0 || w.width>>depth == 0) {
		depth--
	}

	base, err := w.openBase()
	if err != nil {
		return err
	}
	prev := base
	for level := 1; level <= depth; level++ {
		next, err := w.writeTempLevel(level, prev)
		if prev != base {
			err = errors.Join(err, prev.Close())
		}
		if err != nil {
			if next != nil {
				next.Close()
			}
			base.Close()
			return err
		}
		prev = next
	}
	if prev != base {
		prev.Close()
	}
	if err := base.Close(); err != nil {
		return err
	}

	if err := w.out.WriteDirectory(&tiff.Directory{
		Height:         w.height,
		Width:          w.width,
		TileHeight:     w.tileSize,
		TileWidth:      w.tileSize,
		Samples:        w.color.samples,
		DType:          w.dtype,
		Photometric:    w.color.photometric(w.compression),
		ExtraSamples:   w.color.extraSamples(),
		YCbCrSubsample: w.color.subsampling(w.compression),
		Compression:    w.compression,
		Software:       software,
		Spacing:        w.spacing,
		MinSampleValue: w.ranges.min,
		MaxSampleValue: w.ranges.max,
		TileOffsets:    w.base.offsets,
		TileByteCounts: w.base.counts,
	}); err != nil {
		return err
	}
	for i, level := range w.tempDirs {
		if err := w.incorporate(i+1, level); err != nil {
			return err
		}
	}
	if err := w.out.Close(); err != nil {
		return err
	}
	w.done = true

	for _, level := range w.tempDirs {
		if err := os.Remove(level.path); err != nil {
			w.logger.Warn("could not remove temporary level", "file", level.path, "err", err)
		}
	}
	w.logger.Info("wrote pyramid", "levels", depth+1)
	return nil
}

// tileSource reads the tiles of a level written earlier.
type tileSource struct {
	levelTiles
	read  func(index int) (goslide.Buffer, error)
	close func() error
}

func (s *tileSource) Close() error {
	return s.close()
}

// openBase reads base tiles back from the output file, which has no directory yet.
func (w *Writer) openBase() (*tileSource, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, goslide.OpenError{Path: w.path, Err: err}
	}
	return &tileSource{
		levelTiles: w.base,
		read: func(index int) (goslide.Buffer, error) {
			raw := make([]byte, w.base.counts[index])
			if _, err := f.ReadAt(raw, int64(w.base.offsets[index])); err != nil {
				return nil, fmt.Errorf("pyramid: reading base tile %d: %w", index, err)
			}
			return w.layout.Decode(raw)
		},
		close: f.Close,
	}, nil
}

func (w *Writer) openTemp(level levelTiles) (*tileSource, error) {
	codec, err := tiff.Open(level.path, tiff.WithIndexed(), tiff.WithLogger(w.logger))
	if err != nil {
		return nil, err
	}
	_, across := w.tileGrid(level.height, level.width)
	return &tileSource{
		levelTiles: level,
		read: func(index int) (goslide.Buffer, error) {
			return codec.ReadTile(0, index/across, index%across)
		},
		close: codec.Close,
	}, nil
}

// writeTempLevel downscales 2x2 groups of tiles of prev into a temporary LZW file and
// returns a source for reading it back.
func (w *Writer) writeTempLevel(level int, prev *tileSource) (*tileSource, error) {
	path := w.tempPath(level)
	out, err := tiff.Create(path)
	if err != nil {
		return nil, err
	}
	height, width := w.height>>level, w.width>>level
	down, across := w.tileGrid(height, width)
	_, prevAcross := w.tileGrid(prev.height, prev.width)
	tiles := levelTiles{
		path:    path,
		height:  height,
		width:   width,
		offsets: make([]uint64, down*across),
		counts:  make([]uint64, down*across),
	}
	layout := w.tileLayout(tiff.CompressionLZW)

	loader := preload.NewPreloader(func(index int) ([4]goslide.Buffer, error) {
		var group [4]goslide.Buffer
		row, col := 2*(index/across), 2*(index%across)
		ypos, xpos := row*w.tileSize, col*w.tileSize
		members := [4]bool{
			true,
			xpos+w.tileSize < prev.width,
			ypos+w.tileSize < prev.height,
			xpos+w.tileSize < prev.width && ypos+w.tileSize < prev.height,
		}
		for i, ok := range members {
			src := (row+i/2)*prevAcross + col + i%2
			if !ok || prev.counts[src] == 0 {
				continue
			}
			tile, err := prev.read(src)
			if err != nil {
				return group, err
			}
			group[i] = tile
		}
		return group, nil
	}, down*across, preloadDepth)
	loader.Start()
	defer loader.Stop()

	for index := 0; ; index++ {
		group, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Join(err, out.Close())
		}
		if group == [4]goslide.Buffer{} {
			continue
		}
		tile, err := downscaleBuffer(group, w.dtype, w.tileSize, w.tileSize, w.color.samples, w.interpolation)
		if err != nil {
			return nil, errors.Join(err, out.Close())
		}
		if err := w.ranges.add(tile); err != nil {
			return nil, errors.Join(err, out.Close())
		}
		data, err := layout.Encode(tile)
		if err != nil {
			return nil, errors.Join(err, out.Close())
		}
		tiles.offsets[index], tiles.counts[index], err = out.WriteTile(data)
		if err != nil {
			return nil, errors.Join(err, out.Close())
		}
	}

	err = out.WriteDirectory(&tiff.Directory{
		Height:         height,
		Width:          width,
		TileHeight:     w.tileSize,
		TileWidth:      w.tileSize,
		Samples:        w.color.samples,
		DType:          w.dtype,
		Photometric:    w.color.photometric(tiff.CompressionLZW),
		ExtraSamples:   w.color.extraSamples(),
		Compression:    tiff.CompressionLZW,
		Spacing:        w.levelSpacing(level),
		TileOffsets:    tiles.offsets,
		TileByteCounts: tiles.counts,
	})
	if err = errors.Join(err, out.Close()); err != nil {
		return nil, err
	}
	w.tempDirs = append(w.tempDirs, tiles)
	w.logger.Debug("wrote temporary level", "level", level, "file", path, "height", height, "width", width)
	return w.openTemp(tiles)
}

// incorporate re-encodes a temporary level into the output as a reduced-resolution directory.
func (w *Writer) incorporate(level int, tiles levelTiles) error {
	src, err := w.openTemp(tiles)
	if err != nil {
		return err
	}
	defer src.Close()

	offsets := make([]uint64, len(tiles.counts))
	counts := make([]uint64, len(tiles.counts))
	for i, n := range tiles.counts {
		if n == 0 {
			continue
		}
		tile, err := src.read(i)
		if err != nil {
			return err
		}
		data, err := w.layout.Encode(tile)
		if err != nil {
			return err
		}
		if offsets[i], counts[i], err = w.out.WriteTile(data); err != nil {
			return err
		}
	}
	return w.out.WriteDirectory(&tiff.Directory{
		Reduced:        true,
		Height:         tiles.height,
		Width:          tiles.width,
		TileHeight:     w.tileSize,
		TileWidth:      w.tileSize,
		Samples:        w.color.samples,
		DType:          w.dtype,
		Photometric:    w.color.photometric(w.compression),
		ExtraSamples:   w.color.extraSamples(),
		YCbCrSubsample: w.color.subsampling(w.compression),
		Compression:    w.compression,
		Software:       software,
		Spacing:        w.levelSpacing(level),
		TileOffsets:    offsets,
		TileByteCounts: counts,
	})
}

// WriteImage declares the writer from img, unless a spacing was set, streams its level 0 in
// tiles and finishes the pyramid.
func (w *Writer) WriteImage(img *goslide.Image) error {
	if err := w.SetColor(ColorFor(img.Samples())); err != nil {
		return err
	}
	if err := w.SetDType(img.DType()); err != nil {
		return err
	}
	if w.spacing == nil {
		if sp := img.Spacing(); len(sp) == 2 && sp[0] > 0 && sp[1] > 0 {
			w.spacing = []float64{sp[0], sp[1]}
		}
	}
	shape, err := img.Shape(0)
	if err != nil {
		return err
	}
	if err := w.SetSize(shape[0], shape[1]); err != nil {
		return err
	}
	for y := 0; y < shape[0]; y += w.tileSize {
		for x := 0; x < shape[1]; x += w.tileSize {
			tile, err := img.ReadRegion(0, y, x, w.tileSize, w.tileSize)
			if err != nil {
				return err
			}
			if err := w.Append(tile); err != nil {
				return err
			}
		}
	}
	return w.Finish()
}

// Close abandons an unfinished pyramid, removing the incomplete output. It does nothing
// after Finish.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.out.Close()
	return errors.Join(err, os.Remove(w.path))
}
