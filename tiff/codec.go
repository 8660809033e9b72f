package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/goslide/tilecache"
	gtiff "github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff" // registers the BigTIFF header version with gtiff.Parse
	"golang.org/x/exp/mmap"
)

type options struct {
	logger  *slog.Logger
	cache   int
	indexed bool
}

type Option func(o *options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCache attaches a tile cache holding up to bytes of decoded tiles.
func WithCache(bytes int) Option {
	return func(o *options) {
		o.cache = bytes
	}
}

// WithIndexed accepts min-is-black directories with more than one sample per pixel, as
// written by the pyramid writer for indexed colour.
func WithIndexed() Option {
	return func(o *options) {
		o.indexed = true
	}
}

type level struct {
	info    goslide.LevelInfo
	layout  Layout
	offsets []uint64
	counts  []uint64
}

type tileKey struct {
	level    goslide.Level
	row, col int
}

// Codec reads the tiled directories of a memory-mapped TIFF file as pyramid levels. Raw tile
// reads are serialized by a per-file mutex while decoding happens outside of it, so a Codec may
// be shared between goroutines.
type Codec struct {
	path        string
	file        *mmap.ReaderAt
	order       binary.ByteOrder
	levels      []level
	dtype       goslide.DType
	samples     int
	spacing     []float64
	description string
	logger      *slog.Logger

	lock    sync.Mutex // guards backing, current and closed
	backing *io.SectionReader
	current goslide.Level
	closed  bool

	cacheLock sync.Mutex
	cache     *tilecache.LRU[tileKey, goslide.Buffer]
}

// Open maps path into memory and reads its tiled directories. Directories without tiles, such
// as the label and macro images of a slide, and transparency masks are skipped.
func Open(path string, opts ...Option) (*Codec, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	file, err := mmap.Open(path)
	if err != nil {
		return nil, goslide.OpenError{Path: path, Err: err}
	}
	c, err := newCodec(path, file, o)
	if err != nil {
		file.Close()
		return nil, err
	}
	return c, nil
}

func newCodec(path string, file *mmap.ReaderAt, o options) (*Codec, error) {
	c := &Codec{
		path:    path,
		file:    file,
		logger:  o.logger.With("path", path),
		backing: io.NewSectionReader(file, 0, int64(file.Len())),
		current: -1,
	}

	var magic [2]byte
	if _, err := file.ReadAt(magic[:], 0); err != nil {
		return nil, goslide.OpenError{Path: path, Err: err}
	}
	switch string(magic[:]) {
	case "II":
		c.order = binary.LittleEndian
	case "MM":
		c.order = binary.BigEndian
	default:
		return nil, goslide.OpenError{Path: path, Err: fmt.Errorf("bad byte order mark %q", magic[:])}
	}

	parsed, err := gtiff.Parse(c.backing, nil, nil)
	if err != nil {
		return nil, goslide.OpenError{Path: path, Err: err}
	}

	for i, ifd := range parsed.IFDs() {
		dir, err := unmarshalDirectory(ifd)
		if err != nil {
			return nil, goslide.FormatError(fmt.Sprintf("directory %d: %v", i, err))
		}
		if !dir.tiled() || dir.mask() {
			c.logger.Debug("skipping directory", "directory", i, "tiled", dir.tiled(), "subfile", dir.SubfileType)
			continue
		}
		if len(c.levels) == 0 {
			if err := dir.checkDescription(); err != nil {
				return nil, err
			}
			c.spacing = dir.spacing(ifd, c.order)
			c.description = dir.Description
		}
		layout, err := dir.layout(c.order, o.indexed)
		if err != nil {
			return nil, err
		}
		lv := level{
			info:    layout.levelInfo(&dir),
			layout:  layout,
			offsets: dir.TileOffsets,
			counts:  dir.TileByteCounts,
		}
		if len(c.levels) == 0 {
			c.dtype, c.samples = layout.DType, layout.Samples
		} else if layout.DType != c.dtype || layout.Samples != c.samples {
			return nil, goslide.FormatError(fmt.Sprintf("directory %d holds %d %s samples, level 0 holds %d %s", i, layout.Samples, layout.DType, c.samples, c.dtype))
		}
		c.levels = append(c.levels, lv)
	}
	if len(c.levels) == 0 {
		return nil, goslide.FormatError("no tiled directories")
	}
	if o.cache > 0 {
		c.cache = tilecache.New[tileKey, goslide.Buffer](o.cache)
	}
	c.logger.Debug("opened tiff", "levels", len(c.levels), "dtype", c.dtype, "samples", c.samples, "compression", c.levels[0].layout.Compression)
	return c, nil
}

func (c *Codec) DType() goslide.DType {
	return c.dtype
}

func (c *Codec) Samples() int {
	return c.samples
}

func (c *Codec) Levels() goslide.Levels {
	infos := make(goslide.Levels, len(c.levels))
	for i, lv := range c.levels {
		infos[i] = lv.info
	}
	return infos
}

// Layout returns the tile layout of a level.
func (c *Codec) Layout(lvl goslide.Level) (Layout, error) {
	if int(lvl) < 0 || int(lvl) >= len(c.levels) {
		return Layout{}, fmt.Errorf("%w: %d of %d", goslide.ErrLevelOutOfRange, lvl, len(c.levels))
	}
	return c.levels[lvl].layout, nil
}

func (c *Codec) Spacing() []float64 {
	return c.spacing
}

// Description is the ImageDescription of the first tiled directory.
func (c *Codec) Description() string {
	return c.description
}

// SetCacheCapacity resizes the tile cache, creating it on first use. A capacity of zero drops
// every cached tile.
func (c *Codec) SetCacheCapacity(bytes int) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	if c.cache == nil {
		if bytes <= 0 {
			return
		}
		c.cache = tilecache.New[tileKey, goslide.Buffer](bytes)
		return
	}
	c.cache.Resize(max(bytes, 0))
}

func (c *Codec) Read(box goslide.Box) (goslide.Buffer, error) {
	if int(box.Level) < 0 || int(box.Level) >= len(c.levels) {
		return nil, fmt.Errorf("%w: %d of %d", goslide.ErrLevelOutOfRange, box.Level, len(c.levels))
	}
	info := c.levels[box.Level].info
	return goslide.ReadTiled(box, info, c.dtype, func(row, col int) (goslide.Buffer, error) {
		return c.ReadTile(box.Level, row, col)
	})
}

// ReadTile returns the decoded tile at (row, col) of a level. Tiles with no stored bytes
// decode to zeros.
func (c *Codec) ReadTile(lvl goslide.Level, row, col int) (goslide.Buffer, error) {
	if int(lvl) < 0 || int(lvl) >= len(c.levels) {
		return nil, fmt.Errorf("%w: %d of %d", goslide.ErrLevelOutOfRange, lvl, len(c.levels))
	}
	lv := &c.levels[lvl]
	if row < 0 || col < 0 || row >= lv.info.TilesDown() || col >= lv.info.TilesAcross() {
		return nil, fmt.Errorf("%w: tile (%d, %d) outside %s", goslide.ErrInvalidBox, row, col, lv.info)
	}

	key := tileKey{lvl, row, col}
	if tile, ok := c.cached(key); ok {
		return tile, nil
	}
	raw, err := c.readRaw(lvl, lv.info.TileIndex(row, col))
	if err != nil {
		return nil, err
	}
	tile, err := lv.layout.Decode(raw)
	if err != nil {
		return nil, err
	}
	c.store(key, tile)
	return tile, nil
}

func (c *Codec) cached(key tileKey) (goslide.Buffer, bool) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	if c.cache == nil {
		return nil, false
	}
	tile, ok := c.cache.Get(key)
	if ok {
		c.logger.Debug("tile cache hit", "level", key.level, "row", key.row, "col", key.col)
	}
	return tile, ok
}

func (c *Codec) store(key tileKey, tile goslide.Buffer) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	if c.cache != nil {
		c.cache.Set(key, tile)
	}
}

// readRaw selects the level's directory and reads the stored bytes of one tile.
func (c *Codec) readRaw(lvl goslide.Level, index int) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, goslide.ErrClosed
	}
	if c.current != lvl {
		c.logger.Debug("selecting directory", "level", lvl)
		c.current = lvl
	}
	lv := &c.levels[lvl]
	offset, count := lv.offsets[index], lv.counts[index]
	if count == 0 {
		return nil, nil
	}
	if offset+count > uint64(c.file.Len()) {
		return nil, goslide.FormatError(fmt.Sprintf("tile %d of level %d ends at %d, past the end of the file", index, lvl, offset+count))
	}
	if _, err := c.backing.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	raw := make([]byte, count)
	if _, err := io.ReadFull(c.backing, raw); err != nil {
		return nil, fmt.Errorf("tiff: reading tile %d of level %d: %w", index, lvl, err)
	}
	return raw, nil
}

// Close unmaps the file. It is safe to call more than once.
func (c *Codec) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cacheLock.Lock()
	if c.cache != nil {
		c.cache.Clear()
	}
	c.cacheLock.Unlock()
	return c.file.Close()
}
