package goslide

import (
	"fmt"
	"math"
	"strings"
)

// Level indexes a pyramid level; 0 is the full resolution image.
type Level int

// LevelInfo holds the pixel shape and tile shape of one pyramid level, both as
// (height, width, samples).
type LevelInfo struct {
	Shape     [3]int
	TileShape [3]int
}

func (l LevelInfo) Height() int {
	return l.Shape[0]
}

func (l LevelInfo) Width() int {
	return l.Shape[1]
}

func (l LevelInfo) Samples() int {
	return l.Shape[2]
}

// Bounds is the full pixel extent of the level.
func (l LevelInfo) Bounds(level Level) Box {
	return NewBox(0, 0, l.Shape[0], l.Shape[1], level)
}

// The number of tiles needed to cover the level vertically, including partial edge tiles.
func (l LevelInfo) TilesDown() int {
	return ceilDiv(l.Shape[0], l.TileShape[0])
}

// The number of tiles needed to cover the level horizontally, including partial edge tiles.
func (l LevelInfo) TilesAcross() int {
	return ceilDiv(l.Shape[1], l.TileShape[1])
}

func (l LevelInfo) Tiles() int {
	return l.TilesDown() * l.TilesAcross()
}

// TileIndex converts a (row, col) tile position into row-major tile order.
func (l LevelInfo) TileIndex(row, col int) int {
	return row*l.TilesAcross() + col
}

func (l LevelInfo) String() string {
	return fmt.Sprintf("%dx%dx%d (tiles %dx%d)", l.Shape[0], l.Shape[1], l.Shape[2], l.TileShape[0], l.TileShape[1])
}

// Levels is the ordered level table of an image, indexed by Level.
type Levels []LevelInfo

func (ls Levels) Has(level Level) bool {
	return level >= 0 && int(level) < len(ls)
}

func (ls Levels) Shape(level Level) ([3]int, error) {
	if !ls.Has(level) {
		return [3]int{}, fmt.Errorf("%w: %d of %d", ErrLevelOutOfRange, level, len(ls))
	}
	return ls[level].Shape, nil
}

// Scale is the integer downsampling ratio of level relative to level 0, rounded to the nearest
// integer from the level heights. It is not necessarily a power of two.
func (ls Levels) Scale(level Level) int {
	if !ls.Has(level) || ls[level].Shape[0] == 0 {
		return 1
	}
	return int(math.Round(float64(ls[0].Shape[0]) / float64(ls[level].Shape[0])))
}

func (ls Levels) Scales() []int {
	scales := make([]int, len(ls))
	for i := range ls {
		scales[i] = ls.Scale(Level(i))
	}
	return scales
}

// LevelFor picks the finest level whose scale does not exceed the requested scale, together
// with that level's actual scale. Requests at or below 1 resolve to (0, 1); requests past the
// coarsest level resolve to the coarsest level.
func (ls Levels) LevelFor(scale float64) (Level, int) {
	if len(ls) == 0 {
		return 0, 1
	}
	next := len(ls)
	for i := range ls {
		if float64(ls.Scale(Level(i))) > scale {
			next = i
			break
		}
	}
	if next == 0 {
		return 0, 1
	}
	level := Level(next - 1)
	return level, ls.Scale(level)
}

func (ls Levels) String() string {
	var sb strings.Builder
	for i, info := range ls {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%d: %s", i, info)
	}
	return sb.String()
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func floorTo(v, step int) int {
	return (v / step) * step
}

func ceilTo(v, step int) int {
	return ceilDiv(v, step) * step
}
