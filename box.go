package goslide

import "fmt"

// Box is an axis-aligned pixel rectangle at a pyramid level. Coordinates are ordered (y, x) and
// the rectangle covers Min inclusive to Max exclusive.
type Box struct {
	Min   [2]int
	Max   [2]int
	Level Level
}

func NewBox(minY, minX, maxY, maxX int, level Level) Box {
	return Box{Min: [2]int{minY, minX}, Max: [2]int{maxY, maxX}, Level: level}
}

// Shape returns the extent of the box along dimension dim (0 for y, 1 for x).
func (b Box) Shape(dim int) int {
	return b.Max[dim] - b.Min[dim]
}

func (b Box) Height() int {
	return b.Shape(0)
}

func (b Box) Width() int {
	return b.Shape(1)
}

// Empty reports whether any extent of the box is zero or negative.
func (b Box) Empty() bool {
	return b.Shape(0) <= 0 || b.Shape(1) <= 0
}

func (b Box) Valid() bool {
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1] && b.Level >= 0
}

func (b Box) Intersects(other Box) bool {
	if b.Empty() || other.Empty() {
		return false
	}
	for dim := range 2 {
		if b.Max[dim] <= other.Min[dim] || other.Max[dim] <= b.Min[dim] {
			return false
		}
	}
	return true
}

// Intersection returns the overlap of the two boxes, tagged with the level of the receiver.
// Disjoint boxes yield the zero Box.
func (b Box) Intersection(other Box) Box {
	if !b.Intersects(other) {
		return Box{}
	}
	out := Box{Level: b.Level}
	for dim := range 2 {
		out.Min[dim] = max(b.Min[dim], other.Min[dim])
		out.Max[dim] = min(b.Max[dim], other.Max[dim])
	}
	return out
}

// FitTo clips the box to [0, shape) in each dimension. The clipped box never inverts; a box
// entirely outside the shape comes back empty.
func (b Box) FitTo(shape [2]int) Box {
	out := b
	for dim := range 2 {
		out.Min[dim] = clamp(b.Min[dim], 0, shape[dim])
		out.Max[dim] = clamp(b.Max[dim], out.Min[dim], shape[dim])
	}
	return out
}

// Translate shifts the box by (dy, dx).
func (b Box) Translate(dy, dx int) Box {
	return Box{
		Min:   [2]int{b.Min[0] + dy, b.Min[1] + dx},
		Max:   [2]int{b.Max[0] + dy, b.Max[1] + dx},
		Level: b.Level,
	}
}

func (b Box) String() string {
	return fmt.Sprintf("[(%d, %d) - (%d, %d) @ %d]", b.Min[0], b.Min[1], b.Max[0], b.Max[1], b.Level)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
