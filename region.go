package goslide

// TileFetcher returns the decoded tile at (row, col) of a level. The returned array must have
// exactly the level's tile shape; tiles extending past the level's true bounds carry padding
// that is never copied out.
type TileFetcher[T Sample] func(row, col int) (*Array[T], error)

// AssembleRegion builds the pixels of box from the tiles of a level described by info.
//
// The output always has the shape of box. The box is clipped to the level bounds, the tile grid
// covering the clipped box is walked in row-major order and the overlap of each tile with the
// clipped box is copied row by row into the output. Pixels outside the level bounds are left at
// zero.
func AssembleRegion[T Sample](box Box, info LevelInfo, fetch TileFetcher[T]) (*Array[T], error) {
	samples := info.Shape[2]
	out := NewArray[T](max(box.Height(), 0), max(box.Width(), 0), samples)

	clipped := box.FitTo([2]int{info.Shape[0], info.Shape[1]})
	if clipped.Empty() {
		return out, nil
	}

	th, tw := info.TileShape[0], info.TileShape[1]
	if th <= 0 || tw <= 0 {
		return nil, FormatError("level has an empty tile shape")
	}
	startY, endY := floorTo(clipped.Min[0], th), ceilTo(clipped.Max[0], th)
	startX, endX := floorTo(clipped.Min[1], tw), ceilTo(clipped.Max[1], tw)

	for iy := startY; iy < endY; iy += th {
		for ix := startX; ix < endX; ix += tw {
			row, col := iy/th, ix/tw
			tile, err := fetch(row, col)
			if err != nil {
				return nil, TileError{Level: box.Level, Row: row, Col: col, Err: err}
			}
			if tile.H != th || tile.W != tw || tile.S != samples {
				return nil, TileError{Level: box.Level, Row: row, Col: col, Err: SizeError{
					Want: [3]int{th, tw, samples},
					Got:  tile.Shape(),
				}}
			}
			copyOverlap(out, box, tile, NewBox(iy, ix, iy+th, ix+tw, box.Level), clipped)
		}
	}
	return out, nil
}

// copyOverlap copies the part of tile (located at tileBox) that falls inside clipped into out,
// whose origin is at the origin of box.
func copyOverlap[T Sample](out *Array[T], box Box, tile *Array[T], tileBox Box, clipped Box) {
	overlap := tileBox.Intersection(clipped)
	if overlap.Empty() {
		return
	}
	s := tile.S
	width := overlap.Width() * s
	for y := overlap.Min[0]; y < overlap.Max[0]; y++ {
		src := tile.Index(y-tileBox.Min[0], overlap.Min[1]-tileBox.Min[1])
		dst := out.Index(y-box.Min[0], overlap.Min[1]-box.Min[1])
		copy(out.Pix[dst:dst+width], tile.Pix[src:src+width])
	}
}

// ReadTiled is the Buffer-level form of AssembleRegion for codecs whose tiles are fetched as
// untyped Buffers of dtype.
func ReadTiled(box Box, info LevelInfo, dtype DType, fetch func(row, col int) (Buffer, error)) (Buffer, error) {
	switch dtype {
	case U8:
		return assembleBuffer[uint8](box, info, fetch)
	case U16:
		return assembleBuffer[uint16](box, info, fetch)
	case U32:
		return assembleBuffer[uint32](box, info, fetch)
	case F32:
		return assembleBuffer[float32](box, info, fetch)
	default:
		return nil, FormatError("cannot assemble region of dtype " + dtype.String())
	}
}

func assembleBuffer[T Sample](box Box, info LevelInfo, fetch func(row, col int) (Buffer, error)) (Buffer, error) {
	arr, err := AssembleRegion(box, info, func(row, col int) (*Array[T], error) {
		buf, err := fetch(row, col)
		if err != nil {
			return nil, err
		}
		return AsArray[T](buf)
	})
	if err != nil {
		return nil, err
	}
	return arr, nil
}
