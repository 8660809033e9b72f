package pyramid

import (
	"fmt"
	"strings"

	"github.com/gracefulearth/goslide"
)

// Interpolation selects how a 2x2 block of pixels becomes one pixel of the next level.
type Interpolation int

const (
	Linear  Interpolation = iota // mean of the four pixels, truncated for integer samples
	Nearest                      // the top-left pixel
)

func (i Interpolation) String() string {
	switch i {
	case Linear:
		return "linear"
	case Nearest:
		return "nearest"
	default:
		return "unknown"
	}
}

func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "linear":
		return Linear, nil
	case "nearest":
		return Nearest, nil
	default:
		return Linear, fmt.Errorf("pyramid: unknown interpolation %q", s)
	}
}

// halve writes the half resolution version of src into the (oy, ox) corner of dst.
func halve[T goslide.Sample](dst, src *goslide.Array[T], oy, ox int, interp Interpolation) {
	for y := range src.H / 2 {
		top := src.Row(2 * y)
		bottom := src.Row(2*y + 1)
		out := dst.Row(oy + y)[ox*dst.S:]
		for x := range src.W / 2 {
			i := 2 * x * src.S
			j := x * dst.S
			for s := range src.S {
				if interp == Nearest {
					out[j+s] = top[i+s]
					continue
				}
				sum := float64(top[i+s])/4 + float64(top[i+src.S+s])/4 +
					float64(bottom[i+s])/4 + float64(bottom[i+src.S+s])/4
				out[j+s] = T(sum)
			}
		}
	}
}

// downscale stitches the halves of a 2x2 group of tiles, ordered top-left, top-right,
// bottom-left, bottom-right, into one tile of the same shape. Nil members are zero.
func downscale[T goslide.Sample](group [4]*goslide.Array[T], h, w, s int, interp Interpolation) *goslide.Array[T] {
	out := goslide.NewArray[T](h, w, s)
	for i, tile := range group {
		if tile == nil {
			continue
		}
		halve(out, tile, (i/2)*(h/2), (i%2)*(w/2), interp)
	}
	return out
}

// downscaleBuffer is downscale for untyped tiles of one dtype.
func downscaleBuffer(group [4]goslide.Buffer, dtype goslide.DType, h, w, s int, interp Interpolation) (goslide.Buffer, error) {
	switch dtype {
	case goslide.U8:
		return downscale(typedGroup[uint8](group), h, w, s, interp), nil
	case goslide.U16:
		return downscale(typedGroup[uint16](group), h, w, s, interp), nil
	case goslide.U32:
		return downscale(typedGroup[uint32](group), h, w, s, interp), nil
	case goslide.F32:
		return downscale(typedGroup[float32](group), h, w, s, interp), nil
	default:
		return nil, fmt.Errorf("%w: dtype %s", goslide.ErrUnsupportedFormat, dtype)
	}
}

func typedGroup[T goslide.Sample](group [4]goslide.Buffer) [4]*goslide.Array[T] {
	var typed [4]*goslide.Array[T]
	for i, tile := range group {
		if tile != nil {
			typed[i], _ = goslide.AsArray[T](tile)
		}
	}
	return typed
}

// sampleRange tracks the per-channel extremes of every tile written.
type sampleRange struct {
	min []float64
	max []float64
}

func (r *sampleRange) add(tile goslide.Buffer) error {
	return goslide.Visit(tile, goslide.VisitFuncs{
		U8:  func(a *goslide.Array[uint8]) error { return addRange(r, a) },
		U16: func(a *goslide.Array[uint16]) error { return addRange(r, a) },
		U32: func(a *goslide.Array[uint32]) error { return addRange(r, a) },
		F32: func(a *goslide.Array[float32]) error { return addRange(r, a) },
	})
}

func addRange[T goslide.Sample](r *sampleRange, a *goslide.Array[T]) error {
	if r.min == nil {
		r.min = make([]float64, a.S)
		r.max = make([]float64, a.S)
		for s := range a.S {
			r.min[s] = float64(a.Pix[s])
			r.max[s] = float64(a.Pix[s])
		}
	}
	for i := 0; i < len(a.Pix); i += a.S {
		for s := range a.S {
			v := float64(a.Pix[i+s])
			r.min[s] = min(r.min[s], v)
			r.max[s] = max(r.max[s], v)
		}
	}
	return nil
}
