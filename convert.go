package goslide

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// ImageToArray draws img into an 8-bit array with the requested number of samples: 1 (grey),
// 3 (RGB) or 4 (RGBA, non-premultiplied). Rows are stored top to bottom.
func ImageToArray(img image.Image, samples int) (*Array[uint8], error) {
	if samples != 1 && samples != 3 && samples != 4 {
		return nil, fmt.Errorf("%w: cannot draw an image into %d samples", ErrUnsupportedFormat, samples)
	}
	b := img.Bounds()
	out := NewArray[uint8](b.Dy(), b.Dx(), samples)

	switch src := img.(type) {
	case *image.Gray:
		if samples == 1 {
			for y := range out.H {
				i := src.PixOffset(b.Min.X, b.Min.Y+y)
				copy(out.Row(y), src.Pix[i:i+out.W])
			}
			return out, nil
		}
	case *image.YCbCr:
		for y := range out.H {
			for x := range out.W {
				yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := src.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				putRGBA(out, y, x, r, g, bl, 0xFF)
			}
		}
		return out, nil
	case *image.NRGBA:
		for y := range out.H {
			for x := range out.W {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				putRGBA(out, y, x, src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3])
			}
		}
		return out, nil
	}

	for y := range out.H {
		for x := range out.W {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			putRGBA(out, y, x, c.R, c.G, c.B, c.A)
		}
	}
	return out, nil
}

func putRGBA(out *Array[uint8], y, x int, r, g, b, a uint8) {
	px := out.Pixel(y, x)
	switch out.S {
	case 1:
		px[0] = uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
	case 3:
		px[0], px[1], px[2] = r, g, b
	default:
		px[0], px[1], px[2], px[3] = r, g, b, a
	}
}

// ImageAsBuffer converts a decoded picture into a Buffer, keeping 16-bit depth where the image
// has it. Opaque colour images become 3 samples, translucent ones 4.
func ImageAsBuffer(img image.Image) (Buffer, error) {
	b := img.Bounds()
	opaque := isOpaque(img)
	switch src := img.(type) {
	case *image.Gray:
		return ImageToArray(src, 1)
	case *image.Gray16:
		out := NewArray[uint16](b.Dy(), b.Dx(), 1)
		for y := range out.H {
			for x := range out.W {
				out.Pix[out.Index(y, x)] = src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return out, nil
	case *image.RGBA64, *image.NRGBA64:
		samples := 4
		if opaque {
			samples = 3
		}
		out := NewArray[uint16](b.Dy(), b.Dx(), samples)
		for y := range out.H {
			for x := range out.W {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				px := out.Pixel(y, x)
				px[0], px[1], px[2] = c.R, c.G, c.B
				if samples == 4 {
					px[3] = c.A
				}
			}
		}
		return out, nil
	}
	if opaque {
		return ImageToArray(img, 3)
	}
	return ImageToArray(img, 4)
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// BufferAsImage renders a buffer as an image for export. 8 and 16-bit buffers keep their
// values; single-sample 32-bit and float buffers are stretched from their min/max to 16-bit grey.
func BufferAsImage(buf Buffer) (image.Image, error) {
	shape := buf.Shape()
	rect := image.Rect(0, 0, shape[1], shape[0])
	switch arr := buf.(type) {
	case *Array[uint8]:
		switch arr.S {
		case 1:
			return &image.Gray{Pix: arr.Pix, Stride: arr.W, Rect: rect}, nil
		case 3:
			img := image.NewRGBA(rect)
			for y := range arr.H {
				for x := range arr.W {
					px := arr.Pixel(y, x)
					i := img.PixOffset(x, y)
					img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = px[0], px[1], px[2], 0xFF
				}
			}
			return img, nil
		case 4:
			return &image.NRGBA{Pix: arr.Pix, Stride: arr.W * 4, Rect: rect}, nil
		}
	case *Array[uint16]:
		switch arr.S {
		case 1:
			img := image.NewGray16(rect)
			for y := range arr.H {
				for x := range arr.W {
					img.SetGray16(x, y, color.Gray16{Y: arr.At(y, x, 0)})
				}
			}
			return img, nil
		case 3, 4:
			img := image.NewNRGBA64(rect)
			for y := range arr.H {
				for x := range arr.W {
					px := arr.Pixel(y, x)
					a := uint16(0xFFFF)
					if arr.S == 4 {
						a = px[3]
					}
					img.SetNRGBA64(x, y, color.NRGBA64{R: px[0], G: px[1], B: px[2], A: a})
				}
			}
			return img, nil
		}
	case *Array[uint32]:
		if arr.S == 1 {
			return stretchGray(arr), nil
		}
	case *Array[float32]:
		if arr.S == 1 {
			return stretchGray(arr), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot render %s buffer with %d samples", ErrUnsupportedFormat, buf.DType(), shape[2])
}

func stretchGray[T Sample](arr *Array[T]) *image.Gray16 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range arr.Pix {
		lo = math.Min(lo, float64(v))
		hi = math.Max(hi, float64(v))
	}
	span := hi - lo
	img := image.NewGray16(image.Rect(0, 0, arr.W, arr.H))
	for y := range arr.H {
		for x := range arr.W {
			var v float64
			if span > 0 {
				v = (float64(arr.At(y, x, 0)) - lo) / span * 0xFFFF
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return img
}
